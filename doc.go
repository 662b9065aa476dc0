// Package provision implements the account-provisioning and
// identity-reconciliation core of a trade platform: registering buyers and
// suppliers, keeping application profiles in step with an external identity
// provider, verifying email ownership with server-held one-time codes, and
// recovering from partial failures across the two stores.
//
// Workflows:
//   - RegisterAccountHandler validates input, creates the identity and the
//     profile, and compensates (deletes the identity) when profile creation
//     fails so no orphaned account survives a partial registration.
//   - LoginHandler classifies provider failures into stable outcomes,
//     self-heals missing bootstrap-administrator profiles, and pushes the
//     provider's email-confirmed flag into the profile on every login.
//   - VerificationHandler issues, resends, and checks six-digit codes, then
//     confirms the identity's email and retries sign-in with a bounded
//     progressive backoff to absorb provider propagation delay.
//
// Cross-store consistency is enforced with compensating actions, never
// distributed transactions. Compensation is best-effort: failures are logged
// and emitted to the ActivitySink for manual repair, they never mask the
// primary error the caller already has to handle.
//
// The Accounts facade is the only surface UI collaborators consume; every
// entry point returns a result with a stable Status tag plus a human-readable
// message, raw provider errors are classified and never leak past it.
package provision
