package provision

// OutcomeStatus is the stable tag every workflow entry point returns. UI
// collaborators branch on these for flow control; the alternate-outcome tags
// (needs_*) are redirects to another workflow, not errors.
type OutcomeStatus = string

const (
	OutcomeRegistered              OutcomeStatus = "registered"
	OutcomeVerificationRequired    OutcomeStatus = "verification_required"
	OutcomeLoginSucceeded          OutcomeStatus = "login_succeeded"
	OutcomeNeedsEmailConfirmation  OutcomeStatus = "needs_email_confirmation"
	OutcomeNeedsPasswordReset      OutcomeStatus = "needs_password_reset"
	OutcomeNeedsRegistration       OutcomeStatus = "needs_registration"
	OutcomeInvalidCredentials      OutcomeStatus = "invalid_credentials"
	OutcomeCodeMismatch            OutcomeStatus = "code_mismatch"
	OutcomeVerificationLoginFailed OutcomeStatus = "verification_succeeded_login_failed"
	OutcomeVerificationSent        OutcomeStatus = "verification_sent"
	OutcomeVerificationUndelivered OutcomeStatus = "verification_undelivered"
	OutcomeResetRequested          OutcomeStatus = "reset_requested"
	OutcomePasswordChanged         OutcomeStatus = "password_changed"
	OutcomeError                   OutcomeStatus = "error"
)
