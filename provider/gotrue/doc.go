// Package gotrue adapts a GoTrue-compatible authentication service
// (Supabase Auth and friends) to the provision.IdentityStore interface.
//
// The adapter preserves the provider's error text verbatim so the
// classifier in the core package can map it to stable failure kinds.
// Administrative operations (confirm email, update password, delete)
// go through the /admin/users endpoints and require a service-role key.
package gotrue
