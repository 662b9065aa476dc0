package provision

import (
	goerrors "github.com/goliatone/go-errors"
)

// Stable text codes surfaced to callers on structured errors. The facade
// maps these to result statuses; they never change across provider versions.
const (
	TextCodeValidation            = "VALIDATION_ERROR"
	TextCodeDuplicateAccount      = "DUPLICATE_ACCOUNT"
	TextCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	TextCodeAuthProvider          = "AUTH_PROVIDER_ERROR"
	TextCodeStoreUnavailable      = "STORE_UNAVAILABLE"
	TextCodeProfileMissing        = "PROFILE_MISSING"
	TextCodeProfileCreation       = "PROFILE_CREATION_FAILED"
	TextCodeCodeMismatch          = "CODE_MISMATCH"
	TextCodeChallengeExpired      = "CHALLENGE_EXPIRED"
	TextCodeLoginExhausted        = "VERIFICATION_LOGIN_EXHAUSTED"
	TextCodeNotificationFailed    = "NOTIFICATION_FAILED"
	TextCodeResetTokenInvalid     = "RESET_TOKEN_INVALID"
	TextCodeInvalidStateChange    = "INVALID_CHALLENGE_TRANSITION"
	TextCodeAccountCodeConflict   = "ACCOUNT_CODE_CONFLICT"
	TextCodeProfileSuspended      = "PROFILE_SUSPENDED"
	TextCodeNotificationUndefined = "NOTIFICATION_GATEWAY_MISSING"
)

// ErrDuplicateAccount a profile already exists for the email; registration is
// terminal, no identity or profile was created.
var ErrDuplicateAccount = goerrors.New("an account with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateAccount).
	WithCode(goerrors.CodeConflict)

// ErrInvalidCredentials the provider rejected the email/password pair
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials)

// ErrProfileMissing the identity exists but no profile does; data-integrity
// condition, not retried automatically.
var ErrProfileMissing = goerrors.New("no profile exists for this account", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProfileMissing).
	WithCode(goerrors.CodeNotFound)

// ErrCodeMismatch the submitted verification code does not match any live
// challenge; user-correctable.
var ErrCodeMismatch = goerrors.New("verification code does not match", goerrors.CategoryValidation).
	WithTextCode(TextCodeCodeMismatch)

// ErrChallengeExpired no live challenge exists for the email and purpose
var ErrChallengeExpired = goerrors.New("verification code has expired, request a new one", goerrors.CategoryValidation).
	WithTextCode(TextCodeChallengeExpired)

// ErrResetTokenInvalid the reset token is unknown, expired, or already used
var ErrResetTokenInvalid = goerrors.New("password reset link is invalid or has expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeResetTokenInvalid)

// ErrProfileSuspended the profile exists but is suspended
var ErrProfileSuspended = goerrors.New("account is suspended", goerrors.CategoryAuth).
	WithTextCode(TextCodeProfileSuspended)

// ErrNoEmptyString password material must not be empty
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation)

// ErrMismatchedHashAndPassword cleartext does not match the stored hash
var ErrMismatchedHashAndPassword = goerrors.New("invalid login credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials)

// ErrTooManyLoginAttempts the cooldown window is still in force
var ErrTooManyLoginAttempts = goerrors.New("too many login attempts, retry later", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials)

// detail returns a fresh copy of a sentinel decorated with call-site
// metadata. The sentinels are shared package state; decorating them in
// place would leak one caller's metadata into every other caller's error.
func detail(sentinel *goerrors.Error, meta map[string]any) *goerrors.Error {
	return goerrors.New(sentinel.Message, sentinel.Category).
		WithTextCode(sentinel.TextCode).
		WithCode(sentinel.Code).
		WithMetadata(meta)
}

// HasTextCode reports whether err carries the given stable text code.
func HasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// wrapStoreError tags database failures distinctly from domain errors so
// workflows can decide whether to compensate.
func wrapStoreError(err error, msg string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithTextCode(TextCodeStoreUnavailable)
}
