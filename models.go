package provision

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProfileRole is the role a profile plays on the platform
type ProfileRole = string

const (
	// RoleBuyer purchases through the platform
	RoleBuyer ProfileRole = "buyer"
	// RoleSupplier sells through the platform
	RoleSupplier ProfileRole = "supplier"
	// RoleAdmin administers the platform
	RoleAdmin ProfileRole = "admin"
)

// IsValid checks the role is one of the predefined valid roles
func IsValidRole(r ProfileRole) bool {
	switch r {
	case RoleBuyer, RoleSupplier, RoleAdmin:
		return true
	default:
		return false
	}
}

// SupplierStatus is the supplier vetting sub-status. Only meaningful when the
// profile role is supplier.
type SupplierStatus = string

const (
	SupplierPendingVerification SupplierStatus = "pending_verification"
	SupplierVerified            SupplierStatus = "verified"
	SupplierTrusted             SupplierStatus = "trusted"
	SupplierBlacklisted         SupplierStatus = "blacklisted"
	SupplierRequestDetails      SupplierStatus = "request_details"
)

// ProfileStatus is the account-level status
type ProfileStatus = string

const (
	ProfileStatusActive    ProfileStatus = "active"
	ProfileStatusSuspended ProfileStatus = "suspended"
)

// Verification methods recorded on the profile. Free-form tag describing how
// the email ended up verified.
const (
	VerificationPending       = "pending"
	VerificationCodeEmail     = "email_code"
	VerificationProviderEmail = "provider_email"
	VerificationBootstrap     = "bootstrap"
)

// Profile is the application-side user record, logically 1:1 with the
// provider Account via ID. The relationship is reconciled at read time, not
// enforced with a foreign key.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`

	ID                 uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountCode        string         `bun:"user_id,notnull" json:"user_id,omitempty"`
	Email              string         `bun:"email,notnull" json:"email,omitempty"`
	FullName           string         `bun:"full_name,notnull" json:"full_name,omitempty"`
	Phone              string         `bun:"phone" json:"phone,omitempty"`
	CompanyName        string         `bun:"company_name" json:"company_name,omitempty"`
	Role               ProfileRole    `bun:"role,notnull" json:"role,omitempty"`
	SupplierStatus     SupplierStatus `bun:"supplier_status,nullzero" json:"supplier_status,omitempty"`
	BusinessLicense    string         `bun:"business_license" json:"business_license,omitempty"`
	Address            string         `bun:"address" json:"address,omitempty"`
	Status             ProfileStatus  `bun:"status,notnull" json:"status,omitempty"`
	EmailVerified      bool           `bun:"email_verified" json:"email_verified,omitempty"`
	VerificationMethod string         `bun:"verification_method" json:"verification_method,omitempty"`
	CreatedAt          *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt          *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt          *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// IsSupplier reports whether this profile sells through the platform
func (p *Profile) IsSupplier() bool {
	return p != nil && p.Role == RoleSupplier
}

// IsAdmin reports whether this profile administers the platform
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// EnsureStatus backfills the zero value with the active status
func (p *Profile) EnsureStatus() {
	if p.Status == "" {
		p.Status = ProfileStatusActive
	}
}

// EnsureSupplierStatus enforces the invariant that supplier_status is
// non-empty iff the role is supplier.
func (p *Profile) EnsureSupplierStatus() {
	if p.Role == RoleSupplier {
		if p.SupplierStatus == "" {
			p.SupplierStatus = SupplierPendingVerification
		}
		return
	}
	p.SupplierStatus = ""
}

// ChallengePurpose tags what a verification code is for
type ChallengePurpose = string

const (
	PurposeSignup ChallengePurpose = "signup"
	PurposeLogin  ChallengePurpose = "login"
)

// ChallengeState tracks a verification challenge through its lifecycle
type ChallengeState = string

const (
	ChallengeIssued         ChallengeState = "issued"
	ChallengeMatched        ChallengeState = "matched"
	ChallengeMismatched     ChallengeState = "mismatched"
	ChallengeEmailConfirmed ChallengeState = "email_confirmed"
	ChallengeLoginRetrying  ChallengeState = "login_retrying"
	ChallengeLoginSucceeded ChallengeState = "login_succeeded"
	ChallengeLoginExhausted ChallengeState = "login_exhausted"
)

// VerificationChallenge is a server-held, single-use, expiring email code.
// A resend issues a new row; older unconsumed rows stay checkable until they
// expire so a code already in flight is never invalidated by a resend.
type VerificationChallenge struct {
	bun.BaseModel `bun:"table:verification_challenges,alias:vch"`

	ID         uuid.UUID        `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email      string           `bun:"email,notnull" json:"email,omitempty"`
	FullName   string           `bun:"full_name" json:"full_name,omitempty"`
	Purpose    ChallengePurpose `bun:"purpose,notnull" json:"purpose,omitempty"`
	Code       string           `bun:"code,notnull" json:"-"`
	State      ChallengeState   `bun:"state,notnull" json:"state,omitempty"`
	ExpiresAt  time.Time        `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	ConsumedAt *time.Time       `bun:"consumed_at,nullzero" json:"consumed_at,omitempty"`
	CreatedAt  *time.Time       `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt  *time.Time       `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsExpired reports whether the challenge can no longer be consumed
func (c *VerificationChallenge) IsExpired(now time.Time) bool {
	return c == nil || now.After(c.ExpiresAt)
}

// Password reset statuses
const (
	ResetRequestedStatus = "requested"
	ResetChangedStatus   = "changed"
	ResetExpiredStatus   = "expired"
)

// PasswordReset is a single-use reset token. The row ID doubles as the token
// handed to the user; bootstrap administrators get a longer expiry.
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_resets,alias:pwdr"`

	ID         uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	ProfileID  *uuid.UUID `bun:"profile_id" json:"profile_id,omitempty"`
	Email      string     `bun:"email,notnull" json:"email,omitempty"`
	Status     string     `bun:"status,notnull" json:"status,omitempty"`
	ExpiresAt  time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	ConsumedAt *time.Time `bun:"consumed_at,nullzero" json:"consumed_at,omitempty"`
	CreatedAt  *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt  *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt  *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// NormalizeEmail lowercases and trims an email address. Every workflow entry
// point normalizes before any store lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
