package provision

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Account is the identity provider's view of a user. The provider owns the
// password hash and the email-confirmed flag; we only correlate by ID.
type Account struct {
	ID             string
	Email          string
	EmailConfirmed bool
	CreatedAt      time.Time
	Metadata       map[string]any
}

// ProviderSession is what a successful provider sign-in hands back.
type ProviderSession struct {
	Account     *Account
	AccessToken string
}

// IdentityStore abstracts the external authentication provider. All
// implementations must apply a request timeout; no call may block past the
// collaborator boundary.
type IdentityStore interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Account, error)
	SignIn(ctx context.Context, email, password string) (*ProviderSession, error)
	SignOut(ctx context.Context) error
	ConfirmEmail(ctx context.Context, accountID string) error
	ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error
	UpdatePassword(ctx context.Context, accountID, newPassword string) error
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	DeleteAccount(ctx context.Context, accountID string) error
}

// NotificationGateway abstracts the transactional email service. Send
// failures must be surfaced to the caller so the UI can fall back to manual
// delivery; see ManualFallbackText.
type NotificationGateway interface {
	SendVerificationCode(ctx context.Context, email, name, code string, purpose ChallengePurpose) error
	SendTemplated(ctx context.Context, email, subject, body string) error
}

// Config holds provisioning options. Bootstrap administrator emails are the
// single injected allow-list; workflows never compare against literals.
type Config interface {
	GetBootstrapAdminEmails() []string
	GetVerificationCodeTTL() time.Duration
	GetResetTokenTTL() time.Duration
	GetBootstrapResetTokenTTL() time.Duration
	GetLoginRetryAttempts() int
	GetLoginRetryDelays() []time.Duration
	GetPasswordResetURL() string
	GetSigningKey() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
}

// SimpleConfig is a plain struct Config for callers that do not bring their
// own configuration layer.
type SimpleConfig struct {
	BootstrapAdminEmails   []string
	VerificationCodeTTL    time.Duration
	ResetTokenTTL          time.Duration
	BootstrapResetTokenTTL time.Duration
	LoginRetryAttempts     int
	LoginRetryDelays       []time.Duration
	PasswordResetURL       string
	SigningKey             string
	TokenExpiration        int
	Issuer                 string
	Audience               []string
}

// NewConfig returns a SimpleConfig populated with production defaults.
func NewConfig() *SimpleConfig {
	return &SimpleConfig{
		VerificationCodeTTL:    10 * time.Minute,
		ResetTokenTTL:          time.Hour,
		BootstrapResetTokenTTL: 7 * 24 * time.Hour,
		LoginRetryAttempts:     4,
		LoginRetryDelays:       []time.Duration{time.Second, 3 * time.Second, 5 * time.Second, 8 * time.Second},
		TokenExpiration:        72,
		Issuer:                 "provision",
	}
}

func (c *SimpleConfig) GetBootstrapAdminEmails() []string { return c.BootstrapAdminEmails }

func (c *SimpleConfig) GetVerificationCodeTTL() time.Duration {
	if c.VerificationCodeTTL <= 0 {
		return 10 * time.Minute
	}
	return c.VerificationCodeTTL
}

func (c *SimpleConfig) GetResetTokenTTL() time.Duration {
	if c.ResetTokenTTL <= 0 {
		return time.Hour
	}
	return c.ResetTokenTTL
}

func (c *SimpleConfig) GetBootstrapResetTokenTTL() time.Duration {
	if c.BootstrapResetTokenTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.BootstrapResetTokenTTL
}

func (c *SimpleConfig) GetLoginRetryAttempts() int {
	if c.LoginRetryAttempts <= 0 {
		return 4
	}
	return c.LoginRetryAttempts
}

func (c *SimpleConfig) GetLoginRetryDelays() []time.Duration {
	if len(c.LoginRetryDelays) == 0 {
		return []time.Duration{time.Second, 3 * time.Second, 5 * time.Second, 8 * time.Second}
	}
	return c.LoginRetryDelays
}

func (c *SimpleConfig) GetPasswordResetURL() string { return c.PasswordResetURL }
func (c *SimpleConfig) GetSigningKey() string       { return c.SigningKey }
func (c *SimpleConfig) GetTokenExpiration() int     { return c.TokenExpiration }
func (c *SimpleConfig) GetIssuer() string           { return c.Issuer }
func (c *SimpleConfig) GetAudience() []string       { return c.Audience }

// IsBootstrapAdmin reports whether the (already normalized) email is on the
// bootstrap administrator allow-list.
func IsBootstrapAdmin(cfg Config, email string) bool {
	if cfg == nil {
		return false
	}
	for _, candidate := range cfg.GetBootstrapAdminEmails() {
		if NormalizeEmail(candidate) == email {
			return true
		}
	}
	return false
}

// DefaultLogger returns the stdout logger used when no Logger is injected.
func DefaultLogger() Logger { return defLogger{} }

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] PROVISION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] PROVISION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] PROVISION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] PROVISION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
