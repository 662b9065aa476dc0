package localauth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/tradecore/provision"
)

// MaxLoginAttempts is the maximum number of failed attempts in a period.
var MaxLoginAttempts = 5

// CoolDownPeriod is the window in which the attempt counter applies.
var CoolDownPeriod = "24h"

// Identity is the embedded provider's account record.
type Identity struct {
	bun.BaseModel `bun:"table:local_identities,alias:lid"`

	ID             uuid.UUID      `bun:"id,pk,notnull"`
	Email          string         `bun:"email,notnull,unique"`
	PasswordHash   string         `bun:"password_hash,notnull"`
	EmailConfirmed bool           `bun:"email_confirmed"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,nullzero"`
	LoginAttempts  int            `bun:"login_attempts"`
	LoginAttemptAt *time.Time     `bun:"login_attempt_at,nullzero"`
	CreatedAt      time.Time      `bun:"created_at,notnull"`
	UpdatedAt      time.Time      `bun:"updated_at,notnull"`
}

// IdentityStore implements provision.IdentityStore on a local table.
type IdentityStore struct {
	db     *bun.DB
	logger provision.Logger

	// RequireConfirmation makes SignIn reject unconfirmed accounts the
	// way hosted providers do. Off by default for development.
	RequireConfirmation bool
}

var _ provision.IdentityStore = (*IdentityStore)(nil)

// Option customizes the store.
type Option func(*IdentityStore)

// WithLogger overrides the default logger.
func WithLogger(l provision.Logger) Option {
	return func(s *IdentityStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConfirmationRequired makes unconfirmed accounts unable to sign in.
func WithConfirmationRequired() Option {
	return func(s *IdentityStore) {
		s.RequireConfirmation = true
	}
}

// New builds the embedded identity store.
func New(db *bun.DB, opts ...Option) *IdentityStore {
	s := &IdentityStore{
		db:     db,
		logger: provision.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func toAccount(rec *Identity) *provision.Account {
	return &provision.Account{
		ID:             rec.ID.String(),
		Email:          rec.Email,
		EmailConfirmed: rec.EmailConfirmed,
		CreatedAt:      rec.CreatedAt,
		Metadata:       rec.Metadata,
	}
}

// SignUp creates a new identity with a bcrypt password hash.
func (s *IdentityStore) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*provision.Account, error) {
	email = provision.NormalizeEmail(email)

	exists, err := s.db.NewSelect().
		Model((*Identity)(nil)).
		Where("?TableAlias.email = ?", email).
		Exists(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check identity")
	}
	if exists {
		return nil, goerrors.New("user already registered", goerrors.CategoryConflict)
	}

	hash, err := provision.HashPassword(password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	now := time.Now()
	rec := &Identity{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.db.NewInsert().Model(rec).Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create identity")
	}

	return toAccount(rec), nil
}

// SignIn verifies the password and returns an opaque session token.
func (s *IdentityStore) SignIn(ctx context.Context, email, password string) (*provision.ProviderSession, error) {
	rec, err := s.getByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerrors.New("invalid login credentials", goerrors.CategoryAuth)
		}
		return nil, err
	}

	if rec.LoginAttemptAt != nil {
		expired, err := provision.IsOutsideThresholdPeriod(*rec.LoginAttemptAt, CoolDownPeriod)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to calculate login cooldown")
		}
		if expired {
			rec.LoginAttempts = 0
		}
	}

	if rec.LoginAttempts > MaxLoginAttempts {
		return nil, goerrors.New("too many requests, try again later", goerrors.CategoryRateLimit)
	}

	if err := provision.ComparePasswordAndHash(password, rec.PasswordHash); err != nil {
		if err := s.trackAttempt(ctx, rec); err != nil {
			s.logger.Error("failed to track login attempt for %s: %v", rec.Email, err)
		}
		return nil, goerrors.New("invalid login credentials", goerrors.CategoryAuth)
	}

	if s.RequireConfirmation && !rec.EmailConfirmed {
		return nil, goerrors.New("email not confirmed", goerrors.CategoryAuth)
	}

	if err := s.resetAttempts(ctx, rec); err != nil {
		s.logger.Error("failed to reset login attempts for %s: %v", rec.Email, err)
	}

	return &provision.ProviderSession{
		Account:     toAccount(rec),
		AccessToken: uuid.NewString(),
	}, nil
}

// SignOut is a no-op; sessions are opaque and stateless here.
func (s *IdentityStore) SignOut(ctx context.Context) error {
	return nil
}

// ConfirmEmail marks the identity's email as confirmed.
func (s *IdentityStore) ConfirmEmail(ctx context.Context, accountID string) error {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return goerrors.New("user not found", goerrors.CategoryNotFound)
	}

	res, err := s.db.NewUpdate().
		Model((*Identity)(nil)).
		Set("email_confirmed = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm email")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerrors.New("user not found", goerrors.CategoryNotFound)
	}
	return nil
}

// ResetPasswordForEmail is a no-op locally; there is no mailer behind
// this provider. The caller's own notification path covers delivery.
func (s *IdentityStore) ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error {
	if _, err := s.getByEmail(ctx, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Hosted providers answer generically here as well.
			return nil
		}
		return err
	}
	return nil
}

// UpdatePassword rehashes and stores the new password.
func (s *IdentityStore) UpdatePassword(ctx context.Context, accountID, newPassword string) error {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return goerrors.New("user not found", goerrors.CategoryNotFound)
	}

	hash, err := provision.HashPassword(newPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	res, err := s.db.NewUpdate().
		Model((*Identity)(nil)).
		Set("password_hash = ?", hash).
		Set("login_attempts = ?", 0).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerrors.New("user not found", goerrors.CategoryNotFound)
	}
	return nil
}

// GetAccountByEmail loads the identity record for the email.
func (s *IdentityStore) GetAccountByEmail(ctx context.Context, email string) (*provision.Account, error) {
	rec, err := s.getByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerrors.New("user not found", goerrors.CategoryNotFound)
		}
		return nil, err
	}
	return toAccount(rec), nil
}

// DeleteAccount removes the identity record.
func (s *IdentityStore) DeleteAccount(ctx context.Context, accountID string) error {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return goerrors.New("user not found", goerrors.CategoryNotFound)
	}

	if _, err := s.db.NewDelete().
		Model((*Identity)(nil)).
		Where("id = ?", id).
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete identity")
	}
	return nil
}

func (s *IdentityStore) getByEmail(ctx context.Context, email string) (*Identity, error) {
	rec := &Identity{}
	err := s.db.NewSelect().
		Model(rec).
		Where("?TableAlias.email = ?", provision.NormalizeEmail(email)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load identity")
	}
	return rec, nil
}

func (s *IdentityStore) trackAttempt(ctx context.Context, rec *Identity) error {
	now := time.Now()
	_, err := s.db.NewUpdate().
		Model((*Identity)(nil)).
		Set("login_attempts = ?", rec.LoginAttempts+1).
		Set("login_attempt_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", rec.ID).
		Exec(ctx)
	return err
}

func (s *IdentityStore) resetAttempts(ctx context.Context, rec *Identity) error {
	if rec.LoginAttempts == 0 && rec.LoginAttemptAt == nil {
		return nil
	}
	now := time.Now()
	_, err := s.db.NewUpdate().
		Model((*Identity)(nil)).
		Set("login_attempts = ?", 0).
		Set("login_attempt_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", rec.ID).
		Exec(ctx)
	return err
}
