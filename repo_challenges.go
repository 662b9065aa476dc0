package provision

import (
	"context"
	"database/sql"
	"errors"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerificationChallenges holds the server side of email verification codes.
// Codes are single-use and expiring; issuing a new code for the same
// (email, purpose) key does not invalidate codes already in flight.
type VerificationChallenges interface {
	repository.Repository[*VerificationChallenge]

	Issue(ctx context.Context, email, fullName string, purpose ChallengePurpose, code string, ttl time.Duration) (*VerificationChallenge, error)
	Consume(ctx context.Context, email string, purpose ChallengePurpose, code string) (*VerificationChallenge, error)
	UpdateState(ctx context.Context, id uuid.UUID, state ChallengeState) error
	PurgeExpired(ctx context.Context) (int, error)
}

type verificationChallenges struct {
	repository.Repository[*VerificationChallenge]
	db  *bun.DB
	now func() time.Time
}

var _ VerificationChallenges = (*verificationChallenges)(nil)

// ChallengesOption customizes the challenge store.
type ChallengesOption func(*verificationChallenges)

// WithChallengesClock injects a custom clock (useful for tests).
func WithChallengesClock(clock func() time.Time) ChallengesOption {
	return func(c *verificationChallenges) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewVerificationChallengesRepository builds the challenge store.
func NewVerificationChallengesRepository(db *bun.DB, opts ...ChallengesOption) VerificationChallenges {
	repo := repository.NewRepository[*VerificationChallenge](db, repository.ModelHandlers[*VerificationChallenge]{
		NewRecord: func() *VerificationChallenge { return &VerificationChallenge{} },
		GetID: func(c *VerificationChallenge) uuid.UUID {
			if c == nil {
				return uuid.Nil
			}
			return c.ID
		},
		SetID: func(c *VerificationChallenge, id uuid.UUID) {
			if c != nil {
				c.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	challenges := &verificationChallenges{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(challenges)
		}
	}

	return challenges
}

func (c *verificationChallenges) Issue(ctx context.Context, email, fullName string, purpose ChallengePurpose, code string, ttl time.Duration) (*VerificationChallenge, error) {
	record := &VerificationChallenge{
		ID:        uuid.New(),
		Email:     NormalizeEmail(email),
		FullName:  fullName,
		Purpose:   purpose,
		Code:      code,
		State:     ChallengeIssued,
		ExpiresAt: c.now().Add(ttl),
	}

	created, err := c.Repository.CreateTx(ctx, c.db, record)
	if err != nil {
		return nil, wrapStoreError(err, "failed to persist verification challenge")
	}

	return created, nil
}

// Consume checks the submitted code against every live challenge for the
// key, newest first, and marks the match consumed. A present-but-wrong code
// is a mismatch; no live challenge at all means the code expired.
func (c *verificationChallenges) Consume(ctx context.Context, email string, purpose ChallengePurpose, code string) (*VerificationChallenge, error) {
	now := c.now()

	var live []*VerificationChallenge
	err := c.db.NewSelect().
		Model(&live).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Where("?TableAlias.purpose = ?", purpose).
		Where("?TableAlias.consumed_at IS NULL").
		Where("?TableAlias.expires_at > ?", now).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, wrapStoreError(err, "failed to load verification challenges")
	}

	if len(live) == 0 {
		return nil, detail(ErrChallengeExpired, map[string]any{
			"email":   email,
			"purpose": purpose,
		})
	}

	for _, challenge := range live {
		if challenge.Code != code {
			continue
		}

		challenge.State = ChallengeMatched
		challenge.ConsumedAt = &now
		_, err := c.db.NewUpdate().
			Model((*VerificationChallenge)(nil)).
			Set("state = ?", ChallengeMatched).
			Set("consumed_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", challenge.ID).
			Exec(ctx)
		if err != nil {
			return nil, wrapStoreError(err, "failed to consume verification challenge")
		}

		return challenge, nil
	}

	// Record the mismatch on the newest challenge for audit; the challenge
	// itself stays live so the user can resubmit.
	newest := live[0]
	if _, err := c.db.NewUpdate().
		Model((*VerificationChallenge)(nil)).
		Set("state = ?", ChallengeMismatched).
		Set("updated_at = ?", now).
		Where("id = ?", newest.ID).
		Exec(ctx); err != nil {
		return nil, wrapStoreError(err, "failed to record verification mismatch")
	}

	return nil, detail(ErrCodeMismatch, map[string]any{
		"email":   email,
		"purpose": purpose,
	})
}

func (c *verificationChallenges) UpdateState(ctx context.Context, id uuid.UUID, state ChallengeState) error {
	_, err := c.db.NewUpdate().
		Model((*VerificationChallenge)(nil)).
		Set("state = ?", state).
		Set("updated_at = ?", c.now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return wrapStoreError(err, "failed to update challenge state")
	}
	return nil
}

func (c *verificationChallenges) PurgeExpired(ctx context.Context) (int, error) {
	res, err := c.db.NewDelete().
		Model((*VerificationChallenge)(nil)).
		Where("?TableAlias.expires_at <= ?", c.now()).
		Exec(ctx)
	if err != nil {
		return 0, wrapStoreError(err, "failed to purge expired challenges")
	}

	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// PasswordResets manages single-use password reset tokens.
type PasswordResets interface {
	repository.Repository[*PasswordReset]

	IssueToken(ctx context.Context, email string, profileID *uuid.UUID, ttl time.Duration) (*PasswordReset, error)
	CheckToken(ctx context.Context, token uuid.UUID, email string) (*PasswordReset, error)
	ConsumeToken(ctx context.Context, token uuid.UUID, email string) (*PasswordReset, error)
}

type passwordResets struct {
	repository.Repository[*PasswordReset]
	db  *bun.DB
	now func() time.Time
}

var _ PasswordResets = (*passwordResets)(nil)

// NewPasswordResetsRepository builds the reset token store.
func NewPasswordResetsRepository(db *bun.DB) PasswordResets {
	repo := repository.NewRepository[*PasswordReset](db, repository.ModelHandlers[*PasswordReset]{
		NewRecord: func() *PasswordReset { return &PasswordReset{} },
		GetID: func(r *PasswordReset) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *PasswordReset, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &passwordResets{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

func (r *passwordResets) IssueToken(ctx context.Context, email string, profileID *uuid.UUID, ttl time.Duration) (*PasswordReset, error) {
	record := &PasswordReset{
		ID:        uuid.New(),
		ProfileID: profileID,
		Email:     NormalizeEmail(email),
		Status:    ResetRequestedStatus,
		ExpiresAt: r.now().Add(ttl),
	}

	created, err := r.Repository.CreateTx(ctx, r.db, record)
	if err != nil {
		return nil, wrapStoreError(err, "failed to persist password reset token")
	}

	return created, nil
}

// CheckToken validates freshness, single-use status, and the email binding
// without consuming the token, so callers can perform the password write
// first and only burn the link once it succeeded.
func (r *passwordResets) CheckToken(ctx context.Context, token uuid.UUID, email string) (*PasswordReset, error) {
	record := &PasswordReset{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", token).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, detail(ErrResetTokenInvalid, map[string]any{"token": token.String()})
		}
		return nil, wrapStoreError(err, "failed to load password reset token")
	}

	now := r.now()

	if record.Status != ResetRequestedStatus {
		return nil, detail(ErrResetTokenInvalid, map[string]any{"status": record.Status})
	}

	if record.Email != NormalizeEmail(email) {
		return nil, detail(ErrResetTokenInvalid, map[string]any{"reason": "email mismatch"})
	}

	if now.After(record.ExpiresAt) {
		if _, err := r.db.NewUpdate().
			Model((*PasswordReset)(nil)).
			Set("status = ?", ResetExpiredStatus).
			Set("updated_at = ?", now).
			Where("id = ?", token).
			Exec(ctx); err != nil {
			return nil, wrapStoreError(err, "failed to expire password reset token")
		}
		return nil, detail(ErrResetTokenInvalid, map[string]any{"reason": "expired"})
	}

	return record, nil
}

// ConsumeToken validates the token and marks it changed. The status guard
// on the update keeps it single-use under concurrent confirmations.
func (r *passwordResets) ConsumeToken(ctx context.Context, token uuid.UUID, email string) (*PasswordReset, error) {
	record, err := r.CheckToken(ctx, token, email)
	if err != nil {
		return nil, err
	}

	now := r.now()
	res, err := r.db.NewUpdate().
		Model((*PasswordReset)(nil)).
		Set("status = ?", ResetChangedStatus).
		Set("consumed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", token).
		Where("status = ?", ResetRequestedStatus).
		Exec(ctx)
	if err != nil {
		return nil, wrapStoreError(err, "failed to consume password reset token")
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, detail(ErrResetTokenInvalid, map[string]any{"reason": "already used"})
	}

	record.Status = ResetChangedStatus
	record.ConsumedAt = &now
	return record, nil
}
