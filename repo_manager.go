package provision

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Profiles() Profiles
	VerificationChallenges() VerificationChallenges
	PasswordResets() PasswordResets
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Validate() error
	MustValidate()
}

type mngr struct {
	db         *bun.DB
	profiles   Profiles
	challenges VerificationChallenges
	resets     PasswordResets
}

// ManagerOption customizes the repository manager.
type ManagerOption func(*mngr)

// WithProfiles overrides the profiles repository.
func WithProfiles(p Profiles) ManagerOption {
	return func(m *mngr) {
		if p != nil {
			m.profiles = p
		}
	}
}

// WithVerificationChallenges overrides the challenge store.
func WithVerificationChallenges(c VerificationChallenges) ManagerOption {
	return func(m *mngr) {
		if c != nil {
			m.challenges = c
		}
	}
}

// NewRepositoryManager wires the default repositories over the given DB.
func NewRepositoryManager(db *bun.DB, opts ...ManagerOption) RepositoryManager {
	m := &mngr{
		db:         db,
		profiles:   NewProfilesRepository(db),
		challenges: NewVerificationChallengesRepository(db),
		resets:     NewPasswordResetsRepository(db),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m mngr) Validate() error {
	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	if m.challenges == nil {
		return errors.New("repository verification challenges should be initialized")
	}

	if m.resets == nil {
		return errors.New("repository password resets should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Profiles() Profiles {
	return m.profiles
}

func (m mngr) VerificationChallenges() VerificationChallenges {
	return m.challenges
}

func (m mngr) PasswordResets() PasswordResets {
	return m.resets
}
