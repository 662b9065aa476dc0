package provision_test

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tradecore/provision"
)

func TestLoginHappyPathIssuesToken(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	cfg := newTestConfig()
	ctx := context.Background()

	created, err := repo.Profiles().CreateProfile(ctx, &provision.Profile{
		Email:    "user@example.com",
		FullName: "User",
	})
	require.NoError(t, err)

	identity.On("SignIn", mock.Anything, "user@example.com", "secret123").
		Return(&provision.ProviderSession{
			Account: &provision.Account{
				ID:             created.ID.String(),
				Email:          "user@example.com",
				EmailConfirmed: true,
			},
			AccessToken: "provider-token",
		}, nil).Once()

	handler := provision.NewLoginHandler(repo, identity, cfg)

	var resp *provision.LoginResponse
	err = handler.Execute(ctx, provision.LoginMessage{
		Email:    "User@Example.com",
		Password: "secret123",
		OnResponse: func(r *provision.LoginResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, provision.OutcomeLoginSucceeded, resp.Outcome)
	require.NotNil(t, resp.Profile)
	assert.Equal(t, created.ID, resp.Profile.ID)
	assert.NotEmpty(t, resp.Token)

	claims, err := provision.NewTokenService(cfg, nil).Validate(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, created.ID.String(), claims.UID)
}

func TestLoginSyncsVerifiedFlagFromProvider(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	cfg := newTestConfig()
	ctx := context.Background()

	created, err := repo.Profiles().CreateProfile(ctx, &provision.Profile{
		Email:    "sync@example.com",
		FullName: "Sync",
	})
	require.NoError(t, err)
	require.False(t, created.EmailVerified)

	identity.On("SignIn", mock.Anything, "sync@example.com", "secret123").
		Return(&provision.ProviderSession{
			Account: &provision.Account{
				ID:             created.ID.String(),
				Email:          "sync@example.com",
				EmailConfirmed: true,
			},
		}, nil).Once()

	handler := provision.NewLoginHandler(repo, identity, cfg)

	var resp *provision.LoginResponse
	err = handler.Execute(ctx, provision.LoginMessage{
		Email:    "sync@example.com",
		Password: "secret123",
		OnResponse: func(r *provision.LoginResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Profile.EmailVerified)

	stored, err := repo.Profiles().GetByAccountID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)
	assert.Equal(t, provision.VerificationProviderEmail, stored.VerificationMethod)
}

func TestLoginUnconfirmedEmailOutcome(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	cfg := newTestConfig()

	identity.On("SignIn", mock.Anything, "pending@example.com", mock.Anything).
		Return(nil, goerrors.New("email not confirmed", goerrors.CategoryAuth)).Once()

	handler := provision.NewLoginHandler(repo, identity, cfg)

	var resp *provision.LoginResponse
	err := handler.Execute(context.Background(), provision.LoginMessage{
		Email:    "pending@example.com",
		Password: "secret123",
		OnResponse: func(r *provision.LoginResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, provision.OutcomeNeedsEmailConfirmation, resp.Outcome)
}

func TestLoginInvalidCredentialsOutcome(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	cfg := newTestConfig()

	identity.On("SignIn", mock.Anything, "user@example.com", mock.Anything).
		Return(nil, goerrors.New("invalid login credentials", goerrors.CategoryAuth)).Once()

	handler := provision.NewLoginHandler(repo, identity, cfg)

	var resp *provision.LoginResponse
	err := handler.Execute(context.Background(), provision.LoginMessage{
		Email:    "user@example.com",
		Password: "wrong",
		OnResponse: func(r *provision.LoginResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, provision.OutcomeInvalidCredentials, resp.Outcome)
}

func TestLoginBootstrapAdminRecoveryOutcomes(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	cfg := newTestConfig()
	cfg.BootstrapAdminEmails = []string{"root@example.com"}
	ctx := context.Background()

	identity.On("SignIn", mock.Anything, "root@example.com", mock.Anything).
		Return(nil, goerrors.New("invalid login credentials", goerrors.CategoryAuth)).Twice()

	handler := provision.NewLoginHandler(repo, identity, cfg)

	// No profile yet: the administrator needs to register.
	var resp *provision.LoginResponse
	err := handler.Execute(ctx, provision.LoginMessage{
		Email:    "root@example.com",
		Password: "wrong",
		OnResponse: func(r *provision.LoginResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	assert.Equal(t, provision.OutcomeNeedsRegistration, resp.Outcome)

	// With a profile but no matching credentials: reset the password.
	_, err = repo.Profiles().CreateProfile(ctx, &provision.Profile{
		Email:    "root@example.com",
		FullName: "Platform Administrator",
		Role:     provision.RoleAdmin,
	}, provision.WithBootstrapProvision())
	require.NoError(t, err)

	err = handler.Execute(ctx, provision.LoginMessage{
		Email:    "root@example.com",
		Password: "wrong",
		OnResponse: func(r *provision.LoginResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	assert.Equal(t, provision.OutcomeNeedsPasswordReset, resp.Outcome)
}

func TestLoginMissingProfileIsIntegrityError(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	cfg := newTestConfig()

	identity.On("SignIn", mock.Anything, "ghost@example.com", mock.Anything).
		Return(&provision.ProviderSession{
			Account: &provision.Account{ID: uuid.NewString(), Email: "ghost@example.com"},
		}, nil).Once()

	handler := provision.NewLoginHandler(repo, identity, cfg)

	err := handler.Execute(context.Background(), provision.LoginMessage{
		Email:    "ghost@example.com",
		Password: "secret123",
	})
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeProfileMissing))
}

func TestLoginBootstrapSelfHealRekeysStaleProfile(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	sink := &capturingSink{}
	cfg := newTestConfig()
	cfg.BootstrapAdminEmails = []string{"root@example.com"}
	ctx := context.Background()

	// A profile exists under an id the provider no longer knows.
	stale, err := repo.Profiles().CreateProfile(ctx, &provision.Profile{
		Email:    "root@example.com",
		FullName: "Platform Administrator",
		Role:     provision.RoleAdmin,
	}, provision.WithBootstrapProvision())
	require.NoError(t, err)

	freshID := uuid.New()
	identity.On("SignIn", mock.Anything, "root@example.com", "secret123").
		Return(&provision.ProviderSession{
			Account: &provision.Account{ID: freshID.String(), Email: "root@example.com", EmailConfirmed: true},
		}, nil).Once()

	handler := provision.NewLoginHandler(repo, identity, cfg,
		provision.WithLoginActivitySink(sink))

	var resp *provision.LoginResponse
	err = handler.Execute(ctx, provision.LoginMessage{
		Email:    "root@example.com",
		Password: "secret123",
		OnResponse: func(r *provision.LoginResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, provision.OutcomeLoginSucceeded, resp.Outcome)
	assert.Equal(t, freshID, resp.Profile.ID)
	assert.True(t, sink.has(provision.ActivityEventProfileSelfHealed))

	// The stale id no longer resolves.
	_, err = repo.Profiles().GetByAccountID(ctx, stale.ID)
	require.Error(t, err)
}

func TestLoginBootstrapSelfHealCreatesProfileInline(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	cfg := newTestConfig()
	cfg.BootstrapAdminEmails = []string{"root@example.com"}
	ctx := context.Background()

	freshID := uuid.New()
	identity.On("SignIn", mock.Anything, "root@example.com", "secret123").
		Return(&provision.ProviderSession{
			Account: &provision.Account{ID: freshID.String(), Email: "root@example.com", EmailConfirmed: true},
		}, nil).Once()

	handler := provision.NewLoginHandler(repo, identity, cfg)

	var resp *provision.LoginResponse
	err := handler.Execute(ctx, provision.LoginMessage{
		Email:    "root@example.com",
		Password: "secret123",
		OnResponse: func(r *provision.LoginResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, provision.OutcomeLoginSucceeded, resp.Outcome)
	assert.Equal(t, provision.RoleAdmin, resp.Profile.Role)
	assert.True(t, resp.Profile.EmailVerified)
	assert.Equal(t, freshID, resp.Profile.ID)
}

func TestLoginSuspendedProfileRejected(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	cfg := newTestConfig()
	ctx := context.Background()

	created, err := repo.Profiles().CreateProfile(ctx, &provision.Profile{
		Email:    "banned@example.com",
		FullName: "Banned",
	})
	require.NoError(t, err)

	_, err = repo.Profiles().UpdateFields(ctx, created.ID, provision.ProfileUpdate{
		Status: provision.ProfileStatusSuspended,
	})
	require.NoError(t, err)

	identity.On("SignIn", mock.Anything, "banned@example.com", mock.Anything).
		Return(&provision.ProviderSession{
			Account: &provision.Account{ID: created.ID.String(), Email: "banned@example.com"},
		}, nil).Once()

	handler := provision.NewLoginHandler(repo, identity, cfg)

	err = handler.Execute(ctx, provision.LoginMessage{
		Email:    "banned@example.com",
		Password: "secret123",
	})
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeProfileSuspended))
}
