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

func TestRegisterAccountHappyPath(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	sink := &capturingSink{}
	cfg := newTestConfig()
	ctx := context.Background()

	accountID := "b7e9a9c2-8e49-4a51-9c70-2a70ad6b8d11"
	identity.On("SignUp", mock.Anything, "buyer@example.com", "secret123", mock.Anything).
		Return(&provision.Account{ID: accountID, Email: "buyer@example.com"}, nil).Once()

	handler := provision.NewRegisterAccountHandler(repo, identity, cfg,
		provision.WithRegisterActivitySink(sink))

	var resp *provision.RegisterAccountResponse
	err := handler.Execute(ctx, provision.RegisterAccountMessage{
		Email:    "Buyer@Example.com",
		Password: "secret123",
		FullName: "Buyer One",
		Role:     provision.RoleBuyer,
		Phone:    "+14155552671",
		OnResponse: func(r *provision.RegisterAccountResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, provision.OutcomeVerificationRequired, resp.Outcome)
	assert.True(t, resp.VerificationRequired)
	assert.Equal(t, accountID, resp.AccountID)
	assert.NotEmpty(t, resp.AccountCode)
	require.NotNil(t, resp.Profile)
	assert.Equal(t, "buyer@example.com", resp.Profile.Email)
	// First registrant is promoted regardless of the requested role.
	assert.Equal(t, provision.RoleAdmin, resp.Profile.Role)
	assert.False(t, resp.Profile.EmailVerified)

	assert.True(t, sink.has(provision.ActivityEventRegistered))
	identity.AssertExpectations(t)
}

func TestRegisterAccountDuplicateEmailFailsBeforeProvider(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	cfg := newTestConfig()
	ctx := context.Background()

	_, err := repo.Profiles().CreateProfile(ctx, &provision.Profile{
		Email:    "taken@example.com",
		FullName: "Existing",
	})
	require.NoError(t, err)

	handler := provision.NewRegisterAccountHandler(repo, identity, cfg)

	err = handler.Execute(ctx, provision.RegisterAccountMessage{
		Email:    "taken@example.com",
		Password: "secret123",
		FullName: "Second Try",
		Role:     provision.RoleBuyer,
	})
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeDuplicateAccount))

	// No identity was created for the duplicate.
	identity.AssertNotCalled(t, "SignUp", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRegisterAccountDuplicateErrorsKeepTheirOwnMetadata(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	cfg := newTestConfig()
	ctx := context.Background()

	for _, email := range []string{"alice@example.com", "bob@example.com"} {
		_, err := repo.Profiles().CreateProfile(ctx, &provision.Profile{
			Email:    email,
			FullName: "Existing",
		})
		require.NoError(t, err)
	}

	handler := provision.NewRegisterAccountHandler(repo, identity, cfg)

	register := func(email string) error {
		return handler.Execute(ctx, provision.RegisterAccountMessage{
			Email:    email,
			Password: "secret123",
			FullName: "Second Try",
			Role:     provision.RoleBuyer,
		})
	}

	aliceErr := register("alice@example.com")
	require.Error(t, aliceErr)
	bobErr := register("bob@example.com")
	require.Error(t, bobErr)

	// Each failure carries its own metadata; a later failure must not
	// rewrite an error already handed to another caller.
	var rich *goerrors.Error
	require.True(t, goerrors.As(aliceErr, &rich))
	assert.Equal(t, "alice@example.com", rich.Metadata["email"])
	require.True(t, goerrors.As(bobErr, &rich))
	assert.Equal(t, "bob@example.com", rich.Metadata["email"])

	// The shared sentinel itself stays untouched.
	assert.Empty(t, provision.ErrDuplicateAccount.Metadata)
}

func TestRegisterAccountCompensatesOnProfileFailure(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	sink := &capturingSink{}
	cfg := newTestConfig()
	ctx := context.Background()

	accountID := "5f0a4f6e-63a1-4d27-86a4-0f7a9c1f2b60"
	identity.On("SignUp", mock.Anything, "orphan@example.com", mock.Anything, mock.Anything).
		Return(&provision.Account{ID: accountID, Email: "orphan@example.com"}, nil).Once()
	identity.On("DeleteAccount", mock.Anything, accountID).Return(nil).Once()

	// A profile already holding the provider's id makes the insert fail
	// after the identity exists, forcing the compensating delete.
	_, err := repo.Profiles().CreateProfile(ctx, &provision.Profile{
		ID:       uuid.MustParse(accountID),
		Email:    "squatter@example.com",
		FullName: "Squatter",
	})
	require.NoError(t, err)

	handler := provision.NewRegisterAccountHandler(repo, identity, cfg,
		provision.WithRegisterActivitySink(sink))

	err = handler.Execute(ctx, provision.RegisterAccountMessage{
		Email:    "orphan@example.com",
		Password: "secret123",
		FullName: "Orphan",
		Role:     provision.RoleBuyer,
	})
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeProfileCreation))

	assert.True(t, sink.has(provision.ActivityEventCompensationRan))
	identity.AssertExpectations(t)
}

func TestRegisterAccountCompensationFailureIsReportedNotEscalated(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	sink := &capturingSink{}
	cfg := newTestConfig()
	ctx := context.Background()

	accountID := "e60f22dc-4b3a-44f7-b1a4-87e7f6e3a9cd"
	identity.On("SignUp", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&provision.Account{ID: accountID, Email: "orphan@example.com"}, nil).Once()
	identity.On("DeleteAccount", mock.Anything, accountID).
		Return(goerrors.New("provider unreachable", goerrors.CategoryInternal)).Once()

	_, err := repo.Profiles().CreateProfile(ctx, &provision.Profile{
		ID:       uuid.MustParse(accountID),
		Email:    "squatter@example.com",
		FullName: "Squatter",
	})
	require.NoError(t, err)

	handler := provision.NewRegisterAccountHandler(repo, identity, cfg,
		provision.WithRegisterActivitySink(sink))

	err = handler.Execute(ctx, provision.RegisterAccountMessage{
		Email:    "orphan@example.com",
		Password: "secret123",
		FullName: "Orphan",
		Role:     provision.RoleBuyer,
	})
	// The caller sees the profile failure, not the compensation failure.
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeProfileCreation))
	assert.True(t, sink.has(provision.ActivityEventCompensationFailed))
}

func TestRegisterAccountProviderDuplicate(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	cfg := newTestConfig()

	identity.On("SignUp", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, goerrors.New("user already registered", goerrors.CategoryConflict)).Once()

	handler := provision.NewRegisterAccountHandler(repo, identity, cfg)

	err := handler.Execute(context.Background(), provision.RegisterAccountMessage{
		Email:    "known@example.com",
		Password: "secret123",
		FullName: "Known",
		Role:     provision.RoleBuyer,
	})
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeDuplicateAccount))
}

func TestRegisterAccountBootstrapAdminForcedRoleAndNoVerification(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	cfg := newTestConfig()
	cfg.BootstrapAdminEmails = []string{"root@example.com"}
	ctx := context.Background()

	identity.On("SignUp", mock.Anything, "root@example.com", mock.Anything, mock.Anything).
		Return(&provision.Account{ID: "9d1e79a6-50c4-4d38-9181-2ed44ab4f2aa", Email: "root@example.com"}, nil).Once()

	handler := provision.NewRegisterAccountHandler(repo, identity, cfg)

	var resp *provision.RegisterAccountResponse
	err := handler.Execute(ctx, provision.RegisterAccountMessage{
		Email:    "root@example.com",
		Password: "secret123",
		FullName: "Root",
		Role:     provision.RoleBuyer,
		OnResponse: func(r *provision.RegisterAccountResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, provision.OutcomeRegistered, resp.Outcome)
	assert.False(t, resp.VerificationRequired)
	assert.Equal(t, provision.RoleAdmin, resp.Profile.Role)
	assert.True(t, resp.Profile.EmailVerified)
}

func TestRegisterAccountValidation(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewRepositoryManager(db)
	identity := &MockIdentityStore{}
	cfg := newTestConfig()
	handler := provision.NewRegisterAccountHandler(repo, identity, cfg)

	cases := []struct {
		name string
		msg  provision.RegisterAccountMessage
	}{
		{"missing email", provision.RegisterAccountMessage{Password: "secret123", FullName: "X", Role: provision.RoleBuyer}},
		{"bad email", provision.RegisterAccountMessage{Email: "nope", Password: "secret123", FullName: "X", Role: provision.RoleBuyer}},
		{"short password", provision.RegisterAccountMessage{Email: "a@b.com", Password: "abc", FullName: "X", Role: provision.RoleBuyer}},
		{"missing name", provision.RegisterAccountMessage{Email: "a@b.com", Password: "secret123", Role: provision.RoleBuyer}},
		{"bad role", provision.RegisterAccountMessage{Email: "a@b.com", Password: "secret123", FullName: "X", Role: "superuser"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := handler.Execute(context.Background(), tc.msg)
			require.Error(t, err)
			assert.True(t, provision.HasTextCode(err, provision.TextCodeValidation))
		})
	}
}
