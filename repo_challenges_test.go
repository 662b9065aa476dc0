package provision_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecore/provision"
)

func TestConsumeMatchesAndMarksSingleUse(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewVerificationChallengesRepository(db)
	ctx := context.Background()

	issued, err := repo.Issue(ctx, "user@example.com", "User", provision.PurposeSignup, "123456", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, provision.ChallengeIssued, issued.State)

	consumed, err := repo.Consume(ctx, "user@example.com", provision.PurposeSignup, "123456")
	require.NoError(t, err)
	assert.Equal(t, issued.ID, consumed.ID)
	assert.Equal(t, provision.ChallengeMatched, consumed.State)
	require.NotNil(t, consumed.ConsumedAt)

	// Single-use: the same code cannot be consumed twice.
	_, err = repo.Consume(ctx, "user@example.com", provision.PurposeSignup, "123456")
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeChallengeExpired))
}

func TestConsumeWrongCodeIsMismatchAndChallengeStaysLive(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewVerificationChallengesRepository(db)
	ctx := context.Background()

	_, err := repo.Issue(ctx, "user@example.com", "User", provision.PurposeSignup, "123456", 10*time.Minute)
	require.NoError(t, err)

	_, err = repo.Consume(ctx, "user@example.com", provision.PurposeSignup, "654321")
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeCodeMismatch))

	// The right code still works after a failed attempt.
	consumed, err := repo.Consume(ctx, "user@example.com", provision.PurposeSignup, "123456")
	require.NoError(t, err)
	assert.Equal(t, provision.ChallengeMatched, consumed.State)
}

func TestConsumeExpiredChallenge(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := provision.NewVerificationChallengesRepository(db,
		provision.WithChallengesClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := repo.Issue(ctx, "user@example.com", "User", provision.PurposeSignup, "123456", 10*time.Minute)
	require.NoError(t, err)

	now = now.Add(11 * time.Minute)

	_, err = repo.Consume(ctx, "user@example.com", provision.PurposeSignup, "123456")
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeChallengeExpired))
}

func TestResendKeepsEarlierCodeCheckable(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewVerificationChallengesRepository(db)
	ctx := context.Background()

	_, err := repo.Issue(ctx, "user@example.com", "User", provision.PurposeSignup, "111111", 10*time.Minute)
	require.NoError(t, err)
	_, err = repo.Issue(ctx, "user@example.com", "User", provision.PurposeSignup, "222222", 10*time.Minute)
	require.NoError(t, err)

	// The earlier code is still live after a resend.
	first, err := repo.Consume(ctx, "user@example.com", provision.PurposeSignup, "111111")
	require.NoError(t, err)
	assert.Equal(t, "111111", first.Code)

	second, err := repo.Consume(ctx, "user@example.com", provision.PurposeSignup, "222222")
	require.NoError(t, err)
	assert.Equal(t, "222222", second.Code)
}

func TestConsumeScopedByPurpose(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewVerificationChallengesRepository(db)
	ctx := context.Background()

	_, err := repo.Issue(ctx, "user@example.com", "User", provision.PurposeSignup, "123456", 10*time.Minute)
	require.NoError(t, err)

	_, err = repo.Consume(ctx, "user@example.com", provision.PurposeLogin, "123456")
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeChallengeExpired))
}

func TestPurgeExpiredRemovesOnlyStaleChallenges(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := provision.NewVerificationChallengesRepository(db,
		provision.WithChallengesClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := repo.Issue(ctx, "stale@example.com", "Stale", provision.PurposeSignup, "111111", time.Minute)
	require.NoError(t, err)
	_, err = repo.Issue(ctx, "fresh@example.com", "Fresh", provision.PurposeSignup, "222222", time.Hour)
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)

	purged, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = repo.Consume(ctx, "fresh@example.com", provision.PurposeSignup, "222222")
	require.NoError(t, err)
}

func TestPasswordResetTokenLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewPasswordResetsRepository(db)
	ctx := context.Background()

	profileID := uuid.New()
	issued, err := repo.IssueToken(ctx, "user@example.com", &profileID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, provision.ResetRequestedStatus, issued.Status)

	consumed, err := repo.ConsumeToken(ctx, issued.ID, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, provision.ResetChangedStatus, consumed.Status)
	require.NotNil(t, consumed.ConsumedAt)

	// Single-use.
	_, err = repo.ConsumeToken(ctx, issued.ID, "user@example.com")
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeResetTokenInvalid))
}

func TestPasswordResetTokenRejectsWrongEmail(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewPasswordResetsRepository(db)
	ctx := context.Background()

	issued, err := repo.IssueToken(ctx, "user@example.com", nil, time.Hour)
	require.NoError(t, err)

	_, err = repo.ConsumeToken(ctx, issued.ID, "other@example.com")
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeResetTokenInvalid))
}

func TestPasswordResetTokenExpires(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewPasswordResetsRepository(db)
	ctx := context.Background()

	issued, err := repo.IssueToken(ctx, "user@example.com", nil, -time.Minute)
	require.NoError(t, err)

	_, err = repo.ConsumeToken(ctx, issued.ID, "user@example.com")
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeResetTokenInvalid))
}

func TestPasswordResetUnknownToken(t *testing.T) {
	db := newTestDB(t)
	repo := provision.NewPasswordResetsRepository(db)

	_, err := repo.ConsumeToken(context.Background(), uuid.New(), "user@example.com")
	require.Error(t, err)
	assert.True(t, provision.HasTextCode(err, provision.TextCodeResetTokenInvalid))
}
