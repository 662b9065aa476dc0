package provision_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/tradecore/provision"
)

// MockIdentityStore implements provision.IdentityStore
type MockIdentityStore struct {
	mock.Mock
}

func (m *MockIdentityStore) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*provision.Account, error) {
	args := m.Called(ctx, email, password, metadata)
	account, _ := args.Get(0).(*provision.Account)
	return account, args.Error(1)
}

func (m *MockIdentityStore) SignIn(ctx context.Context, email, password string) (*provision.ProviderSession, error) {
	args := m.Called(ctx, email, password)
	session, _ := args.Get(0).(*provision.ProviderSession)
	return session, args.Error(1)
}

func (m *MockIdentityStore) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityStore) ConfirmEmail(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func (m *MockIdentityStore) ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error {
	args := m.Called(ctx, email, redirectURL)
	return args.Error(0)
}

func (m *MockIdentityStore) UpdatePassword(ctx context.Context, accountID, newPassword string) error {
	args := m.Called(ctx, accountID, newPassword)
	return args.Error(0)
}

func (m *MockIdentityStore) GetAccountByEmail(ctx context.Context, email string) (*provision.Account, error) {
	args := m.Called(ctx, email)
	account, _ := args.Get(0).(*provision.Account)
	return account, args.Error(1)
}

func (m *MockIdentityStore) DeleteAccount(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

// MockNotificationGateway implements provision.NotificationGateway
type MockNotificationGateway struct {
	mock.Mock
}

func (m *MockNotificationGateway) SendVerificationCode(ctx context.Context, email, name, code string, purpose provision.ChallengePurpose) error {
	args := m.Called(ctx, email, name, code, purpose)
	return args.Error(0)
}

func (m *MockNotificationGateway) SendTemplated(ctx context.Context, email, subject, body string) error {
	args := m.Called(ctx, email, subject, body)
	return args.Error(0)
}

type capturingSink struct {
	events []provision.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt provision.ActivityEvent) error {
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) has(eventType provision.ActivityEventType) bool {
	for _, evt := range c.events {
		if evt.EventType == eventType {
			return true
		}
	}
	return false
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	// One private in-memory database per test.
	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	require.NoError(t, provision.CreateSchema(context.Background(), db))
	return db
}

func newTestConfig() *provision.SimpleConfig {
	cfg := provision.NewConfig()
	cfg.SigningKey = "test-signing-key"
	cfg.PasswordResetURL = "https://platform.test/reset-password"
	// Zero delays keep the progressive sign-in retry instant under test.
	cfg.LoginRetryDelays = []time.Duration{0, 0, 0}
	return cfg
}
