package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/tradecore/provision"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 10 * time.Second

// Config holds the connection settings for a GoTrue deployment.
type Config struct {
	// BaseURL is the auth endpoint root, e.g. "https://x.supabase.co/auth/v1".
	BaseURL string

	// AnonKey authenticates public operations (signup, token, recover).
	AnonKey string

	// ServiceKey authenticates /admin operations. Optional; admin calls
	// fail with a configuration error when it is empty.
	ServiceKey string
}

// IdentityStore implements provision.IdentityStore against GoTrue.
type IdentityStore struct {
	config Config
	client *http.Client
	logger provision.Logger

	accessToken string
}

var _ provision.IdentityStore = (*IdentityStore)(nil)

// Option customizes the store.
type Option func(*IdentityStore)

// WithHTTPClient overrides the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *IdentityStore) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l provision.Logger) Option {
	return func(s *IdentityStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a GoTrue identity store.
func New(cfg Config, opts ...Option) *IdentityStore {
	s := &IdentityStore{
		config: cfg,
		client: &http.Client{Timeout: DefaultTimeout},
		logger: provision.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type gotrueUser struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt string         `json:"email_confirmed_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

type gotrueSession struct {
	AccessToken string      `json:"access_token"`
	User        *gotrueUser `json:"user"`
}

type gotrueError struct {
	Message          string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e *gotrueError) text() string {
	if e.ErrorDescription != "" {
		return e.ErrorDescription
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

func toAccount(u *gotrueUser) *provision.Account {
	if u == nil {
		return nil
	}
	return &provision.Account{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmedAt != "",
		CreatedAt:      u.CreatedAt,
		Metadata:       u.UserMetadata,
	}
}

// SignUp registers a new identity with the given metadata.
func (s *IdentityStore) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*provision.Account, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		payload["data"] = metadata
	}

	var user gotrueUser
	if err := s.do(ctx, http.MethodPost, "/signup", s.config.AnonKey, payload, &user); err != nil {
		return nil, err
	}
	// Some deployments return the user nested under a session envelope.
	if user.ID == "" {
		var session gotrueSession
		if err := s.do(ctx, http.MethodGet, "/user", s.config.AnonKey, nil, &session); err == nil && session.User != nil {
			return toAccount(session.User), nil
		}
	}
	return toAccount(&user), nil
}

// SignIn exchanges credentials for a session.
func (s *IdentityStore) SignIn(ctx context.Context, email, password string) (*provision.ProviderSession, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
	}

	var session gotrueSession
	if err := s.do(ctx, http.MethodPost, "/token?grant_type=password", s.config.AnonKey, payload, &session); err != nil {
		return nil, err
	}

	s.accessToken = session.AccessToken
	return &provision.ProviderSession{
		Account:     toAccount(session.User),
		AccessToken: session.AccessToken,
	}, nil
}

// SignOut revokes the current session, if any.
func (s *IdentityStore) SignOut(ctx context.Context) error {
	if s.accessToken == "" {
		return nil
	}
	err := s.doWithToken(ctx, http.MethodPost, "/logout", s.accessToken, nil, nil)
	s.accessToken = ""
	return err
}

// ConfirmEmail marks the account's email as confirmed via the admin API.
func (s *IdentityStore) ConfirmEmail(ctx context.Context, accountID string) error {
	key, err := s.adminKey()
	if err != nil {
		return err
	}
	payload := map[string]any{"email_confirm": true}
	return s.do(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(accountID), key, payload, nil)
}

// ResetPasswordForEmail asks the provider to send its own recovery email.
func (s *IdentityStore) ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error {
	payload := map[string]any{"email": email}
	path := "/recover"
	if redirectURL != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectURL)
	}
	return s.do(ctx, http.MethodPost, path, s.config.AnonKey, payload, nil)
}

// UpdatePassword writes a new password through the admin API.
func (s *IdentityStore) UpdatePassword(ctx context.Context, accountID, newPassword string) error {
	key, err := s.adminKey()
	if err != nil {
		return err
	}
	payload := map[string]any{"password": newPassword}
	return s.do(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(accountID), key, payload, nil)
}

// GetAccountByEmail looks an account up through the admin API.
func (s *IdentityStore) GetAccountByEmail(ctx context.Context, email string) (*provision.Account, error) {
	key, err := s.adminKey()
	if err != nil {
		return nil, err
	}

	var result struct {
		Users []gotrueUser `json:"users"`
	}
	path := "/admin/users?email=" + url.QueryEscape(email)
	if err := s.do(ctx, http.MethodGet, path, key, nil, &result); err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(email))
	for i := range result.Users {
		if strings.ToLower(result.Users[i].Email) == needle {
			return toAccount(&result.Users[i]), nil
		}
	}
	return nil, goerrors.New("user not found", goerrors.CategoryNotFound)
}

// DeleteAccount removes the identity through the admin API.
func (s *IdentityStore) DeleteAccount(ctx context.Context, accountID string) error {
	key, err := s.adminKey()
	if err != nil {
		return err
	}
	return s.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(accountID), key, nil, nil)
}

func (s *IdentityStore) adminKey() (string, error) {
	if s.config.ServiceKey == "" {
		return "", goerrors.New("gotrue service key not configured", goerrors.CategoryInternal)
	}
	return s.config.ServiceKey, nil
}

func (s *IdentityStore) do(ctx context.Context, method, path, key string, payload, out any) error {
	return s.request(ctx, method, path, key, key, payload, out)
}

func (s *IdentityStore) doWithToken(ctx context.Context, method, path, token string, payload, out any) error {
	return s.request(ctx, method, path, s.config.AnonKey, token, payload, out)
}

func (s *IdentityStore) request(ctx context.Context, method, path, apiKey, bearer string, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.BaseURL+path, body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "auth provider unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read provider response")
	}

	if resp.StatusCode >= 400 {
		var provErr gotrueError
		_ = json.Unmarshal(raw, &provErr)
		text := provErr.text()
		if text == "" {
			text = fmt.Sprintf("provider returned status %d", resp.StatusCode)
		}
		// Keep the provider's wording intact; the core classifier keys
		// off these strings.
		return goerrors.New(text, goerrors.CategoryAuth)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode provider response")
		}
	}
	return nil
}
