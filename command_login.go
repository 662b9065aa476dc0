package provision

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

type LoginMessage struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	OnResponse func(*LoginResponse)
}

func (m LoginMessage) Type() string { return "account.login" }

func (m LoginMessage) Validate() error {
	err := validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.EmailFormat),
		validation.Field(&m.Password, validation.Required),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid login input").
			WithTextCode(TextCodeValidation)
	}
	return nil
}

type LoginResponse struct {
	Outcome OutcomeStatus `json:"status"`
	Message string        `json:"message"`
	Account *Account      `json:"account,omitempty"`
	Profile *Profile      `json:"profile,omitempty"`
	Token   string        `json:"token,omitempty"`
}

// LoginHandler orchestrates sign-in: authenticates against the identity
// provider, loads (or repairs) the profile, reconciles verification-state
// drift, and classifies the result into a stable outcome.
type LoginHandler struct {
	repo       RepositoryManager
	identity   IdentityStore
	classifier ProviderErrorClassifier
	config     Config
	tokens     TokenService
	logger     Logger
	sink       ActivitySink
}

// LoginOption customizes the handler.
type LoginOption func(*LoginHandler)

// WithLoginLogger overrides the default logger.
func WithLoginLogger(l Logger) LoginOption {
	return func(h *LoginHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithLoginActivitySink publishes login events to the given sink.
func WithLoginActivitySink(sink ActivitySink) LoginOption {
	return func(h *LoginHandler) {
		h.sink = normalizeActivitySink(sink)
	}
}

// WithLoginClassifier overrides the provider error classifier.
func WithLoginClassifier(c ProviderErrorClassifier) LoginOption {
	return func(h *LoginHandler) {
		if c != nil {
			h.classifier = c
		}
	}
}

// WithLoginTokenService overrides the session token service.
func WithLoginTokenService(ts TokenService) LoginOption {
	return func(h *LoginHandler) {
		if ts != nil {
			h.tokens = ts
		}
	}
}

// NewLoginHandler builds the login workflow.
func NewLoginHandler(repo RepositoryManager, identity IdentityStore, cfg Config, opts ...LoginOption) *LoginHandler {
	h := &LoginHandler{
		repo:       repo,
		identity:   identity,
		classifier: NewProviderErrorClassifier(),
		config:     cfg,
		tokens:     NewTokenService(cfg, nil),
		logger:     defLogger{},
		sink:       noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *LoginHandler) Execute(ctx context.Context, event LoginMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during login",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *LoginHandler) execute(ctx context.Context, event LoginMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	if err := event.Validate(); err != nil {
		return err
	}

	email := NormalizeEmail(event.Email)

	session, err := h.identity.SignIn(ctx, email, event.Password)
	if err != nil {
		resp, classifyErr := h.classifySignInFailure(ctx, email, err)
		if classifyErr != nil {
			return classifyErr
		}
		if event.OnResponse != nil {
			event.OnResponse(resp)
		}
		return nil
	}

	account := session.Account
	profile, err := h.loadOrRepairProfile(ctx, email, account)
	if err != nil {
		h.emit(ctx, ActivityEventLoginFailure, email, account.ID, map[string]any{"stage": "profile"})
		return err
	}

	if profile.Status == ProfileStatusSuspended {
		h.emit(ctx, ActivityEventLoginFailure, email, account.ID, map[string]any{"reason": "suspended"})
		return detail(ErrProfileSuspended, map[string]any{"id": profile.ID.String()})
	}

	h.syncVerifiedFlag(ctx, account, profile)

	token, err := h.tokens.Generate(profile)
	if err != nil {
		// The login itself succeeded; a session-token failure should not
		// hide that from the caller.
		h.logger.Error("session token generation failed for %s: %v", profile.ID, err)
	}

	h.emit(ctx, ActivityEventLoginSuccess, email, account.ID, nil)

	if event.OnResponse != nil {
		event.OnResponse(&LoginResponse{
			Outcome: OutcomeLoginSucceeded,
			Message: "Signed in.",
			Account: account,
			Profile: profile,
			Token:   token,
		})
	}

	return nil
}

// classifySignInFailure maps a provider failure to an alternate outcome or a
// structured error. Bootstrap administrator emails get an extra probe: a
// profile with no matching identity means "reset the password", nothing at
// all means "register first".
func (h *LoginHandler) classifySignInFailure(ctx context.Context, email string, signInErr error) (*LoginResponse, error) {
	kind := h.classifier.Classify(signInErr)

	switch kind {
	case ProviderErrEmailNotConfirmed:
		h.emit(ctx, ActivityEventLoginFailure, email, "", map[string]any{"reason": "email_not_confirmed"})
		return &LoginResponse{
			Outcome: OutcomeNeedsEmailConfirmation,
			Message: "Email not verified yet. Check your inbox for a verification code.",
		}, nil

	case ProviderErrInvalidCredentials:
		if IsBootstrapAdmin(h.config, email) {
			exists, err := h.repo.Profiles().Exists(ctx, email)
			if err != nil {
				return nil, err
			}
			if exists {
				return &LoginResponse{
					Outcome: OutcomeNeedsPasswordReset,
					Message: "Administrator profile found but credentials do not match. Reset the password to continue.",
				}, nil
			}
			return &LoginResponse{
				Outcome: OutcomeNeedsRegistration,
				Message: "No administrator account exists yet. Register to continue.",
			}, nil
		}

		h.emit(ctx, ActivityEventLoginFailure, email, "", map[string]any{"reason": "invalid_credentials"})
		return &LoginResponse{
			Outcome: OutcomeInvalidCredentials,
			Message: "Invalid email or password.",
		}, nil

	default:
		h.emit(ctx, ActivityEventLoginFailure, email, "", map[string]any{"kind": string(kind)})
		return nil, classifyProviderError(h.classifier, signInErr, "sign_in")
	}
}

// loadOrRepairProfile resolves the profile for a signed-in account. A
// missing profile is self-healed only for bootstrap administrators: an
// existing profile under a stale id is re-keyed to the fresh account id,
// otherwise the administrator profile is created inline, pre-verified.
func (h *LoginHandler) loadOrRepairProfile(ctx context.Context, email string, account *Account) (*Profile, error) {
	id := accountUUID(account.ID)

	profile, err := h.repo.Profiles().GetByAccountID(ctx, id)
	if err == nil {
		return profile, nil
	}
	if !HasTextCode(err, TextCodeProfileMissing) {
		return nil, err
	}

	if !IsBootstrapAdmin(h.config, email) {
		return nil, detail(ErrProfileMissing, map[string]any{
			"account_id": account.ID,
			"email":      email,
		})
	}

	// Idempotent heal: prefer re-keying a stale profile over inserting a
	// duplicate for the same email.
	if stale, staleErr := h.repo.Profiles().GetByEmail(ctx, email); staleErr == nil {
		if rekeyErr := h.repo.Profiles().Rekey(ctx, stale.ID, id); rekeyErr != nil {
			return nil, rekeyErr
		}
		h.emit(ctx, ActivityEventProfileSelfHealed, email, account.ID, map[string]any{
			"stale_id": stale.ID.String(),
		})
		return h.repo.Profiles().GetByAccountID(ctx, id)
	}

	created, err := h.repo.Profiles().CreateProfile(ctx, &Profile{
		ID:       id,
		Email:    email,
		FullName: "Platform Administrator",
		Role:     RoleAdmin,
	}, WithBootstrapProvision())
	if err != nil {
		return nil, err
	}

	h.emit(ctx, ActivityEventProfileSelfHealed, email, account.ID, map[string]any{
		"created": true,
	})

	return created, nil
}

// syncVerifiedFlag pushes the provider's confirmed flag into the profile.
// One-directional, fire-and-forget: a sync failure never fails the login.
func (h *LoginHandler) syncVerifiedFlag(ctx context.Context, account *Account, profile *Profile) {
	if !account.EmailConfirmed || profile.EmailVerified {
		return
	}

	verified := true
	updated, err := h.repo.Profiles().UpdateFields(ctx, profile.ID, ProfileUpdate{
		EmailVerified:      &verified,
		VerificationMethod: VerificationProviderEmail,
	})
	if err != nil {
		h.logger.Warn("verified-flag sync failed for %s: %v", profile.ID, err)
		return
	}

	*profile = *updated
}

func (h *LoginHandler) emit(ctx context.Context, eventType ActivityEventType, email, accountID string, metadata map[string]any) {
	emitActivity(ctx, h.sink, h.logger, ActivityEvent{
		EventType: eventType,
		ProfileID: accountID,
		Email:     email,
		Metadata:  metadata,
	})
}
