package provision

import (
	"context"

	"github.com/google/uuid"
)

// Accounts is the provisioning facade. It wires the command handlers
// together and translates the well-known failure codes into outcome
// responses so callers can branch on status instead of unwrapping errors.
// Unexpected failures (store outages, provider faults) still surface as
// errors.
type Accounts struct {
	repo       RepositoryManager
	identity   IdentityStore
	gateway    NotificationGateway
	config     Config
	logger     Logger
	sink       ActivitySink
	classifier ProviderErrorClassifier
	tokens     TokenService

	register     *RegisterAccountHandler
	login        *LoginHandler
	verification *VerificationHandler
	resetInit    *InitializePasswordResetHandler
	resetFinal   *FinalizePasswordResetHandler
}

// AccountsOption customizes the facade.
type AccountsOption func(*Accounts)

// WithAccountsLogger overrides the default logger for every handler.
func WithAccountsLogger(l Logger) AccountsOption {
	return func(a *Accounts) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAccountsActivitySink publishes lifecycle events from every handler.
func WithAccountsActivitySink(sink ActivitySink) AccountsOption {
	return func(a *Accounts) {
		a.sink = normalizeActivitySink(sink)
	}
}

// WithAccountsClassifier overrides the provider error classifier.
func WithAccountsClassifier(c ProviderErrorClassifier) AccountsOption {
	return func(a *Accounts) {
		if c != nil {
			a.classifier = c
		}
	}
}

// WithAccountsTokenService overrides the session token service.
func WithAccountsTokenService(ts TokenService) AccountsOption {
	return func(a *Accounts) {
		if ts != nil {
			a.tokens = ts
		}
	}
}

// NewAccounts builds the facade and its handlers.
func NewAccounts(repo RepositoryManager, identity IdentityStore, gateway NotificationGateway, cfg Config, opts ...AccountsOption) *Accounts {
	a := &Accounts{
		repo:       repo,
		identity:   identity,
		gateway:    gateway,
		config:     cfg,
		logger:     defLogger{},
		sink:       noopActivitySink{},
		classifier: NewProviderErrorClassifier(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.tokens == nil {
		a.tokens = NewTokenService(cfg, a.logger)
	}

	a.register = NewRegisterAccountHandler(repo, identity, cfg,
		WithRegisterLogger(a.logger),
		WithRegisterActivitySink(a.sink),
		WithRegisterClassifier(a.classifier),
	)
	a.login = NewLoginHandler(repo, identity, cfg,
		WithLoginLogger(a.logger),
		WithLoginActivitySink(a.sink),
		WithLoginClassifier(a.classifier),
		WithLoginTokenService(a.tokens),
	)
	a.verification = NewVerificationHandler(repo, identity, gateway, a.login, cfg,
		WithVerificationLogger(a.logger),
		WithVerificationActivitySink(a.sink),
	)
	a.resetInit = NewInitializePasswordResetHandler(repo, identity, gateway, cfg,
		WithResetInitializeLogger(a.logger),
		WithResetInitializeActivitySink(a.sink),
	)
	a.resetFinal = NewFinalizePasswordResetHandler(repo, identity, cfg,
		WithResetFinalizeLogger(a.logger),
		WithResetFinalizeActivitySink(a.sink),
	)

	return a
}

// Register creates the identity record and the application profile. The
// well-known rejections (duplicate email, invalid payload) come back as
// outcome responses rather than errors.
func (a *Accounts) Register(ctx context.Context, msg RegisterAccountMessage) (*RegisterAccountResponse, error) {
	var resp *RegisterAccountResponse
	prior := msg.OnResponse
	msg.OnResponse = func(r *RegisterAccountResponse) {
		resp = r
		if prior != nil {
			prior(r)
		}
	}

	if err := a.register.Execute(ctx, msg); err != nil {
		switch {
		case HasTextCode(err, TextCodeDuplicateAccount):
			return &RegisterAccountResponse{
				Outcome: OutcomeError,
				Message: "An account with this email already exists. Try signing in instead.",
			}, nil
		case HasTextCode(err, TextCodeValidation):
			return &RegisterAccountResponse{
				Outcome: OutcomeError,
				Message: err.Error(),
			}, nil
		default:
			return nil, err
		}
	}
	return resp, nil
}

// Login signs the account in and returns the outcome, including the
// recovery statuses that tell the caller what to do next.
func (a *Accounts) Login(ctx context.Context, msg LoginMessage) (*LoginResponse, error) {
	var resp *LoginResponse
	prior := msg.OnResponse
	msg.OnResponse = func(r *LoginResponse) {
		resp = r
		if prior != nil {
			prior(r)
		}
	}

	if err := a.login.Execute(ctx, msg); err != nil {
		switch {
		case HasTextCode(err, TextCodeValidation):
			return &LoginResponse{Outcome: OutcomeError, Message: err.Error()}, nil
		case HasTextCode(err, TextCodeProfileSuspended):
			return &LoginResponse{
				Outcome: OutcomeError,
				Message: "This account has been suspended. Contact support.",
			}, nil
		case HasTextCode(err, TextCodeProfileMissing):
			return &LoginResponse{
				Outcome: OutcomeNeedsRegistration,
				Message: "No profile exists for this account. Register to continue.",
			}, nil
		default:
			return nil, err
		}
	}
	return resp, nil
}

// RequestVerificationCode issues a challenge code and emails it.
func (a *Accounts) RequestVerificationCode(ctx context.Context, msg RequestVerificationMessage) (*RequestVerificationResponse, error) {
	return a.requestVerification(ctx, msg, a.verification.RequestCode)
}

// ResendVerificationCode issues a fresh challenge, superseding any code
// still in flight for the same email and purpose.
func (a *Accounts) ResendVerificationCode(ctx context.Context, msg RequestVerificationMessage) (*RequestVerificationResponse, error) {
	return a.requestVerification(ctx, msg, a.verification.Resend)
}

func (a *Accounts) requestVerification(ctx context.Context, msg RequestVerificationMessage, run func(context.Context, RequestVerificationMessage) error) (*RequestVerificationResponse, error) {
	var resp *RequestVerificationResponse
	prior := msg.OnResponse
	msg.OnResponse = func(r *RequestVerificationResponse) {
		resp = r
		if prior != nil {
			prior(r)
		}
	}

	if err := run(ctx, msg); err != nil {
		if HasTextCode(err, TextCodeValidation) {
			return &RequestVerificationResponse{Outcome: OutcomeError, Message: err.Error()}, nil
		}
		return nil, err
	}
	return resp, nil
}

// SubmitVerificationCode matches the code and, for signup and login
// flows, completes the sign-in with bounded retries.
func (a *Accounts) SubmitVerificationCode(ctx context.Context, msg SubmitVerificationMessage) (*SubmitVerificationResponse, error) {
	var resp *SubmitVerificationResponse
	prior := msg.OnResponse
	msg.OnResponse = func(r *SubmitVerificationResponse) {
		resp = r
		if prior != nil {
			prior(r)
		}
	}

	if err := a.verification.Submit(ctx, msg); err != nil {
		switch {
		case HasTextCode(err, TextCodeCodeMismatch):
			return &SubmitVerificationResponse{
				Outcome: OutcomeCodeMismatch,
				Message: "The code does not match. Check the email and try again.",
			}, nil
		case HasTextCode(err, TextCodeChallengeExpired):
			return &SubmitVerificationResponse{
				Outcome: OutcomeCodeMismatch,
				Message: "The code has expired. Request a new one.",
			}, nil
		case HasTextCode(err, TextCodeValidation):
			return &SubmitVerificationResponse{Outcome: OutcomeError, Message: err.Error()}, nil
		default:
			return nil, err
		}
	}
	return resp, nil
}

// RequestPasswordReset issues a reset token and emails the reset link.
// The response is identical for known and unknown emails.
func (a *Accounts) RequestPasswordReset(ctx context.Context, msg InitializePasswordResetMessage) (*InitializePasswordResetResponse, error) {
	var resp *InitializePasswordResetResponse
	prior := msg.OnResponse
	msg.OnResponse = func(r *InitializePasswordResetResponse) {
		resp = r
		if prior != nil {
			prior(r)
		}
	}

	if err := a.resetInit.Execute(ctx, msg); err != nil {
		if HasTextCode(err, TextCodeValidation) {
			return &InitializePasswordResetResponse{Outcome: OutcomeError, Message: err.Error()}, nil
		}
		return nil, err
	}
	return resp, nil
}

// ConfirmPasswordReset consumes the token and writes the new password.
func (a *Accounts) ConfirmPasswordReset(ctx context.Context, msg FinalizePasswordResetMessage) (*FinalizePasswordResetResponse, error) {
	var resp *FinalizePasswordResetResponse
	prior := msg.OnResponse
	msg.OnResponse = func(r *FinalizePasswordResetResponse) {
		resp = r
		if prior != nil {
			prior(r)
		}
	}

	if err := a.resetFinal.Execute(ctx, msg); err != nil {
		switch {
		case HasTextCode(err, TextCodeResetTokenInvalid):
			return &FinalizePasswordResetResponse{
				Outcome: OutcomeError,
				Message: "The reset link is invalid or has expired. Request a new one.",
			}, nil
		case HasTextCode(err, TextCodeValidation):
			return &FinalizePasswordResetResponse{Outcome: OutcomeError, Message: err.Error()}, nil
		default:
			return nil, err
		}
	}
	return resp, nil
}

// GetProfile loads a profile by account id, repairing duplicate rows if
// the read finds any.
func (a *Accounts) GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return a.repo.Profiles().GetByAccountID(ctx, id)
}

// GetProfileByEmail loads the newest profile registered under the email.
func (a *Accounts) GetProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	return a.repo.Profiles().GetByEmail(ctx, email)
}

// UpdateProfile applies the caller-editable fields to the profile.
func (a *Accounts) UpdateProfile(ctx context.Context, id uuid.UUID, fields ProfileUpdate) (*Profile, error) {
	return a.repo.Profiles().UpdateFields(ctx, id, fields)
}

// ListPublicSuppliers returns the active suppliers visible to buyers.
func (a *Accounts) ListPublicSuppliers(ctx context.Context) ([]*Profile, error) {
	return a.repo.Profiles().ListPublicSuppliers(ctx)
}
