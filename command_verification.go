package provision

import (
	"context"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/sethvargo/go-retry"
)

var verificationCodePattern = regexp.MustCompile(`^\d{6}$`)

type RequestVerificationMessage struct {
	Email      string           `json:"email"`
	FullName   string           `json:"full_name"`
	Purpose    ChallengePurpose `json:"purpose"`
	OnResponse func(*RequestVerificationResponse)
}

func (m RequestVerificationMessage) Type() string { return "verification.request" }

func (m RequestVerificationMessage) Validate() error {
	err := validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.EmailFormat),
		validation.Field(&m.Purpose, validation.Required, validation.In(PurposeSignup, PurposeLogin)),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid verification request").
			WithTextCode(TextCodeValidation)
	}
	return nil
}

type RequestVerificationResponse struct {
	Outcome      OutcomeStatus `json:"status"`
	Message      string        `json:"message"`
	Delivered    bool          `json:"delivered"`
	FallbackText string        `json:"fallback_text,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

type SubmitVerificationMessage struct {
	Email      string           `json:"email"`
	Password   string           `json:"password"`
	Code       string           `json:"code"`
	Purpose    ChallengePurpose `json:"purpose"`
	AccountID  string           `json:"account_id"`
	OnResponse func(*SubmitVerificationResponse)
}

func (m SubmitVerificationMessage) Type() string { return "verification.submit" }

func (m SubmitVerificationMessage) Validate() error {
	err := validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.EmailFormat),
		validation.Field(&m.Password, validation.Required),
		validation.Field(&m.Code, validation.Required),
		validation.Field(&m.Purpose, validation.Required, validation.In(PurposeSignup, PurposeLogin)),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid verification submission").
			WithTextCode(TextCodeValidation)
	}
	return nil
}

type SubmitVerificationResponse struct {
	Outcome OutcomeStatus `json:"status"`
	Message string        `json:"message"`
	Account *Account      `json:"account,omitempty"`
	Profile *Profile      `json:"profile,omitempty"`
	Token   string        `json:"token,omitempty"`
}

// VerificationHandler issues, resends, and checks email verification codes,
// then confirms the identity's email and retries sign-in with a bounded
// progressive backoff.
type VerificationHandler struct {
	repo     RepositoryManager
	identity IdentityStore
	gateway  NotificationGateway
	login    *LoginHandler
	states   ChallengeStateMachine
	config   Config
	logger   Logger
	sink     ActivitySink
}

// VerificationOption customizes the handler.
type VerificationOption func(*VerificationHandler)

// WithVerificationLogger overrides the default logger.
func WithVerificationLogger(l Logger) VerificationOption {
	return func(h *VerificationHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithVerificationActivitySink publishes verification events to the sink.
func WithVerificationActivitySink(sink ActivitySink) VerificationOption {
	return func(h *VerificationHandler) {
		h.sink = normalizeActivitySink(sink)
	}
}

// WithVerificationStateMachine overrides the challenge state machine.
func WithVerificationStateMachine(sm ChallengeStateMachine) VerificationOption {
	return func(h *VerificationHandler) {
		if sm != nil {
			h.states = sm
		}
	}
}

// NewVerificationHandler builds the verification workflow. The login handler
// is reused for the post-confirmation sign-in retries so outcome
// classification stays in one place.
func NewVerificationHandler(repo RepositoryManager, identity IdentityStore, gateway NotificationGateway, login *LoginHandler, cfg Config, opts ...VerificationOption) *VerificationHandler {
	h := &VerificationHandler{
		repo:     repo,
		identity: identity,
		gateway:  gateway,
		login:    login,
		states:   NewChallengeStateMachine(repo.VerificationChallenges()),
		config:   cfg,
		logger:   defLogger{},
		sink:     noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// RequestCode generates a six-digit code, persists the challenge, and hands
// it to the notification gateway. A send failure is surfaced as a distinct
// undelivered outcome carrying operator fallback text; it is never silently
// swallowed.
func (h *VerificationHandler) RequestCode(ctx context.Context, event RequestVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verification request",
		)
	default:
		return h.requestCode(ctx, event)
	}
}

// Resend regenerates and resends a code. Codes already in flight stay
// checkable until they expire; the caller uses whichever code it most
// recently received.
func (h *VerificationHandler) Resend(ctx context.Context, event RequestVerificationMessage) error {
	return h.RequestCode(ctx, event)
}

func (h *VerificationHandler) requestCode(ctx context.Context, event RequestVerificationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	if err := event.Validate(); err != nil {
		return err
	}

	email := NormalizeEmail(event.Email)
	code := GenerateVerificationCode()

	challenge, err := h.repo.VerificationChallenges().Issue(ctx, email, event.FullName, event.Purpose, code, h.config.GetVerificationCodeTTL())
	if err != nil {
		return err
	}

	emitActivity(ctx, h.sink, h.logger, ActivityEvent{
		EventType: ActivityEventVerificationIssued,
		Email:     email,
		Metadata: map[string]any{
			"challenge_id": challenge.ID.String(),
			"purpose":      event.Purpose,
		},
	})

	resp := &RequestVerificationResponse{ExpiresAt: challenge.ExpiresAt}

	if err := h.gateway.SendVerificationCode(ctx, email, event.FullName, code, event.Purpose); err != nil {
		h.logger.Error("verification code delivery failed for %s: %v", email, err)
		resp.Outcome = OutcomeVerificationUndelivered
		resp.Message = "We could not deliver the verification email. Contact support to receive your code."
		resp.FallbackText = ManualFallbackText(FallbackVerificationCode, map[string]string{
			"email":   email,
			"name":    event.FullName,
			"code":    code,
			"purpose": event.Purpose,
		})
	} else {
		resp.Outcome = OutcomeVerificationSent
		resp.Message = "Verification code sent. Check your inbox."
		resp.Delivered = true
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// Submit checks the submitted code against the server-held challenge. On a
// match it confirms the identity's email and retries sign-in on a bounded
// progressive schedule to absorb provider propagation delay.
func (h *VerificationHandler) Submit(ctx context.Context, event SubmitVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verification submission",
		)
	default:
		return h.submit(ctx, event)
	}
}

func (h *VerificationHandler) submit(ctx context.Context, event SubmitVerificationMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	email := NormalizeEmail(event.Email)

	if !verificationCodePattern.MatchString(event.Code) {
		return detail(ErrCodeMismatch, map[string]any{"reason": "malformed code"})
	}

	challenge, err := h.repo.VerificationChallenges().Consume(ctx, email, event.Purpose, event.Code)
	if err != nil {
		if HasTextCode(err, TextCodeCodeMismatch) {
			emitActivity(ctx, h.sink, h.logger, ActivityEvent{
				EventType: ActivityEventVerificationMismatch,
				Email:     email,
				Metadata:  map[string]any{"purpose": event.Purpose},
			})
		}
		return err
	}

	h.confirmEmail(ctx, email, event.AccountID, challenge)

	if err := h.states.Transition(ctx, challenge, ChallengeLoginRetrying); err != nil {
		h.logger.Warn("challenge state update failed for %s: %v", challenge.ID, err)
	}

	resp, err := h.retrySignIn(ctx, email, event.Password)
	if err != nil {
		return err
	}

	if resp.Outcome == OutcomeLoginSucceeded {
		if err := h.states.Transition(ctx, challenge, ChallengeLoginSucceeded); err != nil {
			h.logger.Warn("challenge state update failed for %s: %v", challenge.ID, err)
		}
	} else {
		if err := h.states.Transition(ctx, challenge, ChallengeLoginExhausted); err != nil {
			h.logger.Warn("challenge state update failed for %s: %v", challenge.ID, err)
		}
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// confirmEmail flips the provider-side confirmed flag. Best-effort: some
// providers confirm through their own link before we get here, and a
// failure only delays the retry loop below from succeeding.
func (h *VerificationHandler) confirmEmail(ctx context.Context, email, accountID string, challenge *VerificationChallenge) {
	if accountID == "" {
		account, err := h.identity.GetAccountByEmail(ctx, email)
		if err != nil {
			h.logger.Warn("account lookup for email confirmation failed for %s: %v", email, err)
			return
		}
		accountID = account.ID
	}

	if err := h.identity.ConfirmEmail(ctx, accountID); err != nil {
		h.logger.Warn("provider email confirmation failed for %s: %v", accountID, err)
		return
	}

	if err := h.states.Transition(ctx, challenge, ChallengeEmailConfirmed); err != nil {
		h.logger.Warn("challenge state update failed for %s: %v", challenge.ID, err)
	}
}

// retrySignIn runs the login workflow on a bounded progressive schedule.
// Sequential, never parallel: concurrent sign-ins against the same
// credentials can trip provider rate limits.
func (h *VerificationHandler) retrySignIn(ctx context.Context, email, password string) (*SubmitVerificationResponse, error) {
	attempts := h.config.GetLoginRetryAttempts()
	delays := h.config.GetLoginRetryDelays()

	step := 0
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		if step >= len(delays) {
			return 0, true
		}
		delay := delays[step]
		step++
		return delay, false
	})

	var last *LoginResponse
	err := retry.Do(ctx, retry.WithMaxRetries(uint64(attempts-1), backoff), func(ctx context.Context) error {
		last = nil
		loginErr := h.login.Execute(ctx, LoginMessage{
			Email:    email,
			Password: password,
			OnResponse: func(resp *LoginResponse) {
				last = resp
			},
		})
		if loginErr != nil {
			if HasTextCode(loginErr, TextCodeAuthProvider) {
				return retry.RetryableError(loginErr)
			}
			return loginErr
		}

		if last != nil && last.Outcome == OutcomeNeedsEmailConfirmation {
			// Confirmation has not propagated yet.
			return retry.RetryableError(goerrors.New("email confirmation not yet visible", goerrors.CategoryOperation).
				WithTextCode(TextCodeLoginExhausted))
		}

		return nil
	})

	if err != nil {
		if HasTextCode(err, TextCodeLoginExhausted) || HasTextCode(err, TextCodeAuthProvider) {
			emitActivity(ctx, h.sink, h.logger, ActivityEvent{
				EventType: ActivityEventVerificationExhaust,
				Email:     email,
				Metadata:  map[string]any{"attempts": attempts},
			})
			return &SubmitVerificationResponse{
				Outcome: OutcomeVerificationLoginFailed,
				Message: "Your email is verified but sign-in has not completed yet. Try again in a moment.",
			}, nil
		}
		return nil, err
	}

	if last == nil || last.Outcome != OutcomeLoginSucceeded {
		outcome := OutcomeVerificationLoginFailed
		message := "Your email is verified but sign-in did not complete. Try signing in again."
		if last != nil {
			outcome = last.Outcome
			message = last.Message
		}
		return &SubmitVerificationResponse{Outcome: outcome, Message: message}, nil
	}

	return &SubmitVerificationResponse{
		Outcome: OutcomeLoginSucceeded,
		Message: "Email verified and signed in.",
		Account: last.Account,
		Profile: last.Profile,
		Token:   last.Token,
	}, nil
}
