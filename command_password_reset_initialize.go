package provision

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

type InitializePasswordResetMessage struct {
	Email      string `json:"email"`
	OnResponse func(*InitializePasswordResetResponse)
}

func (m InitializePasswordResetMessage) Type() string { return "password_reset.initialize" }

func (m InitializePasswordResetMessage) Validate() error {
	err := validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.EmailFormat),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password reset request").
			WithTextCode(TextCodeValidation)
	}
	return nil
}

type InitializePasswordResetResponse struct {
	Outcome      OutcomeStatus `json:"status"`
	Message      string        `json:"message"`
	ResetURL     string        `json:"reset_url,omitempty"`
	FallbackText string        `json:"fallback_text,omitempty"`
}

// InitializePasswordResetHandler issues a single-use reset token and mails
// the reset link. Unknown emails get the same generic response as known
// ones so the endpoint does not leak account existence.
type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	identity IdentityStore
	gateway  NotificationGateway
	config   Config
	logger   Logger
	sink     ActivitySink
}

// ResetInitializeOption customizes the handler.
type ResetInitializeOption func(*InitializePasswordResetHandler)

// WithResetInitializeLogger overrides the default logger.
func WithResetInitializeLogger(l Logger) ResetInitializeOption {
	return func(h *InitializePasswordResetHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithResetInitializeActivitySink publishes reset events to the sink.
func WithResetInitializeActivitySink(sink ActivitySink) ResetInitializeOption {
	return func(h *InitializePasswordResetHandler) {
		h.sink = normalizeActivitySink(sink)
	}
}

// NewInitializePasswordResetHandler builds the reset-request workflow.
func NewInitializePasswordResetHandler(repo RepositoryManager, identity IdentityStore, gateway NotificationGateway, cfg Config, opts ...ResetInitializeOption) *InitializePasswordResetHandler {
	h := &InitializePasswordResetHandler{
		repo:     repo,
		identity: identity,
		gateway:  gateway,
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

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	if err := event.Validate(); err != nil {
		return err
	}

	email := NormalizeEmail(event.Email)
	generic := &InitializePasswordResetResponse{
		Outcome: OutcomeResetRequested,
		Message: "If an account exists for this email, a reset link has been sent.",
	}

	profile, err := h.repo.Profiles().GetByEmail(ctx, email)
	if err != nil {
		if HasTextCode(err, TextCodeProfileMissing) {
			// Same response as the happy path; do not reveal whether the
			// account exists.
			if event.OnResponse != nil {
				event.OnResponse(generic)
			}
			return nil
		}
		return err
	}

	ttl := h.config.GetResetTokenTTL()
	if IsBootstrapAdmin(h.config, email) {
		ttl = h.config.GetBootstrapResetTokenTTL()
	}

	reset, err := h.repo.PasswordResets().IssueToken(ctx, email, &profile.ID, ttl)
	if err != nil {
		return err
	}

	resetURL := fmt.Sprintf("%s?token=%s&email=%s", h.config.GetPasswordResetURL(), reset.ID.String(), email)

	emitActivity(ctx, h.sink, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		ProfileID: profile.ID.String(),
		Email:     email,
		Metadata:  map[string]any{"expires_at": reset.ExpiresAt},
	})

	resp := &InitializePasswordResetResponse{
		Outcome:  OutcomeResetRequested,
		Message:  generic.Message,
		ResetURL: resetURL,
	}

	subject := "Reset your password"
	body := fmt.Sprintf(
		"Hello %s,\n\nWe received a request to reset your password. Open the link below to choose a new one:\n\n%s\n\nThe link expires at %s. If you did not request a reset, ignore this email.\n",
		profile.FullName, resetURL, reset.ExpiresAt.Format(time.RFC1123),
	)

	if err := h.gateway.SendTemplated(ctx, email, subject, body); err != nil {
		h.logger.Error("reset email delivery failed for %s: %v", email, err)

		// Second channel: the provider can send its own recovery email.
		if provErr := h.identity.ResetPasswordForEmail(ctx, email, h.config.GetPasswordResetURL()); provErr != nil {
			h.logger.Error("provider recovery email also failed for %s: %v", email, provErr)
			resp.FallbackText = ManualFallbackText(FallbackPasswordReset, map[string]string{
				"email":     email,
				"reset_url": resetURL,
				"expires":   reset.ExpiresAt.Format(time.RFC1123),
			})
		}
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
