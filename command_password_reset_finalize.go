package provision

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type FinalizePasswordResetMessage struct {
	Email      string `json:"email"`
	Token      string `json:"token"`
	Password   string `json:"password"`
	OnResponse func(*FinalizePasswordResetResponse)
}

func (m FinalizePasswordResetMessage) Type() string { return "password_reset.finalize" }

func (m FinalizePasswordResetMessage) Validate() error {
	err := validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.EmailFormat),
		validation.Field(&m.Token, validation.Required, is.UUIDv4),
		validation.Field(&m.Password, validation.Required, validation.Length(MinPasswordLength, 0)),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password reset confirmation").
			WithTextCode(TextCodeValidation)
	}
	return nil
}

type FinalizePasswordResetResponse struct {
	Outcome OutcomeStatus `json:"status"`
	Message string        `json:"message"`
}

// FinalizePasswordResetHandler consumes a reset token and writes the new
// password through the identity provider.
type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	identity IdentityStore
	config   Config
	logger   Logger
	sink     ActivitySink
}

// ResetFinalizeOption customizes the handler.
type ResetFinalizeOption func(*FinalizePasswordResetHandler)

// WithResetFinalizeLogger overrides the default logger.
func WithResetFinalizeLogger(l Logger) ResetFinalizeOption {
	return func(h *FinalizePasswordResetHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithResetFinalizeActivitySink publishes reset events to the sink.
func WithResetFinalizeActivitySink(sink ActivitySink) ResetFinalizeOption {
	return func(h *FinalizePasswordResetHandler) {
		h.sink = normalizeActivitySink(sink)
	}
}

// NewFinalizePasswordResetHandler builds the reset-confirmation workflow.
func NewFinalizePasswordResetHandler(repo RepositoryManager, identity IdentityStore, cfg Config, opts ...ResetFinalizeOption) *FinalizePasswordResetHandler {
	h := &FinalizePasswordResetHandler{
		repo:     repo,
		identity: identity,
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

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	if err := event.Validate(); err != nil {
		return err
	}

	email := NormalizeEmail(event.Email)

	token, err := uuid.Parse(event.Token)
	if err != nil {
		return goerrors.Wrap(ErrResetTokenInvalid, goerrors.CategoryValidation, "malformed reset token").
			WithTextCode(TextCodeResetTokenInvalid)
	}

	// Validate first, consume last: a transient provider failure must not
	// burn the single-use link before the password actually changed.
	reset, err := h.repo.PasswordResets().CheckToken(ctx, token, email)
	if err != nil {
		return err
	}

	account, err := h.identity.GetAccountByEmail(ctx, email)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account for password change").
			WithTextCode(TextCodeAuthProvider)
	}

	if err := h.identity.UpdatePassword(ctx, account.ID, event.Password); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password").
			WithTextCode(TextCodeAuthProvider)
	}

	if _, err := h.repo.PasswordResets().ConsumeToken(ctx, token, email); err != nil {
		// The password is already changed; the caller gets their success.
		// A stale token here only lets the same link holder repeat the
		// change they just made.
		h.logger.Warn("failed to consume reset token %s: %v", reset.ID, err)
	}

	emitActivity(ctx, h.sink, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetChanged,
		Email:     email,
		Metadata:  map[string]any{"reset_id": reset.ID.String()},
	})

	if event.OnResponse != nil {
		event.OnResponse(&FinalizePasswordResetResponse{
			Outcome: OutcomePasswordChanged,
			Message: "Password updated. You can sign in with your new password.",
		})
	}

	return nil
}
