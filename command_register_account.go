package provision

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

// MinPasswordLength is the shortest password the platform accepts
const MinPasswordLength = 6

type RegisterAccountMessage struct {
	Email           string      `json:"email"`
	Password        string      `json:"password"`
	FullName        string      `json:"full_name"`
	CompanyName     string      `json:"company_name"`
	Phone           string      `json:"phone"`
	Role            ProfileRole `json:"role"`
	BusinessLicense string      `json:"business_license"`
	Address         string      `json:"address"`
	OnResponse      func(*RegisterAccountResponse)
}

func (m RegisterAccountMessage) Type() string { return "account.register" }

// Validate performs all input checks up front; no I/O happens before it
// passes.
func (m RegisterAccountMessage) Validate() error {
	err := validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.EmailFormat),
		validation.Field(&m.Password, validation.Required, validation.Length(MinPasswordLength, 100)),
		validation.Field(&m.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&m.CompanyName, validation.Length(0, 200)),
		validation.Field(&m.Role, validation.Required, validation.In(RoleBuyer, RoleSupplier, RoleAdmin)),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration input").
			WithTextCode(TextCodeValidation)
	}
	return nil
}

type RegisterAccountResponse struct {
	Outcome              OutcomeStatus `json:"status"`
	Message              string        `json:"message"`
	AccountID            string        `json:"account_id,omitempty"`
	AccountCode          string        `json:"account_code,omitempty"`
	Profile              *Profile      `json:"profile,omitempty"`
	VerificationRequired bool          `json:"verification_required"`
}

// RegisterAccountHandler orchestrates account creation across the identity
// provider and the profile store, compensating on partial failure.
type RegisterAccountHandler struct {
	repo       RepositoryManager
	identity   IdentityStore
	classifier ProviderErrorClassifier
	config     Config
	logger     Logger
	sink       ActivitySink
}

// RegisterOption customizes the handler.
type RegisterOption func(*RegisterAccountHandler)

// WithRegisterLogger overrides the default logger.
func WithRegisterLogger(l Logger) RegisterOption {
	return func(h *RegisterAccountHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithRegisterActivitySink publishes registration events to the given sink.
func WithRegisterActivitySink(sink ActivitySink) RegisterOption {
	return func(h *RegisterAccountHandler) {
		h.sink = normalizeActivitySink(sink)
	}
}

// WithRegisterClassifier overrides the provider error classifier.
func WithRegisterClassifier(c ProviderErrorClassifier) RegisterOption {
	return func(h *RegisterAccountHandler) {
		if c != nil {
			h.classifier = c
		}
	}
}

// NewRegisterAccountHandler builds the registration workflow.
func NewRegisterAccountHandler(repo RepositoryManager, identity IdentityStore, cfg Config, opts ...RegisterOption) *RegisterAccountHandler {
	h := &RegisterAccountHandler{
		repo:       repo,
		identity:   identity,
		classifier: NewProviderErrorClassifier(),
		config:     cfg,
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

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	if err := event.Validate(); err != nil {
		return err
	}

	email := NormalizeEmail(event.Email)
	role := event.Role
	bootstrap := IsBootstrapAdmin(h.config, email)
	if bootstrap {
		role = RoleAdmin
	}

	phone := normalizePhone(event.Phone)

	// Registering the same email twice fails here, before any identity or
	// profile is created.
	exists, err := h.repo.Profiles().Exists(ctx, email)
	if err != nil {
		return err
	}
	if exists {
		h.emit(ctx, ActivityEventRegistrationFailed, email, "", map[string]any{"reason": "duplicate"})
		return detail(ErrDuplicateAccount, map[string]any{"email": email})
	}

	accountCode := GenerateAccountCode(role)

	account, err := h.identity.SignUp(ctx, email, event.Password, map[string]any{
		"full_name":    event.FullName,
		"role":         role,
		"account_code": accountCode,
		"company_name": event.CompanyName,
	})
	if err != nil {
		h.emit(ctx, ActivityEventRegistrationFailed, email, "", map[string]any{"stage": "sign_up"})
		return classifyProviderError(h.classifier, err, "sign_up")
	}

	profile := &Profile{
		ID:              accountUUID(account.ID),
		AccountCode:     accountCode,
		Email:           email,
		FullName:        event.FullName,
		Phone:           phone,
		CompanyName:     event.CompanyName,
		Role:            role,
		BusinessLicense: event.BusinessLicense,
		Address:         event.Address,
	}

	var createOpts []ProfileCreateOption
	if bootstrap {
		createOpts = append(createOpts, WithBootstrapProvision())
	}

	created, err := h.repo.Profiles().CreateProfile(ctx, profile, createOpts...)
	if err != nil {
		h.compensate(ctx, account, email)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "profile creation failed after account creation").
			WithTextCode(TextCodeProfileCreation).
			WithMetadata(map[string]any{"account_id": account.ID})
	}

	resp := &RegisterAccountResponse{
		AccountID:   account.ID,
		AccountCode: created.AccountCode,
		Profile:     created,
	}

	if bootstrap {
		resp.Outcome = OutcomeRegistered
		resp.Message = "Registration complete. You can sign in now."
	} else {
		resp.Outcome = OutcomeVerificationRequired
		resp.VerificationRequired = true
		resp.Message = "Registration complete. Check your email for a verification code."
	}

	h.emit(ctx, ActivityEventRegistered, email, account.ID, map[string]any{
		"role":         created.Role,
		"account_code": created.AccountCode,
		"bootstrap":    bootstrap,
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// compensate deletes the identity created just before profile creation
// failed. Best-effort: its own failure is logged and reported to the sink
// for manual repair, never returned to the caller.
func (h *RegisterAccountHandler) compensate(ctx context.Context, account *Account, email string) {
	if err := h.identity.DeleteAccount(ctx, account.ID); err != nil {
		h.logger.Error("compensating delete failed, orphaned account %s remains: %v", account.ID, err)
		h.emit(ctx, ActivityEventCompensationFailed, email, account.ID, map[string]any{
			"error": err.Error(),
		})
		return
	}

	h.emit(ctx, ActivityEventCompensationRan, email, account.ID, nil)
}

func (h *RegisterAccountHandler) emit(ctx context.Context, eventType ActivityEventType, email, accountID string, metadata map[string]any) {
	emitActivity(ctx, h.sink, h.logger, ActivityEvent{
		EventType: eventType,
		ProfileID: accountID,
		Email:     email,
		Metadata:  metadata,
	})
}

// accountUUID correlates a provider account id with the profile primary key.
// Providers hand back UUIDs; anything else gets a deterministic UUID derived
// from the raw id so repeated correlation stays stable.
func accountUUID(id string) uuid.UUID {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed
	}
	if derived, err := hashid.NewUUID(id); err == nil {
		return derived
	}
	return uuid.New()
}

// normalizePhone formats a phone number to E.164 when it parses; otherwise
// the trimmed input is stored as-is since phone is optional metadata.
func normalizePhone(phone string) string {
	if phone == "" {
		return ""
	}

	parsed, err := phonenumbers.Parse(phone, "")
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return phone
	}

	return phonenumbers.Format(parsed, phonenumbers.E164)
}
