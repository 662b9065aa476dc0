package provision

import (
	"context"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ProviderErrorKind is the closed set of provider failure classes the
// workflows branch on. Provider error text changes across versions; nothing
// outside this file may match on message substrings.
type ProviderErrorKind string

const (
	ProviderErrInvalidCredentials ProviderErrorKind = "invalid_credentials"
	ProviderErrEmailNotConfirmed  ProviderErrorKind = "email_not_confirmed"
	ProviderErrAlreadyRegistered  ProviderErrorKind = "already_registered"
	ProviderErrInvalidEmail       ProviderErrorKind = "invalid_email"
	ProviderErrRateLimited        ProviderErrorKind = "rate_limited"
	ProviderErrUnavailable        ProviderErrorKind = "unavailable"
	ProviderErrUnknown            ProviderErrorKind = "unknown"
)

// ProviderErrorClassifier maps provider-native errors to a stable kind.
type ProviderErrorClassifier interface {
	Classify(err error) ProviderErrorKind
}

// ProviderErrorClassifierFunc adapts a function to the interface.
type ProviderErrorClassifierFunc func(err error) ProviderErrorKind

func (f ProviderErrorClassifierFunc) Classify(err error) ProviderErrorKind {
	if f == nil {
		return ProviderErrUnknown
	}
	return f(err)
}

type classifierRule struct {
	fragment string
	kind     ProviderErrorKind
}

type substringClassifier struct {
	rules []classifierRule
}

// NewProviderErrorClassifier returns the default classifier. Rules are
// matched case-insensitively against the full error text, first match wins;
// the rule set is exercised by fixtures of real provider responses.
func NewProviderErrorClassifier() ProviderErrorClassifier {
	return &substringClassifier{
		rules: []classifierRule{
			{"email not confirmed", ProviderErrEmailNotConfirmed},
			{"email address not confirmed", ProviderErrEmailNotConfirmed},
			{"invalid login credentials", ProviderErrInvalidCredentials},
			{"invalid grant", ProviderErrInvalidCredentials},
			{"invalid_grant", ProviderErrInvalidCredentials},
			{"user not found", ProviderErrInvalidCredentials},
			{"already registered", ProviderErrAlreadyRegistered},
			{"already been registered", ProviderErrAlreadyRegistered},
			{"already exists", ProviderErrAlreadyRegistered},
			{"duplicate key", ProviderErrAlreadyRegistered},
			{"unable to validate email", ProviderErrInvalidEmail},
			{"invalid email", ProviderErrInvalidEmail},
			{"invalid format", ProviderErrInvalidEmail},
			{"too many requests", ProviderErrRateLimited},
			{"rate limit", ProviderErrRateLimited},
			{"over_email_send_rate_limit", ProviderErrRateLimited},
			{"context deadline exceeded", ProviderErrUnavailable},
			{"connection refused", ProviderErrUnavailable},
			{"service unavailable", ProviderErrUnavailable},
			{"timeout", ProviderErrUnavailable},
			{"bad gateway", ProviderErrUnavailable},
		},
	}
}

func (c *substringClassifier) Classify(err error) ProviderErrorKind {
	if err == nil {
		return ProviderErrUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ProviderErrUnavailable
	}

	text := strings.ToLower(err.Error())
	for _, rule := range c.rules {
		if strings.Contains(text, rule.fragment) {
			return rule.kind
		}
	}

	return ProviderErrUnknown
}

// classifyProviderError re-surfaces a provider failure with a stable
// internal tag, keeping the original message for diagnostics.
func classifyProviderError(classifier ProviderErrorClassifier, err error, op string) error {
	kind := ProviderErrUnknown
	if classifier != nil {
		kind = classifier.Classify(err)
	}

	switch kind {
	case ProviderErrInvalidCredentials:
		return goerrors.Wrap(err, goerrors.CategoryAuth, "invalid email or password").
			WithTextCode(TextCodeInvalidCredentials).
			WithMetadata(map[string]any{"op": op, "provider_error": err.Error()})
	case ProviderErrAlreadyRegistered:
		return goerrors.Wrap(err, goerrors.CategoryConflict, "an account with this email already exists").
			WithTextCode(TextCodeDuplicateAccount).
			WithMetadata(map[string]any{"op": op, "provider_error": err.Error()})
	case ProviderErrInvalidEmail:
		return goerrors.Wrap(err, goerrors.CategoryValidation, "email address was rejected by the identity provider").
			WithTextCode(TextCodeValidation).
			WithMetadata(map[string]any{"op": op, "provider_error": err.Error()})
	case ProviderErrRateLimited, ProviderErrUnavailable:
		return goerrors.Wrap(err, goerrors.CategoryInternal, "identity provider is unavailable").
			WithTextCode(TextCodeAuthProvider).
			WithMetadata(map[string]any{"op": op, "kind": string(kind), "provider_error": err.Error()})
	default:
		return goerrors.Wrap(err, goerrors.CategoryInternal, "identity provider request failed").
			WithTextCode(TextCodeAuthProvider).
			WithMetadata(map[string]any{"op": op, "provider_error": err.Error()})
	}
}
