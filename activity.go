package provision

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventRegistered           ActivityEventType = "account.registered"
	ActivityEventRegistrationFailed   ActivityEventType = "account.registration.failed"
	ActivityEventCompensationRan      ActivityEventType = "account.compensation.deleted"
	ActivityEventCompensationFailed   ActivityEventType = "account.compensation.failed"
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventProfileRepaired      ActivityEventType = "profile.duplicates.repaired"
	ActivityEventProfileSelfHealed    ActivityEventType = "profile.bootstrap.healed"
	ActivityEventVerificationIssued   ActivityEventType = "verification.code.issued"
	ActivityEventVerificationMatched  ActivityEventType = "verification.code.matched"
	ActivityEventVerificationMismatch ActivityEventType = "verification.code.mismatch"
	ActivityEventVerificationExhaust  ActivityEventType = "verification.login.exhausted"
	ActivityEventPasswordResetRequest ActivityEventType = "password.reset.requested"
	ActivityEventPasswordResetChanged ActivityEventType = "password.reset.changed"
)

// ActorRef identifies who or what triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	ProfileID  string
	Email      string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks run best-effort; errors are logged and never block a workflow.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

func emitActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		if logger == nil {
			logger = defLogger{}
		}
		logger.Warn("activity sink record error: %v", err)
	}
}
