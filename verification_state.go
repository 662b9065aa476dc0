package provision

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ErrInvalidChallengeTransition is returned when a requested state change is
// not allowed by the challenge lifecycle.
var ErrInvalidChallengeTransition = goerrors.New("invalid verification challenge transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidStateChange).
	WithCode(goerrors.CodeBadRequest)

// ChallengeStateMachine centralizes the verification lifecycle:
//
//	issued → matched → email_confirmed → login_retrying → login_succeeded
//	                                                    → login_exhausted
//	issued → mismatched (terminal per attempt; the caller may resubmit
//	against a fresh read of the challenge)
type ChallengeStateMachine interface {
	Transition(ctx context.Context, challenge *VerificationChallenge, target ChallengeState) error
	CurrentState(challenge *VerificationChallenge) ChallengeState
}

// ChallengeStateMachineOption customizes construction.
type ChallengeStateMachineOption func(*challengeStateMachine)

// WithChallengeStateClock injects a custom clock (useful for tests).
func WithChallengeStateClock(clock func() time.Time) ChallengeStateMachineOption {
	return func(sm *challengeStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithChallengeStateActivitySink publishes lifecycle events to the sink.
func WithChallengeStateActivitySink(sink ActivitySink) ChallengeStateMachineOption {
	return func(sm *challengeStateMachine) {
		sm.sink = normalizeActivitySink(sink)
	}
}

// WithChallengeStateLogger overrides the logger used for sink failures.
func WithChallengeStateLogger(logger Logger) ChallengeStateMachineOption {
	return func(sm *challengeStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// NewChallengeStateMachine returns the default implementation backed by the
// challenge store.
func NewChallengeStateMachine(challenges VerificationChallenges, opts ...ChallengeStateMachineOption) ChallengeStateMachine {
	sm := &challengeStateMachine{
		challenges: challenges,
		transitions: map[ChallengeState]map[ChallengeState]struct{}{
			ChallengeIssued: {
				ChallengeMatched:    {},
				ChallengeMismatched: {},
			},
			ChallengeMatched: {
				ChallengeEmailConfirmed: {},
				ChallengeLoginRetrying:  {},
			},
			ChallengeEmailConfirmed: {
				ChallengeLoginRetrying: {},
			},
			ChallengeLoginRetrying: {
				ChallengeLoginSucceeded: {},
				ChallengeLoginExhausted: {},
			},
		},
		now:    time.Now,
		sink:   noopActivitySink{},
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type challengeStateMachine struct {
	challenges  VerificationChallenges
	transitions map[ChallengeState]map[ChallengeState]struct{}
	now         func() time.Time
	sink        ActivitySink
	logger      Logger
}

func (sm *challengeStateMachine) Transition(ctx context.Context, challenge *VerificationChallenge, target ChallengeState) error {
	if challenge == nil {
		return detail(ErrInvalidChallengeTransition, map[string]any{
			"target": target,
			"reason": "challenge is nil",
		})
	}

	from := challenge.State
	if from == "" {
		from = ChallengeIssued
	}

	if target == "" {
		return detail(ErrInvalidChallengeTransition, map[string]any{
			"reason": "target state is empty",
		})
	}

	if from == target {
		return nil
	}

	if !sm.canTransition(from, target) {
		return detail(ErrInvalidChallengeTransition, map[string]any{
			"from": from,
			"to":   target,
		})
	}

	if err := sm.challenges.UpdateState(ctx, challenge.ID, target); err != nil {
		return err
	}

	challenge.State = target

	emitActivity(ctx, sm.sink, sm.logger, ActivityEvent{
		EventType:  challengeEventType(target),
		Email:      challenge.Email,
		OccurredAt: sm.now(),
		Metadata: map[string]any{
			"challenge_id": challenge.ID.String(),
			"purpose":      challenge.Purpose,
			"from":         from,
			"to":           target,
		},
	})

	return nil
}

func (sm *challengeStateMachine) CurrentState(challenge *VerificationChallenge) ChallengeState {
	if challenge == nil {
		return ""
	}
	if challenge.State == "" {
		return ChallengeIssued
	}
	return challenge.State
}

func (sm *challengeStateMachine) canTransition(from, to ChallengeState) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func challengeEventType(state ChallengeState) ActivityEventType {
	switch state {
	case ChallengeMatched:
		return ActivityEventVerificationMatched
	case ChallengeMismatched:
		return ActivityEventVerificationMismatch
	case ChallengeLoginExhausted:
		return ActivityEventVerificationExhaust
	default:
		return ActivityEventVerificationIssued
	}
}
