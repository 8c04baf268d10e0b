package authsession

import (
	"context"
	"time"
)

// ActivityEventType names an auditable client action.
type ActivityEventType string

const (
	ActivityEventSignInSuccess  ActivityEventType = "auth.signin.success"
	ActivityEventSignInFailure  ActivityEventType = "auth.signin.failure"
	ActivityEventSignUpSuccess  ActivityEventType = "auth.signup.success"
	ActivityEventSignUpFailure  ActivityEventType = "auth.signup.failure"
	ActivityEventSignOutSuccess ActivityEventType = "auth.signout.success"
	ActivityEventSignOutFailure ActivityEventType = "auth.signout.failure"
	ActivityEventSessionChanged ActivityEventType = "auth.session.changed"
)

// ActivityEvent is emitted after every client call and every session
// transition. Email is the normalized address when one was supplied.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Email      string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink receives activity events. Record failures are logged and
// never fail the originating call.
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

type discardSink struct{}

func (discardSink) Record(context.Context, ActivityEvent) error { return nil }

func normalizeActivitySink(sink ActivitySink) ActivitySink {
	if sink == nil {
		return discardSink{}
	}
	return sink
}
