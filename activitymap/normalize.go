// Package activitymap turns authsession activity events into a flat record
// for audit pipelines.
package activitymap

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/goliatone/go-authsession"
)

const (
	// MetadataKeyEmail stores the email the action was attempted with.
	MetadataKeyEmail = "email"
	// MetadataKeyOutcome stores success or failure for sign in/up/out events.
	MetadataKeyOutcome = "outcome"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "session"
	defaultActorID    = "anonymous"
)

// Record is a transport-agnostic activity shape for downstream systems.
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*options)

type options struct {
	channel       string
	objectType    string
	actorFallback string
	now           func() time.Time
}

// WithChannel sets the channel for records.
func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = strings.TrimSpace(channel)
	}
}

// WithObjectType sets the object type for records.
func WithObjectType(objectType string) Option {
	return func(o *options) {
		o.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback sets the actor id used when the event has no user.
func WithActorFallback(actorID string) Option {
	return func(o *options) {
		o.actorFallback = strings.TrimSpace(actorID)
	}
}

// Normalize converts an activity event into a Record. The source metadata is
// not modified.
func Normalize(event authsession.ActivityEvent, opts ...Option) Record {
	o := options{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = o.now().UTC()
	}

	userID := strings.TrimSpace(event.UserID)
	actorID := userID
	if actorID == "" {
		actorID = o.actorFallback
	}

	return Record{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: o.objectType,
		ObjectID:   userID,
		Channel:    o.channel,
		Metadata:   metadata(event),
		OccurredAt: occurredAt,
	}
}

// Sink returns an ActivitySink that normalizes each event and hands the
// record to emit.
func Sink(emit func(context.Context, Record) error, opts ...Option) authsession.ActivitySink {
	return authsession.ActivitySinkFunc(func(ctx context.Context, event authsession.ActivityEvent) error {
		if emit == nil {
			return nil
		}
		return emit(ctx, Normalize(event, opts...))
	})
}

func metadata(event authsession.ActivityEvent) map[string]any {
	out := maps.Clone(event.Metadata)

	set := func(key string, value any) {
		if out == nil {
			out = map[string]any{}
		}
		if _, exists := out[key]; !exists {
			out[key] = value
		}
	}

	if email := strings.TrimSpace(event.Email); email != "" {
		set(MetadataKeyEmail, email)
	}

	verb := string(event.EventType)
	switch {
	case strings.HasSuffix(verb, ".success"):
		set(MetadataKeyOutcome, "success")
	case strings.HasSuffix(verb, ".failure"):
		set(MetadataKeyOutcome, "failure")
	}

	if len(out) == 0 {
		return nil
	}
	return out
}
