package authsession

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

var _ IdentitySource = (*Client)(nil)

// Client is the AuthSession client. Create one per process and share it.
type Client struct {
	backend      Backend
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time

	events  *Notifier
	release func()

	mu     sync.RWMutex
	closed bool
}

// ClientOption customizes client construction.
type ClientOption func(*Client)

// WithLogger overrides the client logger.
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func WithActivitySink(sink ActivitySink) ClientOption {
	return func(c *Client) {
		c.activitySink = normalizeActivitySink(sink)
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient wires a Client to backend and registers the single upstream
// subscription every local subscriber shares.
func NewClient(backend Backend, opts ...ClientOption) *Client {
	c := &Client{
		backend:      backend,
		logger:       defLogger{},
		activitySink: discardSink{},
		now:          time.Now,
		events:       NewNotifier(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.logger = normalizeLogger(c.logger)
	c.release = backend.OnAuthStateChange(c.handleNotification)

	return c
}

// SignIn authenticates with email and password and returns the identity.
// It does not touch any cached state; subscribers learn about the new session
// through the notification stream.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		c.record(ctx, ActivityEventSignInFailure, nil, email, err)
		return nil, err
	}

	session, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		err = normalizeError("sign in", err)
		c.logger.Error("SignIn failed", "email", email, "error", err)
		c.record(ctx, ActivityEventSignInFailure, nil, email, err)
		return nil, err
	}

	if session == nil || session.Identity == nil {
		err = NewUnknownAuthError("sign in: identity service returned no user", nil)
		c.logger.Error("SignIn returned empty session", "email", email)
		c.record(ctx, ActivityEventSignInFailure, nil, email, err)
		return nil, err
	}

	identity := session.Identity.Clone()
	c.logger.Debug("SignIn succeeded", "user_id", identity.ID)
	c.record(ctx, ActivityEventSignInSuccess, identity, email, nil)

	return identity, nil
}

// SignUp creates an account. The returned identity may still need email
// confirmation, in which case no session is established.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		c.record(ctx, ActivityEventSignUpFailure, nil, email, err)
		return nil, err
	}

	session, err := c.backend.SignUp(ctx, email, password)
	if err != nil {
		err = normalizeError("sign up", err)
		c.logger.Error("SignUp failed", "email", email, "error", err)
		c.record(ctx, ActivityEventSignUpFailure, nil, email, err)
		return nil, err
	}

	if session == nil || session.Identity == nil {
		err = NewUnknownAuthError("sign up: identity service returned no user", nil)
		c.logger.Error("SignUp returned empty session", "email", email)
		c.record(ctx, ActivityEventSignUpFailure, nil, email, err)
		return nil, err
	}

	identity := session.Identity.Clone()
	c.logger.Debug("SignUp succeeded", "user_id", identity.ID, "session", session.Active())
	c.record(ctx, ActivityEventSignUpSuccess, identity, email, nil)

	return identity, nil
}

// SignOut ends the current session. The backend emits SIGNED_OUT afterwards.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}

	if err := c.backend.SignOut(ctx); err != nil {
		err = normalizeError("sign out", err)
		c.logger.Error("SignOut failed", "error", err)
		c.record(ctx, ActivityEventSignOutFailure, nil, "", err)
		return err
	}

	c.record(ctx, ActivityEventSignOutSuccess, nil, "", nil)
	return nil
}

// GetCurrentIdentity returns the identity of the active session, or nil when
// there is none. Only transport failures are reported as errors.
func (c *Client) GetCurrentIdentity(ctx context.Context) (*Identity, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}

	identity, err := c.backend.GetUser(ctx)
	if err != nil {
		err = normalizeError("get current identity", err)
		if IsCredentialError(err) {
			// a rejected or expired token means there is no usable session
			c.logger.Debug("GetCurrentIdentity found no valid session", "error", err)
			return nil, nil
		}
		c.logger.Error("GetCurrentIdentity failed", "error", err)
		return nil, err
	}

	return identity.Clone(), nil
}

// SubscribeToChanges registers fn for every session transition. fn receives
// nil when the transition leaves no identity. fn is never called before
// SubscribeToChanges returns.
func (c *Client) SubscribeToChanges(fn func(*Identity)) Subscription {
	if fn == nil {
		return c.Subscribe(nil)
	}
	return c.Subscribe(func(n Notification) {
		fn(n.Identity)
	})
}

// Subscribe is SubscribeToChanges with the event kind included.
func (c *Client) Subscribe(fn func(Notification)) Subscription {
	if c.isClosed() {
		return newSubscription(nil)
	}
	return c.events.Subscribe(fn)
}

// Subscribers returns the number of live local subscriptions.
func (c *Client) Subscribers() int {
	return c.events.Len()
}

// Close releases the upstream subscription and drops local subscribers.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.release != nil {
		c.release()
	}
	c.events.Close()
	return nil
}

func (c *Client) handleNotification(n Notification) {
	if c.isClosed() {
		return
	}
	c.logger.Debug("auth state changed", "event", n.Event, "authenticated", n.Identity != nil)
	c.record(context.Background(), ActivityEventSessionChanged, n.Identity, "", nil, map[string]any{
		"event": string(n.Event),
	})
	c.events.Publish(n)
}

func (c *Client) ensureOpen() error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) record(ctx context.Context, eventType ActivityEventType, identity *Identity, email string, err error, extra ...map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Email:      email,
		Metadata:   map[string]any{},
		OccurredAt: c.now(),
	}

	if identity != nil {
		event.UserID = identity.ID
		if event.Email == "" {
			event.Email = identity.Email
		}
	}

	if err != nil {
		event.Metadata["error"] = err.Error()
	}

	for _, m := range extra {
		for k, v := range m {
			event.Metadata[k] = v
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if sinkErr := normalizeActivitySink(c.activitySink).Record(ctx, event); sinkErr != nil {
		c.logger.Warn("activity sink record error", "error", sinkErr)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailRule checks email syntax only; no DNS lookups are made.
var EmailRule = validation.Match(regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)).Error("must be a valid email address")

func validateCredentials(email, password string) error {
	if err := validation.Validate(email, validation.Required, EmailRule); err != nil {
		return NewCredentialError("invalid email: " + err.Error())
	}
	if err := validation.Validate(password, validation.Required); err != nil {
		return NewCredentialError("invalid password: " + err.Error())
	}
	return nil
}
