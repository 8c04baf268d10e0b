// Package gotrue implements authsession.Backend against the Supabase Auth
// (GoTrue) REST API.
package gotrue

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-authsession"
	"github.com/goliatone/go-authsession/store"
)

const (
	defaultRefreshMargin = 90 * time.Second
	defaultRetryInterval = 10 * time.Second
	minRefreshDelay      = 100 * time.Millisecond
	authPath             = "/auth/v1"
)

// Config holds the Supabase Auth connection settings.
type Config struct {
	// URL is the project URL, e.g. https://xyz.supabase.co
	URL string
	// APIKey is the anon (or service) key sent as the apikey header.
	APIKey string

	HTTPClient *http.Client
	Store      store.Store
	StorageKey string

	// AutoRefresh renews the access token RefreshMargin before it expires.
	AutoRefresh   bool
	RefreshMargin time.Duration
	// RetryInterval is the wait after a refresh that failed on transport.
	RetryInterval time.Duration

	Logger authsession.Logger
	Clock  func() time.Time
}

// Client talks to Supabase Auth and owns the current session.
type Client struct {
	config     Config
	baseURL    string
	httpClient *http.Client
	store      store.Store
	logger     authsession.Logger
	now        func() time.Time
	events     *authsession.Notifier

	mu         sync.Mutex
	session    *authsession.Session
	generation uint64
	timer      *time.Timer
	closed     bool
}

var _ authsession.Backend = (*Client)(nil)

// New creates a gotrue client. Call Start to restore a persisted session.
func New(cfg Config) *Client {
	if cfg.StorageKey == "" {
		cfg.StorageKey = store.DefaultKey
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = defaultRefreshMargin
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	st := cfg.Store
	if st == nil {
		st = store.NewMemory()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = authsession.NopLogger{}
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Client{
		config:     cfg,
		baseURL:    strings.TrimRight(cfg.URL, "/") + authPath,
		httpClient: httpClient,
		store:      st,
		logger:     logger,
		now:        now,
		events:     authsession.NewNotifier(),
	}
}

// Start restores the persisted session, refreshing it when it is expired or
// about to expire, and emits INITIAL_SESSION.
func (c *Client) Start(ctx context.Context) error {
	stored, err := c.store.Load(ctx, c.config.StorageKey)
	if err != nil {
		c.logger.Error("failed to load stored session", "error", err)
		c.emit(authsession.EventInitialSession, nil)
		return err
	}

	if stored == nil || stored.RefreshToken == "" {
		c.emit(authsession.EventInitialSession, nil)
		return nil
	}

	if !c.expiresSoon(stored) {
		c.setSession(ctx, stored, false)
		c.emit(authsession.EventInitialSession, stored.Identity)
		return nil
	}

	refreshed, err := c.refresh(ctx, stored.RefreshToken)
	switch {
	case err == nil:
		c.setSession(ctx, refreshed, true)
		c.emit(authsession.EventInitialSession, refreshed.Identity)
	case authsession.IsCredentialError(err):
		c.logger.Info("stored session rejected, discarding", "error", err)
		c.clearSession(ctx)
		c.emit(authsession.EventInitialSession, nil)
	default:
		c.logger.Warn("stored session refresh failed, will retry", "error", err)
		c.setSession(ctx, stored, false)
		c.scheduleRetry()
		c.emit(authsession.EventInitialSession, stored.Identity)
	}

	return nil
}

// OnAuthStateChange implements authsession.Backend. Notifications are
// delivered on the client's notifier goroutine.
func (c *Client) OnAuthStateChange(fn func(authsession.Notification)) func() {
	sub := c.events.Subscribe(fn)
	return sub.Unsubscribe
}

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *authsession.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}

// Close stops the refresh timer and notification delivery. The persisted
// session is kept.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()

	c.events.Close()
	return nil
}

func (c *Client) emit(event authsession.AuthEvent, identity *authsession.Identity) {
	c.events.Publish(authsession.Notification{Event: event, Identity: identity.Clone()})
}

func (c *Client) expiresSoon(s *authsession.Session) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !c.now().Add(c.config.RefreshMargin).Before(s.ExpiresAt)
}

// setSession installs s as the current session and schedules its refresh.
func (c *Client) setSession(ctx context.Context, s *authsession.Session, persist bool) {
	c.mu.Lock()
	c.session = s.Clone()
	c.generation++
	c.scheduleRefreshLocked()
	c.mu.Unlock()

	if persist {
		if err := c.store.Save(ctx, c.config.StorageKey, s); err != nil {
			c.logger.Error("failed to persist session", "error", err)
		}
	}
}

func (c *Client) clearSession(ctx context.Context) {
	c.mu.Lock()
	c.session = nil
	c.generation++
	c.stopTimerLocked()
	c.mu.Unlock()

	if err := c.store.Delete(ctx, c.config.StorageKey); err != nil {
		c.logger.Error("failed to delete stored session", "error", err)
	}
}

func (c *Client) currentSession() (*authsession.Session, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone(), c.generation
}
