// Package memory provides an in-process authsession.Backend for local
// development and tests.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-authsession"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type account struct {
	identity     *authsession.Identity
	passwordHash string
}

// Backend keeps accounts and the current session in memory.
type Backend struct {
	mu       sync.Mutex
	accounts map[string]*account
	session  *authsession.Session
	failures []error

	events *authsession.Notifier

	requireConfirmation bool
	hashCost            int
	tokenTTL            time.Duration
	now                 func() time.Time
}

var _ authsession.Backend = (*Backend)(nil)

// Option configures the memory backend.
type Option func(*Backend)

// WithRequireConfirmation makes SignUp return an unconfirmed identity with
// no session, like a project with email confirmation enabled.
func WithRequireConfirmation() Option {
	return func(b *Backend) {
		b.requireConfirmation = true
	}
}

// WithHashCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(b *Backend) {
		b.hashCost = cost
	}
}

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) Option {
	return func(b *Backend) {
		if clock != nil {
			b.now = clock
		}
	}
}

// New returns an empty backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		accounts: make(map[string]*account),
		events:   authsession.NewNotifier(),
		hashCost: bcrypt.DefaultCost,
		tokenTTL: time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// AddUser registers a confirmed account without opening a session.
func (b *Backend) AddUser(email, password string) (*authsession.Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.hashCost)
	if err != nil {
		return nil, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	confirmed := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.accounts[email]; ok {
		return nil, authsession.NewConflictError("User already registered")
	}

	identity := &authsession.Identity{
		ID:               uuid.NewString(),
		Email:            email,
		EmailConfirmedAt: &confirmed,
		Role:             "authenticated",
	}
	b.accounts[email] = &account{identity: identity, passwordHash: string(hash)}
	return identity.Clone(), nil
}

// ConfirmEmail marks the account as confirmed.
func (b *Backend) ConfirmEmail(email string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[strings.ToLower(email)]
	if !ok {
		return false
	}
	confirmed := b.now()
	acc.identity.EmailConfirmedAt = &confirmed
	return true
}

// FailNext queues err to be returned by the next backend operation instead
// of its normal result. Queued errors are consumed in order.
func (b *Backend) FailNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, err)
}

// Emit publishes a notification as if the transition happened elsewhere,
// e.g. in another process sharing the account.
func (b *Backend) Emit(event authsession.AuthEvent, identity *authsession.Identity) {
	b.events.Publish(authsession.Notification{Event: event, Identity: identity.Clone()})
}

func (b *Backend) takeFailureLocked() error {
	if len(b.failures) == 0 {
		return nil
	}
	err := b.failures[0]
	b.failures = b.failures[1:]
	return err
}

func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (*authsession.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, authsession.NewTransportError("sign in: request interrupted", err)
	}

	b.mu.Lock()
	if err := b.takeFailureLocked(); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	acc, ok := b.accounts[strings.ToLower(email)]
	b.mu.Unlock()

	if !ok {
		return nil, authsession.NewCredentialError("Invalid login credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.passwordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, authsession.NewCredentialError("Invalid login credentials")
		}
		return nil, authsession.NewUnknownAuthError("sign in: password check failed", err)
	}

	session := b.open(acc.identity)
	b.events.Publish(authsession.Notification{Event: authsession.EventSignedIn, Identity: session.Identity.Clone()})
	return session, nil
}

func (b *Backend) SignUp(ctx context.Context, email, password string) (*authsession.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, authsession.NewTransportError("sign up: request interrupted", err)
	}

	b.mu.Lock()
	err := b.takeFailureLocked()
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.hashCost)
	if err != nil {
		return nil, authsession.NewUnknownAuthError("sign up: failed to hash password", err)
	}

	identity := &authsession.Identity{
		ID:    uuid.NewString(),
		Email: strings.ToLower(email),
		Role:  "authenticated",
	}
	if !b.requireConfirmation {
		confirmed := b.now()
		identity.EmailConfirmedAt = &confirmed
	}

	b.mu.Lock()
	if _, exists := b.accounts[identity.Email]; exists {
		b.mu.Unlock()
		return nil, authsession.NewConflictError("User already registered")
	}
	b.accounts[identity.Email] = &account{identity: identity, passwordHash: string(hash)}
	b.mu.Unlock()

	if b.requireConfirmation {
		return &authsession.Session{Identity: identity.Clone()}, nil
	}

	session := b.open(identity)
	b.events.Publish(authsession.Notification{Event: authsession.EventSignedIn, Identity: session.Identity.Clone()})
	return session, nil
}

func (b *Backend) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return authsession.NewTransportError("sign out: request interrupted", err)
	}

	b.mu.Lock()
	if err := b.takeFailureLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.session = nil
	b.mu.Unlock()

	b.events.Publish(authsession.Notification{Event: authsession.EventSignedOut})
	return nil
}

func (b *Backend) GetUser(ctx context.Context) (*authsession.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, authsession.NewTransportError("get user: request interrupted", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailureLocked(); err != nil {
		return nil, err
	}
	if b.session == nil {
		return nil, nil
	}
	if b.session.Expired(b.now()) {
		return nil, authsession.NewCredentialError("session expired")
	}
	return b.session.Identity.Clone(), nil
}

func (b *Backend) OnAuthStateChange(fn func(authsession.Notification)) func() {
	return b.events.Subscribe(fn).Unsubscribe
}

// Session returns a copy of the current session, or nil.
func (b *Backend) Session() *authsession.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.Clone()
}

// Close stops notification delivery.
func (b *Backend) Close() error {
	b.events.Close()
	return nil
}

func (b *Backend) open(identity *authsession.Identity) *authsession.Session {
	session := &authsession.Session{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		TokenType:    "bearer",
		ExpiresAt:    b.now().Add(b.tokenTTL),
		Identity:     identity.Clone(),
	}

	b.mu.Lock()
	b.session = session
	b.mu.Unlock()

	return session.Clone()
}
