package authsession_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-authsession"
	"github.com/stretchr/testify/mock"
)

// MockBackend is a testify mock for authsession.Backend. Notifications are
// delivered through a real Notifier so they stay asynchronous.
type MockBackend struct {
	mock.Mock

	events        *authsession.Notifier
	registrations atomic.Int32
	releases      atomic.Int32
}

func NewMockBackend() *MockBackend {
	return &MockBackend{events: authsession.NewNotifier()}
}

func (m *MockBackend) SignInWithPassword(ctx context.Context, email, password string) (*authsession.Session, error) {
	args := m.Called(ctx, email, password)
	s, _ := args.Get(0).(*authsession.Session)
	return s, args.Error(1)
}

func (m *MockBackend) SignUp(ctx context.Context, email, password string) (*authsession.Session, error) {
	args := m.Called(ctx, email, password)
	s, _ := args.Get(0).(*authsession.Session)
	return s, args.Error(1)
}

func (m *MockBackend) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBackend) GetUser(ctx context.Context) (*authsession.Identity, error) {
	args := m.Called(ctx)
	identity, _ := args.Get(0).(*authsession.Identity)
	return identity, args.Error(1)
}

func (m *MockBackend) OnAuthStateChange(fn func(authsession.Notification)) func() {
	m.registrations.Add(1)
	sub := m.events.Subscribe(fn)
	var once sync.Once
	return func() {
		once.Do(func() {
			m.releases.Add(1)
			sub.Unsubscribe()
		})
	}
}

func (m *MockBackend) Emit(event authsession.AuthEvent, identity *authsession.Identity) {
	m.events.Publish(authsession.Notification{Event: event, Identity: identity})
}

// fakeSource is a hand driven authsession.IdentitySource for observer tests.
// Gates, when set, block the matching call until closed.
type fakeSource struct {
	mu sync.Mutex

	current    *authsession.Identity
	currentErr error
	getGate    chan struct{}

	subscribeGate chan struct{}
	listeners     map[int]func(*authsession.Identity)
	nextID        int
	subscribes    atomic.Int32
	releases      atomic.Int32

	signInResult   *authsession.Identity
	signInErr      error
	signOutErr     error
	signOutGate    chan struct{}
	signOutStarted chan struct{}
	signUpErr      error
	// inFlight runs inside SignIn and SignOut before they return.
	inFlight func()
}

func newFakeSource() *fakeSource {
	return &fakeSource{listeners: map[int]func(*authsession.Identity){}}
}

func (f *fakeSource) SignIn(ctx context.Context, email, password string) (*authsession.Identity, error) {
	f.mu.Lock()
	hook := f.inFlight
	err := f.signInErr
	result := f.signInResult.Clone()
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *fakeSource) SignUp(ctx context.Context, email, password string) (*authsession.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	return &authsession.Identity{ID: "new", Email: email}, nil
}

func (f *fakeSource) SignOut(ctx context.Context) error {
	f.mu.Lock()
	gate := f.signOutGate
	err := f.signOutErr
	started := f.signOutStarted
	hook := f.inFlight
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeSource) GetCurrentIdentity(ctx context.Context) (*authsession.Identity, error) {
	f.mu.Lock()
	gate := f.getGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Clone(), f.currentErr
}

func (f *fakeSource) SubscribeToChanges(fn func(*authsession.Identity)) authsession.Subscription {
	f.mu.Lock()
	gate := f.subscribeGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.subscribes.Add(1)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return authsession.SubscriptionFunc(func() {
		once.Do(func() {
			f.releases.Add(1)
			f.mu.Lock()
			delete(f.listeners, id)
			f.mu.Unlock()
		})
	})
}

// emit delivers identity to every registered listener.
func (f *fakeSource) emit(identity *authsession.Identity) {
	f.mu.Lock()
	fns := make([]func(*authsession.Identity), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(identity.Clone())
	}
}

// lastListener returns any registered listener, or nil.
func (f *fakeSource) lastListener() func(*authsession.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fn := range f.listeners {
		return fn
	}
	return nil
}
