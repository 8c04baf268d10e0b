package authsession_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-authsession"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, backend *MockBackend, opts ...authsession.ClientOption) *authsession.Client {
	t.Helper()
	opts = append([]authsession.ClientOption{authsession.WithLogger(authsession.NopLogger{})}, opts...)
	client := authsession.NewClient(backend, opts...)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func activeSession(id, email string) *authsession.Session {
	return &authsession.Session{
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(time.Hour),
		Identity:    &authsession.Identity{ID: id, Email: email},
	}
}

func TestClientSignIn(t *testing.T) {
	backend := NewMockBackend()
	var events []authsession.ActivityEvent
	var mu sync.Mutex
	client := newTestClient(t, backend, authsession.WithActivitySink(authsession.ActivitySinkFunc(func(_ context.Context, e authsession.ActivityEvent) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	})))

	session := activeSession("123", "a@b.com")
	backend.On("SignInWithPassword", mock.Anything, "a@b.com", "secret").Return(session, nil).Once()

	identity, err := client.SignIn(context.Background(), "  A@B.com ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "123", identity.ID)
	assert.Equal(t, "a@b.com", identity.Email)

	identity.Email = "mutated"
	assert.Equal(t, "a@b.com", session.Identity.Email)

	backend.AssertExpectations(t)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, authsession.ActivityEventSignInSuccess, events[0].EventType)
	assert.Equal(t, "123", events[0].UserID)
}

func TestClientSignInValidation(t *testing.T) {
	cases := []struct {
		name     string
		email    string
		password string
	}{
		{name: "empty email", email: "", password: "secret"},
		{name: "malformed email", email: "not-an-email", password: "secret"},
		{name: "empty password", email: "a@b.com", password: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := NewMockBackend()
			client := newTestClient(t, backend)

			_, err := client.SignIn(context.Background(), tc.email, tc.password)
			assert.True(t, authsession.IsCredentialError(err))
			backend.AssertNotCalled(t, "SignInWithPassword", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClientErrorNormalization(t *testing.T) {
	credential := authsession.NewCredentialError("Invalid credentials")

	cases := []struct {
		name    string
		err     error
		code    string
		same    bool
		message string
	}{
		{name: "taxonomy error passes verbatim", err: credential, code: authsession.TextCodeInvalidCredentials, same: true, message: "Invalid credentials"},
		{name: "net error is transport", err: &net.OpError{Op: "dial", Err: timeoutErr{}}, code: authsession.TextCodeTransport},
		{name: "canceled is transport", err: context.Canceled, code: authsession.TextCodeTransport},
		{name: "deadline is transport", err: context.DeadlineExceeded, code: authsession.TextCodeTransport},
		{name: "anything else is unknown", err: errors.New("weird"), code: authsession.TextCodeUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := NewMockBackend()
			client := newTestClient(t, backend)
			backend.On("SignInWithPassword", mock.Anything, "x@y.com", "bad").Return(nil, tc.err)

			identity, err := client.SignIn(context.Background(), "x@y.com", "bad")
			assert.Nil(t, identity)
			require.Error(t, err)

			var richErr *goerrors.Error
			require.True(t, goerrors.As(err, &richErr))
			assert.Equal(t, tc.code, richErr.TextCode)
			if tc.same {
				assert.Same(t, credential, richErr)
			}
			if tc.message != "" {
				assert.Equal(t, tc.message, richErr.Message)
			}
		})
	}
}

func TestClientSignInEmptySession(t *testing.T) {
	backend := NewMockBackend()
	client := newTestClient(t, backend)
	backend.On("SignInWithPassword", mock.Anything, mock.Anything, mock.Anything).Return(&authsession.Session{}, nil)

	_, err := client.SignIn(context.Background(), "a@b.com", "secret")
	assert.True(t, authsession.IsUnknownAuthError(err))
}

func TestClientSignUp(t *testing.T) {
	backend := NewMockBackend()
	client := newTestClient(t, backend)

	pending := &authsession.Session{Identity: &authsession.Identity{ID: "9", Email: "new@b.com"}}
	backend.On("SignUp", mock.Anything, "new@b.com", "secret").Return(pending, nil).Once()
	backend.On("SignUp", mock.Anything, "dup@b.com", "secret").Return(nil, authsession.NewConflictError("User already registered")).Once()

	identity, err := client.SignUp(context.Background(), "new@b.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "9", identity.ID)

	_, err = client.SignUp(context.Background(), "dup@b.com", "secret")
	assert.True(t, authsession.IsConflictError(err))
	backend.AssertExpectations(t)
}

func TestClientSignOut(t *testing.T) {
	backend := NewMockBackend()
	client := newTestClient(t, backend)

	backend.On("SignOut", mock.Anything).Return(nil).Once()
	backend.On("SignOut", mock.Anything).Return(authsession.NewTransportError("offline", nil)).Once()

	assert.NoError(t, client.SignOut(context.Background()))
	assert.True(t, authsession.IsTransportError(client.SignOut(context.Background())))
}

func TestClientGetCurrentIdentity(t *testing.T) {
	cases := []struct {
		name     string
		identity *authsession.Identity
		err      error
		wantID   string
		wantErr  string
	}{
		{name: "active session", identity: &authsession.Identity{ID: "123", Email: "a@b.com"}, wantID: "123"},
		{name: "no session", identity: nil},
		{name: "rejected token is absent", err: authsession.NewCredentialError("session expired")},
		{name: "transport failure", err: authsession.NewTransportError("offline", nil), wantErr: authsession.TextCodeTransport},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := NewMockBackend()
			client := newTestClient(t, backend)
			backend.On("GetUser", mock.Anything).Return(tc.identity, tc.err)

			identity, err := client.GetCurrentIdentity(context.Background())
			if tc.wantErr != "" {
				assert.True(t, authsession.IsTransportError(err))
				assert.Nil(t, identity)
				return
			}
			require.NoError(t, err)
			if tc.wantID == "" {
				assert.Nil(t, identity)
				return
			}
			require.NotNil(t, identity)
			assert.Equal(t, tc.wantID, identity.ID)
		})
	}
}

func TestClientSingleUpstreamSubscription(t *testing.T) {
	backend := NewMockBackend()
	client := newTestClient(t, backend)

	var mu sync.Mutex
	got := map[string][]*authsession.Identity{}
	record := func(name string) func(*authsession.Identity) {
		return func(identity *authsession.Identity) {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], identity)
		}
	}

	subA := client.SubscribeToChanges(record("a"))
	subB := client.SubscribeToChanges(record("b"))
	assert.Equal(t, int32(1), backend.registrations.Load())
	assert.Equal(t, 2, client.Subscribers())
	assert.NotEqual(t, subA.ID(), subB.ID())

	mu.Lock()
	assert.Empty(t, got, "callbacks must not fire at registration")
	mu.Unlock()

	backend.Emit(authsession.EventSignedIn, &authsession.Identity{ID: "123"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["a"]) == 1 && len(got["b"]) == 1
	}, time.Second, 5*time.Millisecond)

	subA.Unsubscribe()
	subA.Unsubscribe()
	assert.Equal(t, 1, client.Subscribers())

	backend.Emit(authsession.EventSignedOut, nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["b"]) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Len(t, got["a"], 1)
	assert.Nil(t, got["b"][1])
	mu.Unlock()
}

func TestClientSubscribeDeliversEvent(t *testing.T) {
	backend := NewMockBackend()
	client := newTestClient(t, backend)

	ch := make(chan authsession.Notification, 1)
	client.Subscribe(func(n authsession.Notification) { ch <- n })

	backend.Emit(authsession.EventTokenRefreshed, &authsession.Identity{ID: "123"})

	select {
	case n := <-ch:
		assert.Equal(t, authsession.EventTokenRefreshed, n.Event)
		assert.Equal(t, "123", n.Identity.ID)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestClientClose(t *testing.T) {
	backend := NewMockBackend()
	client := authsession.NewClient(backend, authsession.WithLogger(authsession.NopLogger{}))

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.Equal(t, int32(1), backend.releases.Load())

	_, err := client.SignIn(context.Background(), "a@b.com", "secret")
	assert.Same(t, authsession.ErrClientClosed, err)
	assert.Same(t, authsession.ErrClientClosed, client.SignOut(context.Background()))

	sub := client.SubscribeToChanges(func(*authsession.Identity) {})
	assert.NotPanics(t, sub.Unsubscribe)
	backend.AssertNotCalled(t, "SignInWithPassword", mock.Anything, mock.Anything, mock.Anything)
}
