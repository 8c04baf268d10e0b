package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-authsession"
	"github.com/goliatone/go-authsession/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newBackend(t *testing.T, opts ...memory.Option) (*memory.Backend, <-chan authsession.Notification) {
	t.Helper()
	b := memory.New(append([]memory.Option{memory.WithHashCost(bcrypt.MinCost)}, opts...)...)
	t.Cleanup(func() { _ = b.Close() })

	ch := make(chan authsession.Notification, 16)
	release := b.OnAuthStateChange(func(n authsession.Notification) { ch <- n })
	t.Cleanup(release)
	return b, ch
}

func next(t *testing.T, ch <-chan authsession.Notification) authsession.Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return authsession.Notification{}
	}
}

func TestSignInFlow(t *testing.T) {
	ctx := context.Background()
	b, events := newBackend(t)

	seeded, err := b.AddUser("A@B.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", seeded.Email)

	identity, err := b.GetUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, identity)

	_, err = b.SignInWithPassword(ctx, "a@b.com", "wrong")
	assert.True(t, authsession.IsCredentialError(err))

	session, err := b.SignInWithPassword(ctx, "a@b.com", "secret")
	require.NoError(t, err)
	assert.True(t, session.Active())
	assert.Equal(t, seeded.ID, session.Identity.ID)

	n := next(t, events)
	assert.Equal(t, authsession.EventSignedIn, n.Event)
	assert.Equal(t, seeded.ID, n.Identity.ID)

	identity, err = b.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, identity.ID)

	require.NoError(t, b.SignOut(ctx))
	n = next(t, events)
	assert.Equal(t, authsession.EventSignedOut, n.Event)
	assert.Nil(t, n.Identity)
	assert.Nil(t, b.Session())
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("opens a session", func(t *testing.T) {
		b, events := newBackend(t)
		session, err := b.SignUp(ctx, "new@b.com", "secret")
		require.NoError(t, err)
		assert.True(t, session.Active())
		assert.True(t, session.Identity.EmailConfirmed())
		assert.Equal(t, authsession.EventSignedIn, next(t, events).Event)

		_, err = b.SignUp(ctx, "new@b.com", "other")
		assert.True(t, authsession.IsConflictError(err))
	})

	t.Run("requires confirmation", func(t *testing.T) {
		b, _ := newBackend(t, memory.WithRequireConfirmation())
		session, err := b.SignUp(ctx, "new@b.com", "secret")
		require.NoError(t, err)
		assert.False(t, session.Active())
		assert.False(t, session.Identity.EmailConfirmed())
		assert.Nil(t, b.Session())

		assert.True(t, b.ConfirmEmail("new@b.com"))
		assert.False(t, b.ConfirmEmail("missing@b.com"))
	})
}

func TestFailNext(t *testing.T) {
	ctx := context.Background()
	b, _ := newBackend(t)
	_, err := b.AddUser("a@b.com", "secret")
	require.NoError(t, err)

	boom := authsession.NewTransportError("network down", errors.New("dial tcp"))
	b.FailNext(boom)

	_, err = b.SignInWithPassword(ctx, "a@b.com", "secret")
	assert.Same(t, boom, err)

	_, err = b.SignInWithPassword(ctx, "a@b.com", "secret")
	assert.NoError(t, err)
}

func TestExpiredSessionIsRejected(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }
	b, _ := newBackend(t, memory.WithClock(clock))

	_, err := b.AddUser("a@b.com", "secret")
	require.NoError(t, err)
	_, err = b.SignInWithPassword(ctx, "a@b.com", "secret")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = b.GetUser(ctx)
	assert.True(t, authsession.IsCredentialError(err))
}
