package authsession_test

import (
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-authsession"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierDeliversInOrder(t *testing.T) {
	n := authsession.NewNotifier()
	defer n.Close()

	var mu sync.Mutex
	var got []authsession.AuthEvent
	n.Subscribe(func(note authsession.Notification) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, note.Event)
	})

	events := []authsession.AuthEvent{
		authsession.EventInitialSession,
		authsession.EventSignedIn,
		authsession.EventTokenRefreshed,
		authsession.EventSignedOut,
	}
	for _, e := range events {
		n.Publish(authsession.Notification{Event: e})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(events)
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, events, got)
}

func TestNotifierDeliversCopies(t *testing.T) {
	n := authsession.NewNotifier()
	defer n.Close()

	received := make(chan *authsession.Identity, 2)
	n.Subscribe(func(note authsession.Notification) { received <- note.Identity })
	n.Subscribe(func(note authsession.Notification) { received <- note.Identity })

	identity := &authsession.Identity{ID: "1"}
	n.Publish(authsession.Notification{Event: authsession.EventSignedIn, Identity: identity})

	first := <-received
	second := <-received
	assert.NotSame(t, first, second)
	assert.NotSame(t, identity, first)
	assert.True(t, identity.Equal(first))
}

func TestNotifierNotOnPublisherGoroutine(t *testing.T) {
	n := authsession.NewNotifier()
	defer n.Close()

	var delivered sync.WaitGroup
	delivered.Add(1)
	var calledInline bool
	publishing := true
	var mu sync.Mutex

	n.Subscribe(func(authsession.Notification) {
		mu.Lock()
		calledInline = publishing
		mu.Unlock()
		delivered.Done()
	})

	mu.Lock()
	n.Publish(authsession.Notification{Event: authsession.EventSignedIn})
	publishing = false
	mu.Unlock()

	delivered.Wait()
	assert.False(t, calledInline)
}

func TestSubscriptionUnsubscribe(t *testing.T) {
	n := authsession.NewNotifier()
	defer n.Close()

	sub := n.Subscribe(func(authsession.Notification) {})
	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, 1, n.Len())

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, n.Len())
}

func TestSubscriptionNilListener(t *testing.T) {
	n := authsession.NewNotifier()
	defer n.Close()

	sub := n.Subscribe(nil)
	assert.Equal(t, 0, n.Len())
	assert.NotPanics(t, sub.Unsubscribe)
	n.Publish(authsession.Notification{Event: authsession.EventSignedOut})
}

func TestNotifierClose(t *testing.T) {
	n := authsession.NewNotifier()

	calls := make(chan struct{}, 1)
	n.Subscribe(func(authsession.Notification) { calls <- struct{}{} })
	n.Close()
	n.Publish(authsession.Notification{Event: authsession.EventSignedIn})

	assert.Equal(t, 0, n.Len())
	select {
	case <-calls:
		t.Fatal("listener called after Close")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestSubscriptionFunc(t *testing.T) {
	calls := 0
	sub := authsession.SubscriptionFunc(func() { calls++ })
	sub.Unsubscribe()
	assert.Equal(t, 1, calls)
	assert.Empty(t, sub.ID())

	var empty authsession.SubscriptionFunc
	assert.NotPanics(t, empty.Unsubscribe)
}

func TestNotifierSkipsListenersRegisteredAfterPublish(t *testing.T) {
	n := authsession.NewNotifier()
	defer n.Close()

	early := make(chan authsession.AuthEvent, 4)
	late := make(chan authsession.AuthEvent, 4)

	n.Subscribe(func(note authsession.Notification) { early <- note.Event })
	n.Publish(authsession.Notification{Event: authsession.EventSignedIn})
	n.Subscribe(func(note authsession.Notification) { late <- note.Event })
	n.Publish(authsession.Notification{Event: authsession.EventSignedOut})

	assert.Equal(t, authsession.EventSignedIn, <-early)
	assert.Equal(t, authsession.EventSignedOut, <-early)
	assert.Equal(t, authsession.EventSignedOut, <-late)

	select {
	case e := <-late:
		t.Fatalf("late listener received %s", e)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestNotifierSkipsListenersReleasedBeforeDelivery(t *testing.T) {
	n := authsession.NewNotifier()
	defer n.Close()

	gate := make(chan struct{})
	n.Subscribe(func(authsession.Notification) { <-gate })

	calls := make(chan struct{}, 1)
	sub := n.Subscribe(func(authsession.Notification) { calls <- struct{}{} })

	n.Publish(authsession.Notification{Event: authsession.EventSignedIn})
	sub.Unsubscribe()
	close(gate)

	select {
	case <-calls:
		t.Fatal("released listener was called")
	case <-time.After(30 * time.Millisecond):
	}
}
