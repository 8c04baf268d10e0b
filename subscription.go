package authsession

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription is the handle returned when registering for change
// notifications. Unsubscribe releases it; extra calls are no-ops.
type Subscription interface {
	ID() string
	Unsubscribe()
}

// SubscriptionFunc adapts a release func into a Subscription.
type SubscriptionFunc func()

// ID implements Subscription.
func (f SubscriptionFunc) ID() string { return "" }

// Unsubscribe implements Subscription.
func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

type subscription struct {
	id      string
	once    sync.Once
	release func()
}

func newSubscription(release func()) *subscription {
	return &subscription{
		id:      uuid.NewString(),
		release: release,
	}
}

func (s *subscription) ID() string { return s.id }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// Notifier fans notifications out to registered listeners on its own
// goroutine, so delivery never happens on the publisher's or subscriber's
// goroutine. Backends use it to implement OnAuthStateChange.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[string]func(Notification)
	order     []string
	dispatch  *dispatcher
}

// NewNotifier returns a ready Notifier. Call Close when done.
func NewNotifier() *Notifier {
	return &Notifier{
		listeners: make(map[string]func(Notification)),
		dispatch:  newDispatcher(),
	}
}

// Subscribe registers fn. A nil fn yields a handle that releases nothing.
func (b *Notifier) Subscribe(fn func(Notification)) Subscription {
	var sub *subscription
	sub = newSubscription(func() { b.remove(sub.id) })
	if fn == nil {
		return sub
	}

	b.mu.Lock()
	b.listeners[sub.id] = fn
	b.order = append(b.order, sub.id)
	b.mu.Unlock()

	return sub
}

func (b *Notifier) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[id]; !ok {
		return
	}
	delete(b.listeners, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered listeners.
func (b *Notifier) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish queues delivery of n to the listeners registered at the time of
// the call. A listener released before delivery is skipped, and one
// registered after Publish does not see n.
func (b *Notifier) Publish(n Notification) {
	b.mu.RLock()
	ids := make([]string, len(b.order))
	copy(ids, b.order)
	b.mu.RUnlock()

	if len(ids) == 0 {
		return
	}

	b.dispatch.do(func() {
		for _, id := range ids {
			b.mu.RLock()
			fn, ok := b.listeners[id]
			b.mu.RUnlock()
			if !ok {
				continue
			}
			fn(Notification{Event: n.Event, Identity: n.Identity.Clone()})
		}
	})
}

// Close stops delivery and drops every listener.
func (b *Notifier) Close() {
	b.dispatch.close()
	b.mu.Lock()
	b.listeners = make(map[string]func(Notification))
	b.order = nil
	b.mu.Unlock()
}
