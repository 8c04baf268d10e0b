package authsession

import (
	"context"
	"sync"
)

// State is the local mirror of the session exposed to consumers.
//
// LastError holds the most recent failure, not the current health of the
// system; it is cleared when a new imperative call starts.
type State struct {
	Identity  *Identity
	Loading   bool
	LastError error
}

// Authenticated reports whether an identity is present.
func (s State) Authenticated() bool {
	return s.Identity != nil
}

// Observer mirrors a Client's session into State. It follows a mount/unmount
// lifecycle: Activate once, Deactivate once. Every state mutation runs on the
// observer's own loop, and mutations that settle after Deactivate are dropped.
type Observer struct {
	source IdentitySource
	logger Logger

	loop *dispatcher

	mu          sync.RWMutex
	state       State
	alive       bool
	activated   bool
	deactivated bool
	// notified counts applied notifications; loop goroutine only.
	notified uint64
	sub       Subscription
	listeners map[int]func(State)
	nextID    int

	loaded     chan struct{}
	loadedOnce sync.Once
	deactivate sync.Once
}

// ObserverOption customizes observer construction.
type ObserverOption func(*Observer)

// WithObserverLogger overrides the observer logger.
func WithObserverLogger(logger Logger) ObserverOption {
	return func(o *Observer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewObserver returns an inactive observer bound to source.
func NewObserver(source IdentitySource, opts ...ObserverOption) *Observer {
	o := &Observer{
		source:    source,
		logger:    defLogger{},
		listeners: make(map[int]func(State)),
		loaded:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.logger = normalizeLogger(o.logger)
	return o
}

// Activate starts observing. The initial identity fetch and the change
// subscription are issued concurrently; Activate itself does not block on
// either. Calling Activate more than once, or after Deactivate, is a no-op.
func (o *Observer) Activate(ctx context.Context) {
	o.mu.Lock()
	if o.activated || o.deactivated {
		o.mu.Unlock()
		return
	}
	o.activated = true
	o.alive = true
	o.state = State{Loading: true}
	o.loop = newDispatcher()
	o.mu.Unlock()

	go o.fetchInitial(ctx)
	go o.register()
}

func (o *Observer) fetchInitial(ctx context.Context) {
	identity, err := o.source.GetCurrentIdentity(ctx)
	o.update(func(s *State) {
		if err != nil {
			s.LastError = err
		} else {
			s.Identity = identity
		}
		s.Loading = false
	})
	o.loadedOnce.Do(func() { close(o.loaded) })
}

func (o *Observer) register() {
	sub := o.source.SubscribeToChanges(func(identity *Identity) {
		o.post(func(s *State) {
			o.notified++
			s.Identity = identity
		})
	})

	o.mu.Lock()
	if !o.alive {
		// deactivated while registration was pending
		o.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	o.sub = sub
	o.mu.Unlock()
}

// Deactivate stops observing and releases the subscription exactly once.
// It is safe before registration completed and safe to call repeatedly. A
// deactivated observer cannot be activated again.
func (o *Observer) Deactivate() {
	o.deactivate.Do(func() {
		o.mu.Lock()
		o.alive = false
		o.deactivated = true
		sub := o.sub
		o.sub = nil
		loop := o.loop
		o.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
		if loop != nil {
			loop.close()
		}
		o.loadedOnce.Do(func() { close(o.loaded) })
	})
}

// Active reports whether the observer is between Activate and Deactivate.
func (o *Observer) Active() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.alive
}

// State returns a snapshot of the current state.
func (o *Observer) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return State{
		Identity:  o.state.Identity.Clone(),
		Loading:   o.state.Loading,
		LastError: o.state.LastError,
	}
}

// Loaded is closed once the initial identity fetch settled, or on
// Deactivate.
func (o *Observer) Loaded() <-chan struct{} {
	return o.loaded
}

// OnChange registers fn to receive every state snapshot after a mutation.
// fn runs on the observer loop; it must not call the observer's imperative
// wrappers synchronously.
func (o *Observer) OnChange(fn func(State)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// SignIn calls the client and records the outcome. On success the identity
// is applied right away unless a notification landed while the call was in
// flight; notifications always take precedence.
func (o *Observer) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	seen := o.begin()

	identity, err := o.source.SignIn(ctx, email, password)
	if err != nil {
		o.update(func(s *State) { s.LastError = err })
		return nil, err
	}

	o.update(func(s *State) {
		if o.notified == seen {
			s.Identity = identity.Clone()
		}
	})
	return identity, nil
}

// SignUp calls the client and records a failure. Identity is left to the
// notification stream since the account may still need confirmation.
func (o *Observer) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	o.begin()

	identity, err := o.source.SignUp(ctx, email, password)
	if err != nil {
		o.update(func(s *State) { s.LastError = err })
		return nil, err
	}

	return identity, nil
}

// SignOut calls the client and records the outcome. On success the identity
// is cleared right away unless a notification landed while the call was in
// flight.
func (o *Observer) SignOut(ctx context.Context) error {
	seen := o.begin()

	if err := o.source.SignOut(ctx); err != nil {
		o.update(func(s *State) { s.LastError = err })
		return err
	}

	o.update(func(s *State) {
		if o.notified == seen {
			s.Identity = nil
		}
	})
	return nil
}

// begin clears LastError and returns the notification count at the start of
// an imperative call.
func (o *Observer) begin() uint64 {
	var seen uint64
	o.update(func(s *State) {
		s.LastError = nil
		seen = o.notified
	})
	return seen
}

// update applies fn on the loop and waits for it. It returns immediately if
// the observer is not active.
func (o *Observer) update(fn func(*State)) {
	loop := o.currentLoop()
	if loop == nil {
		return
	}
	loop.call(func() { o.apply(fn) })
}

// post applies fn on the loop without waiting.
func (o *Observer) post(fn func(*State)) {
	loop := o.currentLoop()
	if loop == nil {
		return
	}
	loop.do(func() { o.apply(fn) })
}

func (o *Observer) currentLoop() *dispatcher {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.alive {
		return nil
	}
	return o.loop
}

// apply runs on the loop goroutine only.
func (o *Observer) apply(fn func(*State)) {
	o.mu.Lock()
	if !o.alive {
		o.mu.Unlock()
		o.logger.Debug("discarding state update on inactive observer")
		return
	}
	fn(&o.state)
	snapshot := State{
		Identity:  o.state.Identity.Clone(),
		Loading:   o.state.Loading,
		LastError: o.state.LastError,
	}
	listeners := make([]func(State), 0, len(o.listeners))
	for _, l := range o.listeners {
		listeners = append(listeners, l)
	}
	o.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
}
