package authsession

import "sync"

// dispatcher runs queued funcs one at a time on a dedicated goroutine, in
// submission order. The queue is unbounded so funcs may enqueue more work
// without deadlocking.
type dispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	stopped chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{stopped: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		fn()
	}
}

// do enqueues fn. It reports false when the dispatcher is closed and fn was
// dropped.
func (d *dispatcher) do(fn func()) bool {
	if d == nil || fn == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.queue = append(d.queue, fn)
	d.cond.Signal()
	return true
}

// call enqueues fn and blocks until it ran. It reports false, without
// waiting, when the dispatcher is closed. Never call it from a func running
// on d.
func (d *dispatcher) call(fn func()) bool {
	done := make(chan struct{})
	if !d.do(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

// close stops accepting work. Already queued funcs still run.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
}

// wait blocks until the loop goroutine exited.
func (d *dispatcher) wait() {
	<-d.stopped
}
