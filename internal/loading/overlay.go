// Package loading keeps the process-wide loading indicator. A safety timer
// clears it after a fixed time so it can never stay stuck; the operation
// behind it is not cancelled.
package loading

import (
	"log/slog"
	"sync"
	"time"
)

const DefaultTimeout = 5 * time.Second

type State struct {
	Loading bool
	Message string
}

type Overlay struct {
	timeout time.Duration

	mu       sync.Mutex
	state    State
	timer    *time.Timer
	gen      uint64
	listener func(State)
}

// New returns an Overlay that auto-clears after timeout (DefaultTimeout
// when zero or negative).
func New(timeout time.Duration) *Overlay {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Overlay{timeout: timeout}
}

// OnChange registers the listener notified on every state change.
func (o *Overlay) OnChange(fn func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listener = fn
}

func (o *Overlay) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start shows the overlay with message and (re)arms the safety timer.
func (o *Overlay) Start(message string) {
	o.mu.Lock()
	o.stopTimerLocked()
	o.gen++
	gen := o.gen
	o.state = State{Loading: true, Message: message}
	o.timer = time.AfterFunc(o.timeout, func() { o.expire(gen) })
	st, fn := o.state, o.listener
	o.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Stop hides the overlay.
func (o *Overlay) Stop() {
	o.mu.Lock()
	if !o.state.Loading {
		o.mu.Unlock()
		return
	}
	o.stopTimerLocked()
	o.gen++
	o.state = State{}
	st, fn := o.state, o.listener
	o.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (o *Overlay) expire(gen uint64) {
	o.mu.Lock()
	if gen != o.gen || !o.state.Loading {
		o.mu.Unlock()
		return
	}
	o.timer = nil
	o.state = State{}
	st, fn := o.state, o.listener
	o.mu.Unlock()
	slog.Warn("loading: timeout reached, clearing overlay", "timeout", o.timeout)
	if fn != nil {
		fn(st)
	}
}

func (o *Overlay) stopTimerLocked() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}
