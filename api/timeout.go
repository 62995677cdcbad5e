// File: api/timeout.go
// Author: momentics <momentics@gmail.com>
//
// Timeout represents a recurring timer a connection registers with the
// installed event loop, primarily to expire pending method calls.

package api

import (
	"sync"
	"time"
)

// Timeout binds a recurring interval to a fire callback.
//
// The owning connection creates timeouts and mutates interval and enabled
// state; after any mutation it must notify the installed loop via
// Loop.TimeoutToggled so the adapter can re-arm with the new interval.
// Adapters may stash their timer bookkeeping in the data slot.
type Timeout struct {
	mu       sync.Mutex
	interval time.Duration
	enabled  bool
	data     any

	handler func()
}

// NewTimeout creates a timeout firing every interval while enabled.
func NewTimeout(interval time.Duration, enabled bool, handler func()) *Timeout {
	return &Timeout{interval: interval, enabled: enabled, handler: handler}
}

// Interval returns the current firing interval.
func (t *Timeout) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Enabled reports whether the timeout should fire.
func (t *Timeout) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Data returns the adapter-owned slot.
func (t *Timeout) Data() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data
}

// SetData stores an adapter-owned value on the timeout.
func (t *Timeout) SetData(v any) {
	t.mu.Lock()
	t.data = v
	t.mu.Unlock()
}

// SetInterval changes the firing interval. Connection-side mutator; the
// caller must follow up with Loop.TimeoutToggled so the adapter re-arms.
func (t *Timeout) SetInterval(d time.Duration) {
	t.mu.Lock()
	t.interval = d
	t.mu.Unlock()
}

// SetEnabled switches the timeout on or off. Connection-side mutator; the
// caller must follow up with Loop.TimeoutToggled.
func (t *Timeout) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

// Handle delivers a timer expiry to the owning connection. The callback runs
// without the timeout lock held.
func (t *Timeout) Handle() {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h()
	}
}
