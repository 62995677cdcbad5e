// File: reactor/reactor.go
//go:build unix
// +build unix

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Poll-mode event loop over one connection. Each step builds the interest
// set from enabled watches, waits in poll(2) no longer than the nearest
// timer expiry, delivers readiness and due timers to the connection, and
// then drains buffered inbound messages. A nonblocking self-pipe wakes the
// poll when another goroutine changes the watch or timer set or stops the
// loop.

package reactor

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-bus/api"
	"github.com/momentics/hioload-bus/dispatch"
)

// DefaultMaxWait bounds a single poll when no timer is armed, so the loop
// keeps checking its stop flag even on an idle connection.
const DefaultMaxWait = 4 * time.Second

// ErrStopped reports a pump attempt on a reactor that was stopped.
var ErrStopped = errors.New("reactor is stopped")

// Option adjusts reactor construction.
type Option func(*Reactor)

// WithMaxWait overrides the idle poll bound.
func WithMaxWait(d time.Duration) Option {
	return func(r *Reactor) {
		if d > 0 {
			r.maxWait = d
		}
	}
}

// Reactor is a single-threaded polling loop implementing api.Loop for one
// connection. The goroutine calling Run (or Pump) owns all watch and timer
// callbacks and all message dispatch; registration methods may be called
// from any goroutine and wake the poll through the self-pipe.
type Reactor struct {
	conn    api.Conn
	maxWait time.Duration

	wakeR, wakeW int

	mu      sync.Mutex
	watches []*api.Watch
	timers  timerHeap

	stopped int32
	closed  int32

	// statistics
	steps       int64
	ioEvents    int64
	timerEvents int64
	wakeups     int64
}

// New creates a reactor for conn and installs it as the connection's loop.
func New(conn api.Conn, opts ...Option) (*Reactor, error) {
	r := &Reactor{conn: conn, maxWait: DefaultMaxWait, wakeR: -1, wakeW: -1}
	for _, opt := range opts {
		opt(r)
	}

	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	for _, fd := range p {
		_ = unix.SetNonblock(fd, true)
		unix.CloseOnExec(fd)
	}
	r.wakeR, r.wakeW = p[0], p[1]

	if err := conn.SetLoop(r); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// AddWatch registers a descriptor watch. Duplicate registration is a no-op.
func (r *Reactor) AddWatch(w *api.Watch) error {
	r.mu.Lock()
	for _, have := range r.watches {
		if have == w {
			r.mu.Unlock()
			return nil
		}
	}
	r.watches = append(r.watches, w)
	r.mu.Unlock()
	r.wake()
	return nil
}

// RemoveWatch drops a watch. Removing an unknown watch is harmless.
func (r *Reactor) RemoveWatch(w *api.Watch) {
	r.mu.Lock()
	for i, have := range r.watches {
		if have == w {
			r.watches = append(r.watches[:i], r.watches[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.wake()
}

// WatchToggled reacts to an interest or enabled change. The next poll pass
// rebuilds its interest set from watch state, so only a wake is needed.
func (r *Reactor) WatchToggled(*api.Watch) {
	r.wake()
}

// AddTimeout registers an interval timer, arming it when enabled.
func (r *Reactor) AddTimeout(t *api.Timeout) error {
	r.mu.Lock()
	if _, ok := t.Data().(*timerEntry); ok {
		r.mu.Unlock()
		return nil
	}
	e := &timerEntry{t: t, index: -1}
	t.SetData(e)
	if t.Enabled() {
		e.expiry = time.Now().Add(t.Interval())
		heap.Push(&r.timers, e)
	}
	r.mu.Unlock()
	r.wake()
	return nil
}

// RemoveTimeout disarms and forgets a timer.
func (r *Reactor) RemoveTimeout(t *api.Timeout) {
	r.mu.Lock()
	if e, ok := t.Data().(*timerEntry); ok {
		if e.index >= 0 {
			heap.Remove(&r.timers, e.index)
		}
		t.SetData(nil)
	}
	r.mu.Unlock()
	r.wake()
}

// TimeoutToggled re-arms a timer after an enabled or interval change. The
// next expiry is always recomputed from the current interval, so an interval
// change takes effect immediately rather than after the old period elapses.
func (r *Reactor) TimeoutToggled(t *api.Timeout) {
	r.mu.Lock()
	e, ok := t.Data().(*timerEntry)
	if !ok {
		r.mu.Unlock()
		return
	}
	if t.Enabled() {
		e.expiry = time.Now().Add(t.Interval())
		if e.index >= 0 {
			heap.Fix(&r.timers, e.index)
		} else {
			heap.Push(&r.timers, e)
		}
	} else if e.index >= 0 {
		heap.Remove(&r.timers, e.index)
	}
	r.mu.Unlock()
	r.wake()
}

// Run executes poll steps until Stop is called or a poll primitive fails.
// Outbound buffers are flushed on the way out so no queued reply is lost.
func (r *Reactor) Run() error {
	for atomic.LoadInt32(&r.stopped) == 0 {
		if err := r.Step(); err != nil {
			_ = r.conn.Flush()
			return err
		}
	}
	return r.conn.Flush()
}

// Stop requests Run (or Pump) to return after the current step.
func (r *Reactor) Stop() {
	atomic.StoreInt32(&r.stopped, 1)
	r.wake()
}

// Pump executes poll steps until done is closed. The synchronous call path
// uses it to keep dispatching, on the caller's goroutine, while waiting for
// a reply.
func (r *Reactor) Pump(done <-chan struct{}) error {
	for {
		select {
		case <-done:
			return nil
		default:
		}
		if atomic.LoadInt32(&r.stopped) != 0 {
			return ErrStopped
		}
		if err := r.Step(); err != nil {
			return err
		}
	}
}

// Step performs one poll iteration: wait for readiness or the nearest timer,
// deliver events to the connection, fire due timers, then drain dispatch.
func (r *Reactor) Step() error {
	atomic.AddInt64(&r.steps, 1)

	r.mu.Lock()
	fds := make([]unix.PollFd, 1, len(r.watches)+1)
	fds[0] = unix.PollFd{Fd: int32(r.wakeR), Events: unix.POLLIN}
	active := make([]*api.Watch, 0, len(r.watches))
	for _, w := range r.watches {
		if !w.Enabled() {
			continue
		}
		var events int16
		flags := w.Flags()
		if flags.Has(api.WatchReadable) {
			events |= unix.POLLIN
		}
		if flags.Has(api.WatchWritable) {
			events |= unix.POLLOUT
		}
		if events == 0 {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(w.Fd()), Events: events})
		active = append(active, w)
	}
	wait := r.maxWait
	if len(r.timers) > 0 {
		if d := time.Until(r.timers[0].expiry); d < wait {
			wait = d
		}
	}
	r.mu.Unlock()

	if wait < 0 {
		wait = 0
	}
	ms := int(wait / time.Millisecond)
	if ms == 0 && wait > 0 {
		ms = 1
	}

	n, err := unix.Poll(fds, ms)
	for err == unix.EINTR {
		n, err = unix.Poll(fds, ms)
	}
	if err != nil {
		return fmt.Errorf("poll wait: %w", err)
	}

	if n > 0 {
		if fds[0].Revents != 0 {
			r.drainWake()
		}
		for i, w := range active {
			re := fds[i+1].Revents
			if re == 0 {
				continue
			}
			var flags api.WatchFlags
			if re&unix.POLLIN != 0 {
				flags |= api.WatchReadable
			}
			if re&unix.POLLOUT != 0 {
				flags |= api.WatchWritable
			}
			if re&(unix.POLLERR|unix.POLLNVAL) != 0 {
				flags |= api.WatchError
			}
			if re&unix.POLLHUP != 0 {
				flags |= api.WatchHangup
			}
			if flags == 0 || !w.Enabled() {
				continue
			}
			atomic.AddInt64(&r.ioEvents, 1)
			w.Handle(flags)
		}
	}

	r.fireTimers()

	dispatch.Drain(r.conn)
	return nil
}

// fireTimers pops every due timer and fires it. An enabled timer is
// rescheduled at expiry+interval rather than now+interval, so a loaded loop
// does not accumulate drift.
func (r *Reactor) fireTimers() {
	now := time.Now()
	r.mu.Lock()
	var due []*timerEntry
	for len(r.timers) > 0 && !r.timers[0].expiry.After(now) {
		due = append(due, heap.Pop(&r.timers).(*timerEntry))
	}
	r.mu.Unlock()

	for _, e := range due {
		next := e.expiry.Add(e.t.Interval())
		atomic.AddInt64(&r.timerEvents, 1)
		e.t.Handle()

		r.mu.Lock()
		cur, ok := e.t.Data().(*timerEntry)
		if ok && cur == e && e.index < 0 && e.t.Enabled() {
			e.expiry = next
			heap.Push(&r.timers, e)
		}
		r.mu.Unlock()
	}
}

// Close releases the wake pipe. Call after Run has returned.
func (r *Reactor) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}
	r.Stop()
	err := unix.Close(r.wakeR)
	if e := unix.Close(r.wakeW); err == nil {
		err = e
	}
	return err
}

// Stats returns loop counters.
func (r *Reactor) Stats() map[string]int64 {
	r.mu.Lock()
	watches := int64(len(r.watches))
	armed := int64(len(r.timers))
	r.mu.Unlock()
	return map[string]int64{
		"steps":        atomic.LoadInt64(&r.steps),
		"io_events":    atomic.LoadInt64(&r.ioEvents),
		"timer_events": atomic.LoadInt64(&r.timerEvents),
		"wakeups":      atomic.LoadInt64(&r.wakeups),
		"watches":      watches,
		"armed_timers": armed,
	}
}

// wake pokes the self-pipe so a blocked poll returns. A full pipe already
// guarantees a pending wake, so write errors are ignored.
func (r *Reactor) wake() {
	var b [1]byte
	_, _ = unix.Write(r.wakeW, b[:])
}

// drainWake empties the self-pipe.
func (r *Reactor) drainWake() {
	atomic.AddInt64(&r.wakeups, 1)
	var buf [64]byte
	for {
		n, err := unix.Read(r.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

var _ api.Loop = (*Reactor)(nil)
var _ api.Pumper = (*Reactor)(nil)
