// File: adapters/goloop_adapter.go
//go:build unix
// +build unix

// Package adapters provides glue between host schedulers and the api.Loop
// contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// GoLoop adapts the Go runtime scheduler to api.Loop: one goroutine per
// watch waits for descriptor readiness, one goroutine per timeout sleeps on
// a runtime timer, and a single loop goroutine serializes all watch and
// timeout callbacks followed by a dispatch pass. Callbacks therefore run
// single-threaded, like on the polling reactor, while waiting happens on
// the scheduler.

package adapters

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-bus/api"
	"github.com/momentics/hioload-bus/dispatch"
)

// DefaultTick bounds how long a watch goroutine stays inside one poll wait.
// It caps the latency of interest changes and of Stop.
const DefaultTick = 100 * time.Millisecond

// ErrLoopStopped reports a registration on a loop that was stopped.
var ErrLoopStopped = errors.New("loop is stopped")

// Option adjusts GoLoop construction.
type Option func(*GoLoop)

// WithLogger sets the structured logger for watcher diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(g *GoLoop) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithTick overrides the watch poll slice.
func WithTick(d time.Duration) Option {
	return func(g *GoLoop) {
		if d > 0 {
			g.tick = d
		}
	}
}

// fdWatcher is the goroutine-side state of one registered watch.
type fdWatcher struct {
	w    *api.Watch
	stop chan struct{}
	kick chan struct{}
}

// timerRunner is the goroutine-side state of one armed timeout. A timeout
// whose interval changes gets a fresh runner, mirroring schedulers that
// cannot change a running timer's period in place.
type timerRunner struct {
	t        *api.Timeout
	interval time.Duration
	stop     chan struct{}
}

// GoLoop is an api.Loop running on plain goroutines. It starts its loop
// goroutine on construction and installs itself on the connection; Stop
// tears everything down and flushes the connection.
//
// GoLoop is not re-enterable, so it does not implement api.Pumper:
// synchronous callers block on their resolution channel while the loop
// goroutine keeps dispatching. Handlers that issue synchronous calls must
// not run on the loop goroutine itself; pair this loop with a goroutine or
// pool spawner.
type GoLoop struct {
	conn   api.Conn
	logger *slog.Logger
	tick   time.Duration

	events  chan func()
	stopCh  chan struct{}
	stopped int32
	wg      sync.WaitGroup

	mu       sync.Mutex
	watchers map[*api.Watch]*fdWatcher
	timers   map[*api.Timeout]*timerRunner

	// statistics
	delivered int64
}

// NewGoLoop creates a running loop for conn and installs it as the
// connection's loop.
func NewGoLoop(conn api.Conn, opts ...Option) (*GoLoop, error) {
	g := &GoLoop{
		conn:     conn,
		logger:   slog.Default(),
		tick:     DefaultTick,
		events:   make(chan func(), 128),
		stopCh:   make(chan struct{}),
		watchers: make(map[*api.Watch]*fdWatcher),
		timers:   make(map[*api.Timeout]*timerRunner),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.wg.Add(1)
	go g.run()

	if err := conn.SetLoop(g); err != nil {
		g.Stop()
		return nil, err
	}
	return g, nil
}

// AddWatch starts a readiness goroutine for the watch.
func (g *GoLoop) AddWatch(w *api.Watch) error {
	if atomic.LoadInt32(&g.stopped) != 0 {
		return ErrLoopStopped
	}
	g.mu.Lock()
	if _, ok := g.watchers[w]; ok {
		g.mu.Unlock()
		return nil
	}
	fw := &fdWatcher{
		w:    w,
		stop: make(chan struct{}),
		kick: make(chan struct{}, 1),
	}
	g.watchers[w] = fw
	g.wg.Add(1)
	g.mu.Unlock()

	go g.runWatcher(fw)
	return nil
}

// RemoveWatch stops the watch goroutine. Unknown watches are ignored.
func (g *GoLoop) RemoveWatch(w *api.Watch) {
	g.mu.Lock()
	fw, ok := g.watchers[w]
	if ok {
		delete(g.watchers, w)
		close(fw.stop)
	}
	g.mu.Unlock()
}

// WatchToggled nudges the watch goroutine so a flag or enabled change is
// observed without waiting out the current poll slice.
func (g *GoLoop) WatchToggled(w *api.Watch) {
	g.mu.Lock()
	fw := g.watchers[w]
	g.mu.Unlock()
	if fw != nil {
		select {
		case fw.kick <- struct{}{}:
		default:
		}
	}
}

// AddTimeout arms a runtime timer for the timeout if it is enabled.
func (g *GoLoop) AddTimeout(t *api.Timeout) error {
	if atomic.LoadInt32(&g.stopped) != 0 {
		return ErrLoopStopped
	}
	g.mu.Lock()
	if _, ok := g.timers[t]; !ok && t.Enabled() {
		g.startTimerLocked(t)
	}
	g.mu.Unlock()
	return nil
}

// RemoveTimeout stops the timeout's timer goroutine, if it has one.
func (g *GoLoop) RemoveTimeout(t *api.Timeout) {
	g.mu.Lock()
	g.stopTimerLocked(t)
	g.mu.Unlock()
}

// TimeoutToggled reconciles the timer goroutine with the timeout's state. An
// interval change recreates the runner, restarting the period with the new
// interval.
func (g *GoLoop) TimeoutToggled(t *api.Timeout) {
	g.mu.Lock()
	tr := g.timers[t]
	switch {
	case !t.Enabled():
		g.stopTimerLocked(t)
	case tr == nil:
		g.startTimerLocked(t)
	case tr.interval != t.Interval():
		g.stopTimerLocked(t)
		g.startTimerLocked(t)
	}
	g.mu.Unlock()
}

// Stop terminates all loop goroutines, waits for them and flushes the
// connection so queued outbound replies survive shutdown. Worst-case join
// latency is one poll slice.
func (g *GoLoop) Stop() {
	if !atomic.CompareAndSwapInt32(&g.stopped, 0, 1) {
		return
	}
	close(g.stopCh)
	g.wg.Wait()
	_ = g.conn.Flush()
}

// Stats returns loop counters.
func (g *GoLoop) Stats() map[string]int64 {
	g.mu.Lock()
	watchers := int64(len(g.watchers))
	timers := int64(len(g.timers))
	g.mu.Unlock()
	return map[string]int64{
		"delivered_events": atomic.LoadInt64(&g.delivered),
		"watchers":         watchers,
		"timers":           timers,
	}
}

func (g *GoLoop) startTimerLocked(t *api.Timeout) {
	tr := &timerRunner{t: t, interval: t.Interval(), stop: make(chan struct{})}
	g.timers[t] = tr
	g.wg.Add(1)
	go g.runTimer(tr)
}

func (g *GoLoop) stopTimerLocked(t *api.Timeout) {
	if tr, ok := g.timers[t]; ok {
		delete(g.timers, t)
		close(tr.stop)
	}
}

// run serializes watch and timeout callbacks and follows every one with a
// dispatch pass, keeping event delivery decoupled from message processing.
func (g *GoLoop) run() {
	defer g.wg.Done()
	for {
		select {
		case fn := <-g.events:
			fn()
			dispatch.Drain(g.conn)
		case <-g.stopCh:
			return
		}
	}
}

// post hands fn to the loop goroutine. Returns false when the loop stopped.
func (g *GoLoop) post(fn func()) bool {
	select {
	case g.events <- fn:
		return true
	case <-g.stopCh:
		return false
	}
}

// runWatcher waits for readiness on one descriptor and posts each observed
// event to the loop goroutine, then blocks until the event was consumed.
// Waiting for consumption keeps the level-triggered poll from reporting the
// same readiness twice.
func (g *GoLoop) runWatcher(fw *fdWatcher) {
	defer g.wg.Done()
	w := fw.w
	for {
		select {
		case <-fw.stop:
			return
		case <-g.stopCh:
			return
		default:
		}

		var events int16
		if w.Enabled() {
			flags := w.Flags()
			if flags.Has(api.WatchReadable) {
				events |= unix.POLLIN
			}
			if flags.Has(api.WatchWritable) {
				events |= unix.POLLOUT
			}
		}
		if events == 0 {
			// nothing to wait for until somebody toggles the watch
			select {
			case <-fw.stop:
				return
			case <-g.stopCh:
				return
			case <-fw.kick:
			}
			continue
		}

		fds := []unix.PollFd{{Fd: int32(w.Fd()), Events: events}}
		n, err := unix.Poll(fds, int(g.tick/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			g.logger.Warn("watch poll failed", "fd", w.Fd(), "err", err)
			return
		}
		if n <= 0 {
			continue
		}

		re := fds[0].Revents
		var observed api.WatchFlags
		if re&unix.POLLIN != 0 {
			observed |= api.WatchReadable
		}
		if re&unix.POLLOUT != 0 {
			observed |= api.WatchWritable
		}
		if re&(unix.POLLERR|unix.POLLNVAL) != 0 {
			observed |= api.WatchError
		}
		if re&unix.POLLHUP != 0 {
			observed |= api.WatchHangup
		}
		if observed == 0 {
			continue
		}

		handled := make(chan struct{})
		if !g.post(func() {
			if w.Enabled() {
				atomic.AddInt64(&g.delivered, 1)
				w.Handle(observed)
			}
			close(handled)
		}) {
			return
		}
		select {
		case <-handled:
		case <-fw.stop:
			return
		case <-g.stopCh:
			return
		}
	}
}

// runTimer sleeps on a runtime timer and posts each expiry to the loop
// goroutine. The timer re-arms after the callback was consumed.
func (g *GoLoop) runTimer(tr *timerRunner) {
	defer g.wg.Done()
	timer := time.NewTimer(tr.interval)
	defer timer.Stop()
	for {
		select {
		case <-tr.stop:
			return
		case <-g.stopCh:
			return
		case <-timer.C:
		}

		fired := make(chan struct{})
		if !g.post(func() {
			if tr.t.Enabled() {
				atomic.AddInt64(&g.delivered, 1)
				tr.t.Handle()
			}
			close(fired)
		}) {
			return
		}
		select {
		case <-fired:
		case <-tr.stop:
			return
		case <-g.stopCh:
			return
		}
		timer.Reset(tr.interval)
	}
}

var _ api.Loop = (*GoLoop)(nil)
