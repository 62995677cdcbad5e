// File: dispatch/dispatcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dispatcher owns the ordered handler chains of one connection. Matching is
// synchronous inside the connection's filter pass; the invocation itself is
// handed to the configured spawner. Method calls stop at the first claiming
// chain so exactly one reply is produced; signals are offered to every
// chain. Method calls no chain claims receive an UnknownMethod error reply
// unless that is configured off.

package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-bus/api"
)

// DefaultCallTimeout caps synchronous and async calls that pass no explicit
// timeout.
const DefaultCallTimeout = 25 * time.Second

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger for handler diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithSpawner selects the handler execution strategy.
func WithSpawner(s Spawner) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.spawner = s
		}
	}
}

// WithUnknownMethodReply controls whether unclaimed method calls get an
// UnknownMethod error reply (default) or are dropped silently.
func WithUnknownMethodReply(on bool) Option {
	return func(d *Dispatcher) { d.unknownReply = on }
}

// WithDefaultCallTimeout overrides the timeout applied to calls that pass
// no WithTimeout option.
func WithDefaultCallTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.defTimeout = timeout
		}
	}
}

// Dispatcher routes a connection's inbound traffic into handler chains and
// provides the outgoing call facade.
type Dispatcher struct {
	conn    api.Conn
	logger  *slog.Logger
	spawner Spawner

	unknownReply bool
	defTimeout   time.Duration

	mu     sync.RWMutex
	loop   api.Loop
	chains []*HandlerSet

	// statistics
	received  int64
	claimed   int64
	unclaimed int64
}

// New creates a dispatcher and installs it as a filter on conn.
func New(conn api.Conn, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		conn:         conn,
		logger:       slog.Default(),
		spawner:      InlineSpawner{},
		unknownReply: true,
		defTimeout:   DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	conn.AddFilter(d.filter)
	return d
}

// AddHandlers appends handler chains. Chains are offered messages in the
// order they were added.
func (d *Dispatcher) AddHandlers(sets ...*HandlerSet) {
	d.mu.Lock()
	d.chains = append(d.chains, sets...)
	d.mu.Unlock()
}

// BindLoop tells the dispatcher which loop drives the connection, letting
// synchronous calls pump re-enterable loops instead of blocking. Bind after
// the loop is installed and before issuing calls.
func (d *Dispatcher) BindLoop(l api.Loop) {
	d.mu.Lock()
	d.loop = l
	d.mu.Unlock()
}

func (d *Dispatcher) boundLoop() api.Loop {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loop
}

// Conn returns the connection this dispatcher serves.
func (d *Dispatcher) Conn() api.Conn { return d.conn }

// Stats returns dispatch counters.
func (d *Dispatcher) Stats() map[string]int64 {
	return map[string]int64{
		"received":  atomic.LoadInt64(&d.received),
		"claimed":   atomic.LoadInt64(&d.claimed),
		"unclaimed": atomic.LoadInt64(&d.unclaimed),
	}
}

// filter is the connection-side entry point. Matching runs synchronously so
// claim decisions are made in dispatch order; handler bodies run wherever
// the spawner puts them.
func (d *Dispatcher) filter(c api.Conn, m *api.Message) bool {
	atomic.AddInt64(&d.received, 1)
	d.mu.RLock()
	chains := d.chains
	d.mu.RUnlock()

	switch m.Kind {
	case api.KindMethodCall:
		for _, hs := range chains {
			r := hs.match(m)
			if r == nil {
				continue
			}
			atomic.AddInt64(&d.claimed, 1)
			d.spawner.Spawn(func() { runMethod(c, m, r, d.logger) })
			return true
		}
		atomic.AddInt64(&d.unclaimed, 1)
		if d.unknownReply && !m.NoReply {
			e := api.NewError(m, api.ErrorUnknownMethod,
				fmt.Sprintf("no handler for member %q on path %q", m.Member, m.Path))
			if err := c.Send(e); err != nil {
				d.logger.Warn("unknown-method reply undeliverable", "member", m.Member, "err", err)
			}
			return true
		}
		return false

	case api.KindSignal:
		claimed := false
		for _, hs := range chains {
			r := hs.match(m)
			if r == nil {
				continue
			}
			claimed = true
			d.spawner.Spawn(func() { runSignal(c, m, r, d.logger) })
		}
		if claimed {
			atomic.AddInt64(&d.claimed, 1)
		} else {
			atomic.AddInt64(&d.unclaimed, 1)
		}
		return claimed
	}
	return false
}
