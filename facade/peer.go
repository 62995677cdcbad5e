// File: facade/peer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Peer bundles one bus connection with its event loop, handler chains and
// the outgoing call surface behind a single type driven by control.Config.
// New validates the configuration, Start installs the loop and begins
// dispatching, Stop tears the whole assembly down.

//go:build unix
// +build unix

package facade

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/momentics/hioload-bus/adapters"
	"github.com/momentics/hioload-bus/api"
	"github.com/momentics/hioload-bus/control"
	"github.com/momentics/hioload-bus/dispatch"
	"github.com/momentics/hioload-bus/reactor"
	"github.com/momentics/hioload-bus/transport"
)

// ErrNotStarted reports a call, emission or stats request before Start.
var ErrNotStarted = errors.New("facade: peer not started")

// Option adjusts peer construction.
type Option func(*Peer)

// WithLogger sets the structured logger handed to the peer's components.
func WithLogger(l *slog.Logger) Option {
	return func(p *Peer) {
		if l != nil {
			p.logger = l
		}
	}
}

// Peer is one bus endpoint: a connection driven by the configured event
// loop, handler chains routing its inbound traffic and the call facade for
// outgoing methods and signals.
//
// A peer runs once. After Stop the underlying connection is closed; a new
// connection needs a new peer.
type Peer struct {
	cfg    *control.Config
	logger *slog.Logger
	conn   api.Conn

	mu      sync.Mutex
	started bool
	stopped bool
	sets    []*dispatch.HandlerSet
	disp    *dispatch.Dispatcher
	pool    *dispatch.Pool
	poll    *reactor.Reactor
	sched   *adapters.GoLoop
	runErr  chan error
}

// New wraps conn in a peer. A nil cfg means control.DefaultConfig; the
// configuration is validated here so Start cannot fail on it later.
// Nothing dispatches until Start.
func New(conn api.Conn, cfg *control.Config, opts ...Option) (*Peer, error) {
	if conn == nil {
		return nil, errors.New("facade: nil connection")
	}
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Peer{
		cfg:    cfg,
		logger: slog.Default(),
		conn:   conn,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewPair builds two connected in-process peers over a socketpair. Both
// sides share the configuration. Useful for tests and worker pipelines.
func NewPair(cfg *control.Config, opts ...Option) (*Peer, *Peer, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	a, b, err := transport.Pair(transport.WithMaxFrame(cfg.MaxFrame))
	if err != nil {
		return nil, nil, err
	}
	pa, err := New(a, cfg, opts...)
	if err != nil {
		a.Close()
		b.Close()
		return nil, nil, err
	}
	pb, err := New(b, cfg, opts...)
	if err != nil {
		a.Close()
		b.Close()
		return nil, nil, err
	}
	return pa, pb, nil
}

// Dial connects to the bus socket at path and wraps the connection in a
// peer. The peer owns the connection and closes it on Stop.
func Dial(path string, cfg *control.Config, opts ...Option) (*Peer, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	conn, err := transport.Dial(path, transport.WithMaxFrame(cfg.MaxFrame))
	if err != nil {
		return nil, err
	}
	p, err := New(conn, cfg, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// Handle registers handler chains. Chains registered before Start are
// buffered and installed the moment dispatching begins; later ones take
// effect immediately.
func (p *Peer) Handle(sets ...*dispatch.HandlerSet) {
	p.mu.Lock()
	if p.disp != nil {
		p.disp.AddHandlers(sets...)
	} else {
		p.sets = append(p.sets, sets...)
	}
	p.mu.Unlock()
}

// Start wires the dispatcher into the connection, installs the configured
// event loop and begins dispatching. The dispatcher goes in first so that
// every message the loop surfaces already finds the handler chains.
// Starting twice is a no-op; starting after Stop is an error.
func (p *Peer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return errors.New("facade: peer already stopped")
	}
	if p.started {
		return nil
	}

	if p.disp == nil {
		spawner := p.newSpawnerLocked()
		p.disp = dispatch.New(p.conn,
			dispatch.WithLogger(p.logger),
			dispatch.WithSpawner(spawner),
			dispatch.WithUnknownMethodReply(p.cfg.UnknownMethodReply),
			dispatch.WithDefaultCallTimeout(p.cfg.CallTimeout.Std()),
		)
		p.disp.AddHandlers(p.sets...)
		p.sets = nil
	}

	switch p.cfg.Loop {
	case control.LoopPoll:
		r, err := reactor.New(p.conn, reactor.WithMaxWait(p.cfg.MaxWait.Std()))
		if err != nil {
			return err
		}
		p.poll = r
		// Bind before Run so a handler's nested synchronous call can pump
		// the reactor from its first step on.
		p.disp.BindLoop(r)
		p.runErr = make(chan error, 1)
		go func() { p.runErr <- r.Run() }()
	default:
		g, err := adapters.NewGoLoop(p.conn,
			adapters.WithTick(p.cfg.Tick.Std()),
			adapters.WithLogger(p.logger),
		)
		if err != nil {
			return err
		}
		p.sched = g
		p.disp.BindLoop(g)
	}

	p.started = true
	return nil
}

// Stop halts the event loop, flushes what the peer still owes the wire and
// closes the connection. Outstanding calls on this side complete with a
// Disconnected error; the remote side sees the connection drop. Stopping
// twice is a no-op.
func (p *Peer) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.started = false
	poll, sched, pool := p.poll, p.sched, p.pool
	runErr := p.runErr
	p.poll, p.sched, p.pool, p.runErr = nil, nil, nil, nil
	p.mu.Unlock()

	var err error
	if poll != nil {
		poll.Stop()
		if runErr != nil {
			err = <-runErr
		}
		poll.Close()
	}
	if sched != nil {
		sched.Stop()
	}
	if pool != nil {
		pool.Close()
	}
	if e := p.conn.Close(); err == nil {
		err = e
	}
	return err
}

// Call performs a synchronous method call through the peer's dispatcher.
func (p *Peer) Call(path, member string, opts ...dispatch.CallOption) (*api.Message, error) {
	d := p.dispatcher()
	if d == nil {
		return nil, ErrNotStarted
	}
	return d.Call(path, member, opts...)
}

// CallAsync sends a method call and invokes onReply when the reply, a
// timeout or a disconnect resolves it.
func (p *Peer) CallAsync(path, member string, onReply func(*api.Message), opts ...dispatch.CallOption) (api.PendingCall, error) {
	d := p.dispatcher()
	if d == nil {
		return nil, ErrNotStarted
	}
	return d.CallAsync(path, member, onReply, opts...)
}

// CallNoReply sends a fire-and-forget method call.
func (p *Peer) CallNoReply(path, member string, opts ...dispatch.CallOption) error {
	d := p.dispatcher()
	if d == nil {
		return ErrNotStarted
	}
	return d.CallNoReply(path, member, opts...)
}

// Emit broadcasts a signal. The interface option is mandatory for signals.
func (p *Peer) Emit(path, member string, opts ...dispatch.CallOption) error {
	d := p.dispatcher()
	if d == nil {
		return ErrNotStarted
	}
	return d.Emit(path, member, opts...)
}

// Conn exposes the underlying connection.
func (p *Peer) Conn() api.Conn { return p.conn }

// UniqueName returns the connection's unique bus identity.
func (p *Peer) UniqueName() string { return p.conn.UniqueName() }

// Stats merges the counters of the peer's live components under
// per-component key prefixes.
func (p *Peer) Stats() map[string]int64 {
	p.mu.Lock()
	disp, pool, poll, sched := p.disp, p.pool, p.poll, p.sched
	p.mu.Unlock()

	out := make(map[string]int64)
	merge := func(prefix string, m map[string]int64) {
		for k, v := range m {
			out[prefix+k] = v
		}
	}
	if disp != nil {
		merge("dispatch.", disp.Stats())
	}
	if pool != nil {
		merge("pool.", pool.Stats())
	}
	if poll != nil {
		merge("loop.", poll.Stats())
	}
	if sched != nil {
		merge("loop.", sched.Stats())
	}
	return out
}

func (p *Peer) dispatcher() *dispatch.Dispatcher {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	return p.disp
}

// newSpawnerLocked derives the handler spawner from the configuration. An
// empty spawn mode follows the loop: inline on the polling reactor, whose
// Pump keeps nested synchronous calls moving, and goroutines on the
// scheduler loop, which cannot pump.
func (p *Peer) newSpawnerLocked() dispatch.Spawner {
	mode := p.cfg.Spawn
	if mode == "" {
		if p.cfg.Loop == control.LoopPoll {
			mode = control.SpawnInline
		} else {
			mode = control.SpawnGo
		}
	}
	switch mode {
	case control.SpawnInline:
		if p.cfg.Loop == control.LoopGo {
			p.logger.Warn("inline handlers on the goroutine loop deadlock on nested synchronous calls")
		}
		return dispatch.InlineSpawner{}
	case control.SpawnPool:
		p.pool = dispatch.NewPool(p.cfg.Workers)
		return p.pool
	default:
		return dispatch.GoSpawner{}
	}
}
