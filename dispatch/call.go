// File: dispatch/call.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outgoing call facade. Three shapes: CallNoReply (fire-and-forget),
// CallAsync (callback on completion) and Call (synchronous wrapper that
// pumps re-enterable loops or blocks until the reply resolves). Signals go
// out through Emit.

package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/momentics/hioload-bus/api"
)

// ErrInterfaceRequired reports a signal emission without an interface.
var ErrInterfaceRequired = errors.New("signal emission requires an interface")

type callSettings struct {
	dest       string
	iface      string
	sig        string
	args       []any
	hasArgs    bool
	timeout    time.Duration
	hasTimeout bool
}

// CallOption refines an outgoing message.
type CallOption func(*callSettings)

// WithDestination addresses the message to a specific peer identity.
func WithDestination(dest string) CallOption {
	return func(cs *callSettings) { cs.dest = dest }
}

// WithCallInterface qualifies the member with an interface.
func WithCallInterface(iface string) CallOption {
	return func(cs *callSettings) { cs.iface = iface }
}

// WithArgs attaches arguments under the given signature.
func WithArgs(sig string, args ...any) CallOption {
	return func(cs *callSettings) {
		cs.sig = sig
		cs.args = args
		cs.hasArgs = true
	}
}

// WithTimeout bounds the wait for a reply. Zero or negative waits
// indefinitely.
func WithTimeout(timeout time.Duration) CallOption {
	return func(cs *callSettings) {
		cs.timeout = timeout
		cs.hasTimeout = true
	}
}

// build assembles an outgoing message of the given kind.
func (d *Dispatcher) build(kind api.MessageKind, path, member string, opts []CallOption) (*api.Message, callSettings, error) {
	var cs callSettings
	for _, opt := range opts {
		opt(&cs)
	}
	m := &api.Message{Kind: kind, Path: path, Interface: cs.iface, Member: member, Destination: cs.dest}
	if cs.hasArgs {
		if _, err := m.SetArgs(cs.sig, cs.args...); err != nil {
			return nil, cs, err
		}
	}
	return m, cs, nil
}

// CallNoReply sends a method call flagged as expecting no reply. The
// receiving side runs a matching handler but never answers.
func (d *Dispatcher) CallNoReply(path, member string, opts ...CallOption) error {
	m, _, err := d.build(api.KindMethodCall, path, member, opts)
	if err != nil {
		return err
	}
	m.NoReply = true
	return d.conn.Send(m)
}

// CallAsync sends a method call and registers onReply to run exactly once
// with the reply, which is a synthesized NoReply error when the timeout
// expires first. Returns the pending call for cancellation.
func (d *Dispatcher) CallAsync(path, member string, onReply func(*api.Message), opts ...CallOption) (api.PendingCall, error) {
	m, cs, err := d.build(api.KindMethodCall, path, member, opts)
	if err != nil {
		return nil, err
	}
	p, err := d.conn.SendWithReply(m, d.effectiveTimeout(cs))
	if err != nil {
		return nil, err
	}
	p.SetNotify(onReply)
	return p, nil
}

// Call sends a method call and waits for its resolution. On a loop that
// implements api.Pumper the calling goroutine drives dispatch itself;
// otherwise it blocks until the loop's goroutines resolve the pending.
// Error replies, including the synthesized timeout error, surface as
// *api.BusError.
func (d *Dispatcher) Call(path, member string, opts ...CallOption) (*api.Message, error) {
	m, cs, err := d.build(api.KindMethodCall, path, member, opts)
	if err != nil {
		return nil, err
	}
	p, err := d.conn.SendWithReply(m, d.effectiveTimeout(cs))
	if err != nil {
		return nil, err
	}

	ch := make(chan *api.Message, 1)
	done := make(chan struct{})
	p.SetNotify(func(reply *api.Message) {
		ch <- reply
		close(done)
	})

	if pumper, ok := d.boundLoop().(api.Pumper); ok {
		if err := pumper.Pump(done); err != nil {
			p.Cancel()
			return nil, fmt.Errorf("pump: %w", err)
		}
	}
	reply := <-ch
	if reply.Kind == api.KindError {
		return nil, api.BusErrorFromMessage(reply)
	}
	return reply, nil
}

// Emit broadcasts a signal. Signals must carry an interface.
func (d *Dispatcher) Emit(path, member string, opts ...CallOption) error {
	m, cs, err := d.build(api.KindSignal, path, member, opts)
	if err != nil {
		return err
	}
	if cs.iface == "" {
		return ErrInterfaceRequired
	}
	return d.conn.Send(m)
}

// effectiveTimeout resolves the per-call timeout: an explicit WithTimeout
// wins, otherwise the dispatcher default applies.
func (d *Dispatcher) effectiveTimeout(cs callSettings) time.Duration {
	if cs.hasTimeout {
		return cs.timeout
	}
	return d.defTimeout
}
