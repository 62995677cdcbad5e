// File: dispatch/context.go
// Author: momentics <momentics@gmail.com>
//
// Per-dispatch invocation context. Every method handler receives its own
// Invocation carrying the connection, the inbound call and the response
// slot, so concurrently dispatched messages never share state.

package dispatch

import "github.com/momentics/hioload-bus/api"

// MethodFunc handles one method call. Returning nil produces a method
// return with the response set on the invocation; returning *api.BusError
// produces an error reply with that name; any other error produces a
// generic UncaughtException error reply.
type MethodFunc func(inv *Invocation) error

// SignalFunc handles one signal. Errors are logged and never replied.
type SignalFunc func(c api.Conn, m *api.Message) error

// Invocation is the explicit dispatch context of a single method call.
type Invocation struct {
	conn     api.Conn
	msg      *api.Message
	replySig string

	respSig   string
	respArgs  []any
	responded bool
}

// Conn returns the connection the call arrived on.
func (inv *Invocation) Conn() api.Conn { return inv.conn }

// Message returns the inbound method call.
func (inv *Invocation) Message() *api.Message { return inv.msg }

// Args returns the call's argument list.
func (inv *Invocation) Args() []any { return inv.msg.Args }

// SetResponse stores the reply arguments under the signature declared at
// registration. Without a call the reply is empty.
func (inv *Invocation) SetResponse(args ...any) {
	inv.respSig = inv.replySig
	inv.respArgs = args
	inv.responded = true
}

// SetResponseSignature stores reply arguments under an explicit signature,
// overriding the registration's declared one.
func (inv *Invocation) SetResponseSignature(sig string, args ...any) {
	inv.respSig = sig
	inv.respArgs = args
	inv.responded = true
}

// response yields the reply payload, if any.
func (inv *Invocation) response() (sig string, args []any, ok bool) {
	return inv.respSig, inv.respArgs, inv.responded
}
