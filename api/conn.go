// File: api/conn.go
// Author: momentics <momentics@gmail.com>
//
// Connection boundary: message I/O, loop installation, filter registration
// and the incremental dispatch surface the drivers build on.

package api

import "time"

// DispatchStatus describes a connection's inbound queue after a dispatch
// step.
type DispatchStatus int

const (
	// DispatchComplete: nothing buffered, the next message must come from I/O.
	DispatchComplete DispatchStatus = iota
	// DispatchDataRemains: more buffered messages await dispatch.
	DispatchDataRemains
	// DispatchNeedMemory: dispatch could not proceed for lack of memory.
	// Kept for boundary parity; the in-tree transport never reports it.
	DispatchNeedMemory
)

func (s DispatchStatus) String() string {
	switch s {
	case DispatchComplete:
		return "complete"
	case DispatchDataRemains:
		return "data_remains"
	case DispatchNeedMemory:
		return "need_memory"
	default:
		return "unknown"
	}
}

// FilterFunc inspects one inbound message and reports whether it claimed it.
// Filters run in registration order; the first claim stops delivery.
type FilterFunc func(c Conn, m *Message) bool

// PendingCall tracks one outstanding method call awaiting its reply.
// Exactly one of reply arrival, timeout expiry, disconnect or Cancel
// resolves it.
type PendingCall interface {
	// Serial of the outgoing call this pending tracks.
	Serial() uint32

	// SetNotify installs the completion callback. It fires exactly once with
	// the reply message, which is a synthesized error reply on timeout or
	// disconnect. If the pending already completed, fn runs immediately.
	SetNotify(fn func(reply *Message))

	// Cancel withdraws interest. The notify callback will not fire; a reply
	// arriving later is dropped silently.
	Cancel()
}

// Conn is the stateful bus connection the dispatch engine drives.
//
// Send and SendWithReply are safe for concurrent use. DispatchOne and
// DispatchStatus form the incremental dispatch surface: one buffered
// message is routed per DispatchOne call, and drivers loop while the
// status reports data remaining.
type Conn interface {
	// SetLoop installs the event loop adapter the connection registers its
	// watches and timeouts with. A connection accepts exactly one loop.
	SetLoop(l Loop) error

	// UniqueName returns the connection's unique bus identity (":"-prefixed).
	UniqueName() string

	// Send queues m for transmission, assigning its serial. It never blocks
	// on the peer; undeliverable bytes wait for writability.
	Send(m *Message) error

	// SendWithReply queues a method call and returns the pending call
	// tracking its reply. A positive timeout arms a reply deadline on the
	// installed loop; zero or negative waits indefinitely.
	SendWithReply(m *Message, timeout time.Duration) (PendingCall, error)

	// AddFilter appends a handler-chain entry point consulted for every
	// inbound message that is not a correlated reply.
	AddFilter(f FilterFunc)

	// DispatchStatus reports the state of the inbound queue.
	DispatchStatus() DispatchStatus

	// DispatchOne routes at most one buffered message and returns the
	// status afterwards.
	DispatchOne() DispatchStatus

	// Flush blocks until all queued outbound bytes reach the transport.
	Flush() error

	// Close tears the connection down: pending calls complete with a
	// disconnect error and a local Disconnected signal is queued.
	Close() error
}
