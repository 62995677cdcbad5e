// File: api/loop.go
// Package api defines the Loop adapter contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Loop is the event loop adapter contract a connection drives its I/O and
// timers through. Implementations must honor three obligations:
//
//   - AddWatch/AddTimeout may be called before the source is enabled;
//     RemoveWatch/RemoveTimeout must be safe for sources that were never
//     enabled or were already removed.
//   - WatchToggled/TimeoutToggled signal that enabled state, interest flags
//     or the interval changed; a timeout whose interval changed must be
//     re-armed with the new interval.
//   - On readiness or expiry the adapter first calls Watch.Handle or
//     Timeout.Handle so the connection updates its internal state, then
//     schedules a dispatch pass over the connection, decoupled from event
//     delivery.
type Loop interface {
	AddWatch(w *Watch) error
	RemoveWatch(w *Watch)
	WatchToggled(w *Watch)

	AddTimeout(t *Timeout) error
	RemoveTimeout(t *Timeout)
	TimeoutToggled(t *Timeout)
}

// Pumper is implemented by loops that are driven by the calling goroutine
// (poll-style reactors). Pump runs loop iterations until done is closed,
// giving synchronous call wrappers a way to keep dispatch moving while they
// wait for their reply. Loops that run on their own goroutines do not
// implement Pumper; callers block on the reply channel instead.
type Pumper interface {
	Pump(done <-chan struct{}) error
}
