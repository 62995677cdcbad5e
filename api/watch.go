// File: api/watch.go
// Author: momentics <momentics@gmail.com>
//
// Watch represents a connection's interest in readiness events on one file
// descriptor. The owning connection creates watches and mutates their
// interest set; event loop adapters observe them and deliver readiness
// through Handle.

package api

import "sync"

// WatchFlags is a bitmask of readiness conditions.
type WatchFlags uint8

const (
	WatchReadable WatchFlags = 1 << iota // descriptor has data to read
	WatchWritable                        // descriptor accepts writes
	WatchError                           // error condition reported by the OS
	WatchHangup                          // peer hung up
)

// Has reports whether all bits of q are set in f.
func (f WatchFlags) Has(q WatchFlags) bool { return f&q == q }

func (f WatchFlags) String() string {
	var s string
	add := func(tag string) {
		if s != "" {
			s += "|"
		}
		s += tag
	}
	if f.Has(WatchReadable) {
		add("readable")
	}
	if f.Has(WatchWritable) {
		add("writable")
	}
	if f.Has(WatchError) {
		add("error")
	}
	if f.Has(WatchHangup) {
		add("hangup")
	}
	if s == "" {
		return "none"
	}
	return s
}

// Watch binds one file descriptor to an interest set and an I/O callback.
//
// Only the owning connection creates a Watch or mutates its flags and
// enabled state; after any mutation the connection must notify the
// installed loop via Loop.WatchToggled. Adapters may stash their per-watch
// bookkeeping in the data slot; the connection never touches it.
type Watch struct {
	mu      sync.Mutex
	fd      int
	flags   WatchFlags
	enabled bool
	data    any

	handler func(WatchFlags)
}

// NewWatch creates a watch for fd with the given interest set.
// handler is invoked by Handle whenever the loop observes readiness.
func NewWatch(fd int, flags WatchFlags, enabled bool, handler func(WatchFlags)) *Watch {
	return &Watch{fd: fd, flags: flags, enabled: enabled, handler: handler}
}

// Fd returns the watched descriptor.
func (w *Watch) Fd() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fd
}

// Flags returns the current interest set.
func (w *Watch) Flags() WatchFlags {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flags
}

// Enabled reports whether the loop should poll this watch at all.
func (w *Watch) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// Data returns the adapter-owned slot.
func (w *Watch) Data() any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.data
}

// SetData stores an adapter-owned value on the watch.
func (w *Watch) SetData(v any) {
	w.mu.Lock()
	w.data = v
	w.mu.Unlock()
}

// SetFlags replaces the interest set. Connection-side mutator; the caller
// must follow up with Loop.WatchToggled on the installed loop.
func (w *Watch) SetFlags(f WatchFlags) {
	w.mu.Lock()
	w.flags = f
	w.mu.Unlock()
}

// SetEnabled switches the watch on or off. Connection-side mutator; the
// caller must follow up with Loop.WatchToggled.
func (w *Watch) SetEnabled(on bool) {
	w.mu.Lock()
	w.enabled = on
	w.mu.Unlock()
}

// Handle delivers observed readiness to the owning connection. Adapters call
// it with the flags the OS reported; the connection performs the actual I/O
// and interest updates. The callback runs without the watch lock held.
func (w *Watch) Handle(flags WatchFlags) {
	w.mu.Lock()
	h := w.handler
	w.mu.Unlock()
	if h != nil {
		h(flags)
	}
}
