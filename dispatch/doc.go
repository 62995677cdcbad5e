// File: dispatch/doc.go
// Package dispatch
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message routing layer of hioload-bus. Drain is the dispatch driver every
// loop reuses; HandlerSet is one independent handler chain with member,
// interface and path-pattern matching; Dispatcher owns the ordered chains
// of a connection, isolates handler execution behind pluggable spawners and
// provides the outgoing call facade (fire-and-forget, async callback and
// synchronous wrappers).

package dispatch
