// File: transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Peer-to-peer bus connection over Unix stream sockets. Provides the
// concrete api.Conn used by the dispatch engine: nonblocking descriptor
// I/O driven through a single readiness watch, a length-prefixed gob frame
// codec, serial assignment, pending-call correlation with per-call reply
// deadlines, and filter-chain dispatch. Socketpair loopback (Pair) connects
// two ends in process; Listen/Dial connect across processes on a filesystem
// socket path. This is a point-to-point transport: destinations are carried
// but not routed, and no daemon semantics are implied.

package transport
