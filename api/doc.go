// File: api/doc.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Contract layer of hioload-bus. Defines the event loop adapter interface,
// the watch and timeout primitives a connection registers with a loop, the
// typed bus message model, the connection boundary, and the bus error
// taxonomy. Concrete implementations live in reactor/, adapters/, transport/
// and dispatch/; all of them depend only on this package.

package api
