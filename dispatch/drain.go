// File: dispatch/drain.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch

import "github.com/momentics/hioload-bus/api"

// Drain dispatches buffered messages until the connection reports no data
// remaining. It is the single dispatch driver: loops call it after event
// delivery and synchronous call wrappers call it while waiting, so one
// stuck message source never starves another.
func Drain(c api.Conn) {
	for st := c.DispatchStatus(); st == api.DispatchDataRemains; st = c.DispatchOne() {
	}
}
