// File: transport/pending.go
//go:build unix
// +build unix

// Author: momentics <momentics@gmail.com>
//
// Pending call state. One pendingCall tracks one outstanding method call;
// reply arrival, deadline expiry, disconnect and Cancel race for resolution
// and exactly one of them wins.

package transport

import (
	"sync"

	"github.com/momentics/hioload-bus/api"
)

type pendingCall struct {
	conn   *Conn
	serial uint32

	// timer is managed by the owning connection under its lock.
	timer *api.Timeout

	mu     sync.Mutex
	done   bool
	reply  *api.Message
	notify func(*api.Message)
}

var _ api.PendingCall = (*pendingCall)(nil)

func (p *pendingCall) Serial() uint32 { return p.serial }

// SetNotify installs the completion callback. A pending that already
// resolved fires fn immediately with the stored reply.
func (p *pendingCall) SetNotify(fn func(*api.Message)) {
	p.mu.Lock()
	if p.done {
		reply := p.reply
		p.mu.Unlock()
		if fn != nil && reply != nil {
			fn(reply)
		}
		return
	}
	p.notify = fn
	p.mu.Unlock()
}

// Cancel withdraws interest; the notify callback will never fire.
func (p *pendingCall) Cancel() {
	p.conn.cancelPending(p.serial)
}

// complete resolves the pending with reply and returns the notification to
// run outside all connection locks, or nil if the pending was already
// resolved or has no callback yet.
func (p *pendingCall) complete(reply *api.Message) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return nil
	}
	p.done = true
	p.reply = reply
	fn := p.notify
	p.notify = nil
	if fn == nil {
		return nil
	}
	return func() { fn(reply) }
}

// abandon resolves the pending without notification (Cancel path).
func (p *pendingCall) abandon() {
	p.mu.Lock()
	p.done = true
	p.notify = nil
	p.mu.Unlock()
}
