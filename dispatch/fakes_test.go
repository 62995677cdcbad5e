package dispatch_test

import (
	"sync"
	"time"

	"github.com/momentics/hioload-bus/api"
)

// fakeConn records sends and lets tests deliver messages straight into the
// filter chain, without any descriptor I/O underneath.
type fakeConn struct {
	mu      sync.Mutex
	serial  uint32
	sent    []*api.Message
	filters []api.FilterFunc
	pending []*fakePending
}

type fakePending struct {
	serial  uint32
	timeout time.Duration

	mu        sync.Mutex
	done      bool
	reply     *api.Message
	notify    func(*api.Message)
	cancelled bool
}

func (p *fakePending) Serial() uint32 { return p.serial }

func (p *fakePending) SetNotify(fn func(*api.Message)) {
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

func (p *fakePending) Cancel() {
	p.mu.Lock()
	p.done = true
	p.cancelled = true
	p.notify = nil
	p.mu.Unlock()
}

// fire resolves the pending as a reply arrival would.
func (p *fakePending) fire(reply *api.Message) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.reply = reply
	fn := p.notify
	p.mu.Unlock()
	if fn != nil {
		fn(reply)
	}
}

func newFakeConn() *fakeConn { return &fakeConn{} }

func (f *fakeConn) SetLoop(api.Loop) error { return nil }
func (f *fakeConn) UniqueName() string     { return ":fake" }

func (f *fakeConn) Send(m *api.Message) error {
	f.mu.Lock()
	f.serial++
	if m.Serial == 0 {
		m.Serial = f.serial
	}
	if m.Sender == "" {
		m.Sender = f.UniqueName()
	}
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SendWithReply(m *api.Message, timeout time.Duration) (api.PendingCall, error) {
	if err := f.Send(m); err != nil {
		return nil, err
	}
	p := &fakePending{serial: m.Serial, timeout: timeout}
	f.mu.Lock()
	f.pending = append(f.pending, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeConn) AddFilter(fn api.FilterFunc) {
	f.mu.Lock()
	f.filters = append(f.filters, fn)
	f.mu.Unlock()
}

func (f *fakeConn) DispatchStatus() api.DispatchStatus { return api.DispatchComplete }
func (f *fakeConn) DispatchOne() api.DispatchStatus    { return api.DispatchComplete }
func (f *fakeConn) Flush() error                       { return nil }
func (f *fakeConn) Close() error                       { return nil }

// deliver pushes m through the filter chain like DispatchOne would.
func (f *fakeConn) deliver(m *api.Message) bool {
	f.mu.Lock()
	filters := f.filters
	f.mu.Unlock()
	for _, fn := range filters {
		if fn(f, m) {
			return true
		}
	}
	return false
}

func (f *fakeConn) sentMessages() []*api.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*api.Message(nil), f.sent...)
}

func (f *fakeConn) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *fakeConn) lastPending() *fakePending {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil
	}
	return f.pending[len(f.pending)-1]
}

var _ api.Conn = (*fakeConn)(nil)
