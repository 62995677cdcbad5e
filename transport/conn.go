// File: transport/conn.go
//go:build unix
// +build unix

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concrete api.Conn over a nonblocking Unix stream descriptor. One watch
// carries read interest permanently and write interest while outbound bytes
// are buffered. Inbound bytes are framed and decoded eagerly into a FIFO of
// messages; DispatchOne pops one message per call, resolving reply
// correlation before consulting the filter chain.

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-bus/api"
)

const readChunk = 4096

// Option customizes a connection at construction time.
type Option func(*Conn)

// WithLogger sets the structured logger for connection diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxFrame bounds the encoded size of a single message.
func WithMaxFrame(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.maxFrame = n
		}
	}
}

// Conn is a peer-to-peer bus connection on one end of a Unix stream socket.
type Conn struct {
	mu       sync.Mutex
	fd       int
	unique   string
	guid     string
	logger   *slog.Logger
	maxFrame int

	loop  api.Loop
	watch *api.Watch

	scratch  []byte
	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	inbound  *queue.Queue // decoded *api.Message awaiting dispatch

	serial  uint32
	pending map[uint32]*pendingCall

	// completion callbacks collected under mu, run after unlock
	deferred []func()

	filterMu sync.RWMutex
	filters  []api.FilterFunc

	closed bool
}

var _ api.Conn = (*Conn)(nil)

func newConn(fd int, guid string, opts ...Option) *Conn {
	c := &Conn{
		fd:       fd,
		unique:   ":" + uuid.NewString()[:8],
		guid:     guid,
		logger:   slog.Default(),
		maxFrame: DefaultMaxFrame,
		scratch:  make([]byte, readChunk),
		inbound:  queue.New(),
		pending:  make(map[uint32]*pendingCall),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UniqueName returns the ":"-prefixed identity of this end.
func (c *Conn) UniqueName() string { return c.unique }

// GUID identifies the pairing or listening endpoint this connection came
// from. Dialed connections report an empty GUID.
func (c *Conn) GUID() string { return c.guid }

// SetLoop installs the event loop adapter. A connection accepts exactly one
// loop for its lifetime.
func (c *Conn) SetLoop(l api.Loop) error {
	if l == nil {
		return fmt.Errorf("nil loop")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return api.ErrClosed
	}
	if c.loop != nil {
		c.mu.Unlock()
		return api.ErrLoopInstalled
	}
	flags := api.WatchReadable
	if c.writeBuf.Len() > 0 {
		flags |= api.WatchWritable
	}
	w := api.NewWatch(c.fd, flags, true, c.handleIO)
	c.loop = l
	c.watch = w
	c.mu.Unlock()

	if err := l.AddWatch(w); err != nil {
		c.mu.Lock()
		c.loop = nil
		c.watch = nil
		c.mu.Unlock()
		return fmt.Errorf("add watch: %w", err)
	}
	return nil
}

// Send queues m for transmission. The serial is assigned here if unset and
// an opportunistic nonblocking write drains whatever the kernel accepts.
func (c *Conn) Send(m *api.Message) error {
	if m == nil || m.Kind == api.KindInvalid {
		return api.ErrInvalidMessage
	}
	c.mu.Lock()
	err := c.sendLocked(m)
	c.mu.Unlock()
	c.runDeferred()
	return err
}

// SendWithReply queues a method call and tracks its reply. A positive
// timeout arms a deadline on the installed loop; without a loop the call
// waits until a reply or disconnect resolves it.
func (c *Conn) SendWithReply(m *api.Message, timeout time.Duration) (api.PendingCall, error) {
	if m == nil || m.Kind != api.KindMethodCall {
		return nil, api.ErrInvalidMessage
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, api.ErrClosed
	}
	m.NoReply = false
	if m.Serial == 0 {
		m.Serial = c.nextSerialLocked()
	}
	p := &pendingCall{conn: c, serial: m.Serial}
	c.pending[m.Serial] = p
	if timeout > 0 && c.loop != nil {
		serial := m.Serial
		p.timer = api.NewTimeout(timeout, true, func() { c.expirePending(serial) })
		if err := c.loop.AddTimeout(p.timer); err != nil {
			delete(c.pending, m.Serial)
			c.mu.Unlock()
			return nil, fmt.Errorf("arm reply deadline: %w", err)
		}
	}
	if err := c.sendLocked(m); err != nil {
		c.dropPendingLocked(p)
		c.mu.Unlock()
		c.runDeferred()
		return nil, err
	}
	c.mu.Unlock()
	c.runDeferred()
	return p, nil
}

// AddFilter appends a dispatch entry point consulted for every inbound
// message that is not a correlated reply. The first filter returning true
// claims the message.
func (c *Conn) AddFilter(f api.FilterFunc) {
	if f == nil {
		return
	}
	c.filterMu.Lock()
	c.filters = append(c.filters, f)
	c.filterMu.Unlock()
}

// DispatchStatus reports whether decoded messages await dispatch.
func (c *Conn) DispatchStatus() api.DispatchStatus {
	c.mu.Lock()
	st := c.statusLocked()
	c.mu.Unlock()
	return st
}

// DispatchOne routes at most one buffered message: correlated replies
// resolve their pending call, everything else walks the filter chain.
// Unclaimed messages and late replies are dropped.
func (c *Conn) DispatchOne() api.DispatchStatus {
	c.mu.Lock()
	if c.inbound.Length() == 0 {
		st := c.statusLocked()
		c.mu.Unlock()
		return st
	}
	m := c.inbound.Remove().(*api.Message)
	st := c.statusLocked()

	if m.IsReply() {
		p, ok := c.pending[m.ReplySerial]
		if ok {
			c.dropPendingLocked(p)
		}
		c.mu.Unlock()
		if ok {
			if run := p.complete(m); run != nil {
				run()
			}
		}
		return st
	}
	c.mu.Unlock()

	c.filterMu.RLock()
	filters := c.filters
	c.filterMu.RUnlock()
	for _, f := range filters {
		if f(c, m) {
			break
		}
	}
	return st
}

// Flush blocks until every queued outbound byte is written.
func (c *Conn) Flush() error {
	c.mu.Lock()
	err := c.flushSomeLocked(true)
	c.mu.Unlock()
	c.runDeferred()
	return err
}

// Close tears the connection down. Pending calls resolve with a
// Disconnected error and a local Disconnected signal is queued for
// dispatch. Closing twice is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	// drain what the kernel accepts without blocking on the peer
	_ = c.flushSomeLocked(false)
	c.closeLocked(nil)
	c.mu.Unlock()
	c.runDeferred()
	return nil
}

// --- internals, all called with c.mu held unless noted ---

func (c *Conn) statusLocked() api.DispatchStatus {
	if c.inbound.Length() > 0 {
		return api.DispatchDataRemains
	}
	return api.DispatchComplete
}

func (c *Conn) nextSerialLocked() uint32 {
	c.serial++
	if c.serial == 0 {
		c.serial = 1
	}
	return c.serial
}

func (c *Conn) sendLocked(m *api.Message) error {
	if c.closed {
		return api.ErrClosed
	}
	if m.Serial == 0 {
		m.Serial = c.nextSerialLocked()
	}
	if m.Sender == "" {
		m.Sender = c.unique
	}
	frame, err := encodeFrame(m, c.maxFrame)
	if err != nil {
		return err
	}
	c.writeBuf.Write(frame)
	if err := c.flushSomeLocked(false); err != nil {
		return err
	}
	c.updateInterestLocked()
	return nil
}

// flushSomeLocked writes buffered bytes. Nonblocking mode stops at EAGAIN;
// blocking mode polls for writability until the buffer drains. A fatal
// write error closes the connection.
func (c *Conn) flushSomeLocked(block bool) error {
	if c.closed {
		return nil
	}
	for c.writeBuf.Len() > 0 {
		n, err := unix.Write(c.fd, c.writeBuf.Bytes())
		if n > 0 {
			c.writeBuf.Next(n)
			continue
		}
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			if !block {
				return nil
			}
			if perr := pollWritable(c.fd); perr != nil {
				c.closeLocked(fmt.Errorf("flush poll: %w", perr))
				return perr
			}
		case err != nil:
			werr := fmt.Errorf("write: %w", err)
			c.closeLocked(werr)
			return werr
		}
	}
	return nil
}

func (c *Conn) updateInterestLocked() {
	if c.watch == nil || c.closed {
		return
	}
	want := api.WatchReadable
	if c.writeBuf.Len() > 0 {
		want |= api.WatchWritable
	}
	if c.watch.Flags() != want {
		c.watch.SetFlags(want)
		if c.loop != nil {
			c.loop.WatchToggled(c.watch)
		}
	}
}

// dropPendingLocked removes p from the table and disarms its deadline.
func (c *Conn) dropPendingLocked(p *pendingCall) {
	delete(c.pending, p.serial)
	if p.timer != nil {
		p.timer.SetEnabled(false)
		if c.loop != nil {
			c.loop.RemoveTimeout(p.timer)
		}
		p.timer = nil
	}
}

// cancelPending implements PendingCall.Cancel. Called without c.mu.
func (c *Conn) cancelPending(serial uint32) {
	c.mu.Lock()
	p, ok := c.pending[serial]
	if ok {
		c.dropPendingLocked(p)
	}
	c.mu.Unlock()
	if ok {
		p.abandon()
	}
}

// expirePending is a reply deadline firing. Called without c.mu from the
// loop's timer path; racing reply delivery is resolved by the pending's
// completed flag, so at most one side notifies.
func (c *Conn) expirePending(serial uint32) {
	c.mu.Lock()
	p, ok := c.pending[serial]
	if ok {
		c.dropPendingLocked(p)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	reply := &api.Message{
		Kind:        api.KindError,
		ErrorName:   api.ErrorNoReply,
		ReplySerial: serial,
		Signature:   "s",
		Args:        []any{"no reply received within the allotted time"},
	}
	if run := p.complete(reply); run != nil {
		run()
	}
}

// handleIO is the watch callback: performs descriptor I/O for the observed
// readiness, refills the inbound queue and updates write interest. Runs on
// the loop's event goroutine. Called without c.mu.
func (c *Conn) handleIO(flags api.WatchFlags) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var fatal error
	if flags.Has(api.WatchReadable) || flags.Has(api.WatchHangup) || flags.Has(api.WatchError) {
		fatal = c.readLocked()
	}
	if fatal == nil && flags.Has(api.WatchWritable) {
		fatal = c.flushSomeLocked(false)
	}
	if fatal != nil {
		c.closeLocked(fatal)
	} else {
		c.updateInterestLocked()
	}
	c.mu.Unlock()
	c.runDeferred()
}

// readLocked drains the descriptor and decodes complete frames into the
// inbound queue. Buffered frames decoded before an EOF are preserved; the
// EOF is reported after they are queued.
func (c *Conn) readLocked() error {
	var eof bool
	for {
		n, err := unix.Read(c.fd, c.scratch)
		if n > 0 {
			c.readBuf.Write(c.scratch[:n])
			continue
		}
		if n == 0 && err == nil {
			eof = true
			break
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		return fmt.Errorf("read: %w", err)
	}
	for {
		m, err := decodeFrame(&c.readBuf, c.maxFrame)
		if err != nil {
			return fmt.Errorf("inbound frame: %w", err)
		}
		if m == nil {
			break
		}
		c.inbound.Add(m)
	}
	if eof {
		return io.EOF
	}
	return nil
}

// closeLocked is the single teardown path for local Close, peer EOF and
// fatal I/O errors. It resolves every pending call with a Disconnected
// error, queues the local Disconnected signal behind already-decoded
// traffic and releases the descriptor.
func (c *Conn) closeLocked(cause error) {
	if c.closed {
		return
	}
	c.closed = true

	for serial, p := range c.pending {
		delete(c.pending, serial)
		if p.timer != nil {
			p.timer.SetEnabled(false)
			if c.loop != nil {
				c.loop.RemoveTimeout(p.timer)
			}
			p.timer = nil
		}
		reply := &api.Message{
			Kind:        api.KindError,
			ErrorName:   api.ErrorDisconnected,
			ReplySerial: serial,
			Signature:   "s",
			Args:        []any{"connection closed before the reply arrived"},
		}
		if run := p.complete(reply); run != nil {
			c.deferred = append(c.deferred, run)
		}
	}

	sig := &api.Message{
		Kind:      api.KindSignal,
		Path:      api.LocalPath,
		Interface: api.LocalInterface,
		Member:    api.MemberDisconnected,
		Sender:    c.unique,
		Serial:    c.nextSerialLocked(),
	}
	c.inbound.Add(sig)

	if c.watch != nil {
		c.watch.SetEnabled(false)
		if c.loop != nil {
			c.loop.RemoveWatch(c.watch)
		}
		c.watch = nil
	}
	if c.fd >= 0 {
		unix.Close(c.fd)
		c.fd = -1
	}
	if cause != nil && !errors.Is(cause, io.EOF) {
		c.logger.Warn("bus connection closed", "unique", c.unique, "cause", cause)
	}
}

// runDeferred executes completion callbacks collected during a locked
// section. Must be called without c.mu.
func (c *Conn) runDeferred() {
	c.mu.Lock()
	runs := c.deferred
	c.deferred = nil
	c.mu.Unlock()
	for _, fn := range runs {
		fn()
	}
}

// pollWritable blocks until fd accepts writes.
func pollWritable(fd int) error {
	for {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		return nil
	}
}
