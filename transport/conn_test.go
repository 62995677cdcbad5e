//go:build unix
// +build unix

package transport_test

import (
	"testing"
	"time"

	"github.com/momentics/hioload-bus/api"
	"github.com/momentics/hioload-bus/transport"
)

// recordingLoop is a minimal api.Loop that hands watches and timeouts back
// to the test, which drives Handle calls itself.
type recordingLoop struct {
	watches  []*api.Watch
	timeouts []*api.Timeout
}

func (l *recordingLoop) AddWatch(w *api.Watch) error { l.watches = append(l.watches, w); return nil }
func (l *recordingLoop) RemoveWatch(w *api.Watch) {
	for i, x := range l.watches {
		if x == w {
			l.watches = append(l.watches[:i], l.watches[i+1:]...)
			return
		}
	}
}
func (l *recordingLoop) WatchToggled(w *api.Watch) {}
func (l *recordingLoop) AddTimeout(t *api.Timeout) error {
	l.timeouts = append(l.timeouts, t)
	return nil
}
func (l *recordingLoop) RemoveTimeout(t *api.Timeout) {
	for i, x := range l.timeouts {
		if x == t {
			l.timeouts = append(l.timeouts[:i], l.timeouts[i+1:]...)
			return
		}
	}
}
func (l *recordingLoop) TimeoutToggled(t *api.Timeout) {}

// pump drives one read pass on the watch and drains the dispatch queue.
func pump(c api.Conn, w *api.Watch) {
	w.Handle(api.WatchReadable)
	for st := c.DispatchStatus(); st == api.DispatchDataRemains; st = c.DispatchOne() {
	}
}

func newPair(t *testing.T) (*transport.Conn, *transport.Conn, *recordingLoop, *recordingLoop) {
	t.Helper()
	a, b, err := transport.Pair()
	if err != nil {
		t.Fatal(err)
	}
	la, lb := &recordingLoop{}, &recordingLoop{}
	if err := a.SetLoop(la); err != nil {
		t.Fatal(err)
	}
	if err := b.SetLoop(lb); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b, la, lb
}

func TestUniqueNamesArePrefixed(t *testing.T) {
	a, b, _, _ := newPair(t)
	if a.UniqueName() == "" || a.UniqueName()[0] != ':' {
		t.Errorf("unique name %q lacks ':' prefix", a.UniqueName())
	}
	if a.UniqueName() == b.UniqueName() {
		t.Error("pair ends share a unique name")
	}
	if a.GUID() != b.GUID() || a.GUID() == "" {
		t.Error("pair ends must share a GUID")
	}
}

func TestSignalRoundTripWithArgShapes(t *testing.T) {
	a, b, _, lb := newPair(t)

	sig := api.NewSignal("/sensors/temp", "com.example.Sensors", "Reading")
	if _, err := sig.SetArgs("isbavsa{sv}",
		42, "hello", true, []any{int64(1), "two"}, "plain",
		map[string]any{"k": int64(7)}); err != nil {
		t.Fatal(err)
	}

	var got *api.Message
	b.AddFilter(func(c api.Conn, m *api.Message) bool {
		got = m
		return true
	})

	if err := a.Send(sig); err != nil {
		t.Fatal(err)
	}
	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}
	pump(b, lb.watches[0])

	if got == nil {
		t.Fatal("signal not delivered")
	}
	if got.Kind != api.KindSignal || got.Member != "Reading" || got.Path != "/sensors/temp" {
		t.Fatalf("header mismatch: %+v", got)
	}
	if got.Sender != a.UniqueName() {
		t.Errorf("sender = %q, want %q", got.Sender, a.UniqueName())
	}
	if got.Serial == 0 {
		t.Error("serial not assigned on send")
	}
	if len(got.Args) != 6 {
		t.Fatalf("arg count = %d, want 6", len(got.Args))
	}
	if got.Args[0] != 42 || got.Args[1] != "hello" || got.Args[2] != true || got.Args[4] != "plain" {
		t.Errorf("scalar args mismatch: %v", got.Args)
	}
	nested, ok := got.Args[3].([]any)
	if !ok || len(nested) != 2 || nested[0] != int64(1) || nested[1] != "two" {
		t.Errorf("nested array mismatch: %v", got.Args[3])
	}
	dict, ok := got.Args[5].(map[string]any)
	if !ok || dict["k"] != int64(7) {
		t.Errorf("dict arg mismatch: %v", got.Args[5])
	}
}

func TestReplyCorrelationNotifiesExactlyOnce(t *testing.T) {
	a, b, la, lb := newPair(t)

	// serving side answers every call
	b.AddFilter(func(c api.Conn, m *api.Message) bool {
		if m.Kind != api.KindMethodCall {
			return false
		}
		reply := api.NewMethodReturn(m)
		reply.MustArgs("s", "pong")
		if err := c.Send(reply); err != nil {
			t.Errorf("reply send: %v", err)
		}
		return true
	})

	call := api.NewMethodCall("/ping", "", "Ping")
	p, err := a.SendWithReply(call, 0)
	if err != nil {
		t.Fatal(err)
	}
	notified := 0
	var reply *api.Message
	p.SetNotify(func(m *api.Message) {
		notified++
		reply = m
	})

	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}
	pump(b, lb.watches[0])
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	pump(a, la.watches[0])

	if notified != 1 {
		t.Fatalf("notify ran %d times, want 1", notified)
	}
	if reply.Kind != api.KindMethodReturn || reply.ReplySerial != call.Serial {
		t.Fatalf("reply mismatch: %+v", reply)
	}
	if reply.Args[0] != "pong" {
		t.Errorf("reply args = %v", reply.Args)
	}
}

func TestReplyDeadlineSynthesizesNoReplyAndDropsLateReply(t *testing.T) {
	a, b, la, lb := newPair(t)

	call := api.NewMethodCall("/slow", "", "Slow")
	p, err := a.SendWithReply(call, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(la.timeouts) != 1 {
		t.Fatalf("deadline timer not registered, timeouts = %d", len(la.timeouts))
	}

	notified := 0
	var reply *api.Message
	p.SetNotify(func(m *api.Message) {
		notified++
		reply = m
	})

	// deadline fires before any reply
	la.timeouts[0].Handle()
	if notified != 1 {
		t.Fatalf("notify ran %d times after expiry, want 1", notified)
	}
	if reply.Kind != api.KindError || reply.ErrorName != api.ErrorNoReply {
		t.Fatalf("expiry reply = %+v, want %s", reply, api.ErrorNoReply)
	}
	if reply.ReplySerial != call.Serial {
		t.Errorf("expiry reply serial = %d, want %d", reply.ReplySerial, call.Serial)
	}
	if len(la.timeouts) != 0 {
		t.Error("deadline timer not removed after firing")
	}

	// the real reply arrives late and must be dropped silently
	a.Flush()
	pump(b, lb.watches[0])
	late := api.NewMethodReturn(&api.Message{Sender: a.UniqueName(), Serial: call.Serial})
	if err := b.Send(late); err != nil {
		t.Fatal(err)
	}
	b.Flush()
	pump(a, la.watches[0])

	if notified != 1 {
		t.Errorf("late reply notified again: %d", notified)
	}
}

func TestCancelSuppressesNotification(t *testing.T) {
	a, _, la, _ := newPair(t)

	call := api.NewMethodCall("/x", "", "X")
	p, err := a.SendWithReply(call, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	fired := false
	p.SetNotify(func(*api.Message) { fired = true })
	p.Cancel()

	if len(la.timeouts) != 0 {
		t.Error("cancel left the deadline timer armed")
	}
	p.Cancel() // cancelling twice is harmless
	if fired {
		t.Error("cancelled pending delivered a notification")
	}
}

func TestCloseResolvesPendingAndQueuesDisconnected(t *testing.T) {
	a, _, _, _ := newPair(t)

	call := api.NewMethodCall("/x", "", "X")
	p, err := a.SendWithReply(call, 0)
	if err != nil {
		t.Fatal(err)
	}
	var reply *api.Message
	p.SetNotify(func(m *api.Message) { reply = m })

	var sig *api.Message
	a.AddFilter(func(c api.Conn, m *api.Message) bool {
		if m.Kind == api.KindSignal {
			sig = m
			return true
		}
		return false
	})

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if reply == nil || reply.ErrorName != api.ErrorDisconnected {
		t.Fatalf("pending resolution = %+v, want %s", reply, api.ErrorDisconnected)
	}

	// the local Disconnected signal is queued for normal dispatch
	if st := a.DispatchStatus(); st != api.DispatchDataRemains {
		t.Fatalf("status after close = %v, want data_remains", st)
	}
	for st := a.DispatchStatus(); st == api.DispatchDataRemains; st = a.DispatchOne() {
	}
	if sig == nil || sig.Path != api.LocalPath || sig.Member != api.MemberDisconnected {
		t.Fatalf("disconnect signal = %+v", sig)
	}

	if err := a.Send(api.NewSignal("/x", "i.F", "S")); err != api.ErrClosed {
		t.Errorf("send after close = %v, want ErrClosed", err)
	}
}

func TestPeerEOFClosesConnection(t *testing.T) {
	a, b, _, lb := newPair(t)

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	// driving the read side against a closed peer observes EOF
	lb.watches[0].Handle(api.WatchReadable)

	seen := false
	b.AddFilter(func(c api.Conn, m *api.Message) bool {
		if m.Kind == api.KindSignal && m.Member == api.MemberDisconnected {
			seen = true
			return true
		}
		return false
	})
	for st := b.DispatchStatus(); st == api.DispatchDataRemains; st = b.DispatchOne() {
	}
	if !seen {
		t.Error("EOF did not surface the Disconnected signal")
	}
	if err := b.Send(api.NewSignal("/x", "i.F", "S")); err != api.ErrClosed {
		t.Errorf("send after EOF = %v, want ErrClosed", err)
	}
}

func TestSecondLoopRejected(t *testing.T) {
	a, _, _, _ := newPair(t)
	if err := a.SetLoop(&recordingLoop{}); err != api.ErrLoopInstalled {
		t.Fatalf("second SetLoop = %v, want ErrLoopInstalled", err)
	}
}
