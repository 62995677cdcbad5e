package dispatch_test

import (
	"testing"

	"github.com/momentics/hioload-bus/api"
	"github.com/momentics/hioload-bus/dispatch"
)

func TestMethodCallStopsAtFirstClaimingChain(t *testing.T) {
	conn := newFakeConn()
	d := dispatch.New(conn)

	ran := []string{}
	first := dispatch.NewHandlerSet()
	first.Method("M", func(*dispatch.Invocation) error {
		ran = append(ran, "first")
		return nil
	})
	second := dispatch.NewHandlerSet()
	second.Method("M", func(*dispatch.Invocation) error {
		ran = append(ran, "second")
		return nil
	})
	d.AddHandlers(first, second)

	if !conn.deliver(call("/x", "", "M")) {
		t.Fatal("call unclaimed")
	}
	if len(ran) != 1 || ran[0] != "first" {
		t.Fatalf("chains ran = %v, want only the first", ran)
	}
	if n := len(conn.sentMessages()); n != 1 {
		t.Fatalf("replies = %d, want exactly one", n)
	}
}

func TestSignalsOfferedToEveryChain(t *testing.T) {
	conn := newFakeConn()
	d := dispatch.New(conn)

	seen := map[string]int{}
	for _, tag := range []string{"a", "b"} {
		tag := tag
		hs := dispatch.NewHandlerSet()
		hs.Signal("Tick", func(api.Conn, *api.Message) error {
			seen[tag]++
			return nil
		})
		d.AddHandlers(hs)
	}

	sig := api.NewSignal("/clock", "com.example.Clock", "Tick")
	sig.Serial = 1
	if !conn.deliver(sig) {
		t.Fatal("signal unclaimed")
	}
	if seen["a"] != 1 || seen["b"] != 1 {
		t.Errorf("chain deliveries = %v, want both", seen)
	}
	if n := len(conn.sentMessages()); n != 0 {
		t.Errorf("signals produced %d replies", n)
	}
}

func TestUnclaimedCallGetsUnknownMethodReply(t *testing.T) {
	conn := newFakeConn()
	dispatch.New(conn)

	if !conn.deliver(call("/x", "", "Missing")) {
		t.Fatal("boundary did not claim the unmatched call")
	}
	sent := conn.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("replies = %d, want 1", len(sent))
	}
	if sent[0].Kind != api.KindError || sent[0].ErrorName != api.ErrorUnknownMethod {
		t.Fatalf("reply = %+v, want %s", sent[0], api.ErrorUnknownMethod)
	}
	if sent[0].ReplySerial != 1 {
		t.Errorf("reply serial = %d, want 1", sent[0].ReplySerial)
	}
}

func TestUnknownMethodReplyCanBeDisabled(t *testing.T) {
	conn := newFakeConn()
	dispatch.New(conn, dispatch.WithUnknownMethodReply(false))

	if conn.deliver(call("/x", "", "Missing")) {
		t.Fatal("disabled boundary still claimed the call")
	}
	if n := len(conn.sentMessages()); n != 0 {
		t.Errorf("silent mode sent %d replies", n)
	}
}

func TestNoReplyCallRunsHandlerWithoutReply(t *testing.T) {
	conn := newFakeConn()
	d := dispatch.New(conn)

	ran := false
	hs := dispatch.NewHandlerSet()
	hs.Method("Fire", func(inv *dispatch.Invocation) error {
		ran = true
		inv.SetResponseSignature("s", "ignored")
		return nil
	})
	d.AddHandlers(hs)

	m := call("/x", "", "Fire")
	m.NoReply = true
	if !conn.deliver(m) {
		t.Fatal("no-reply call unclaimed")
	}
	if !ran {
		t.Error("handler did not run")
	}
	if n := len(conn.sentMessages()); n != 0 {
		t.Errorf("no-reply call produced %d replies", n)
	}
}

func TestNoReplyUnmatchedStaysSilent(t *testing.T) {
	conn := newFakeConn()
	dispatch.New(conn)

	m := call("/x", "", "Missing")
	m.NoReply = true
	if conn.deliver(m) {
		t.Error("no-reply unmatched call claimed")
	}
	if n := len(conn.sentMessages()); n != 0 {
		t.Errorf("no-reply unmatched produced %d replies", n)
	}
}

func TestRepliesNeverEnterChains(t *testing.T) {
	conn := newFakeConn()
	d := dispatch.New(conn)
	hs := dispatch.NewHandlerSet()
	hs.Method("M", func(*dispatch.Invocation) error {
		t.Error("reply routed into a method handler")
		return nil
	})
	d.AddHandlers(hs)

	ret := &api.Message{Kind: api.KindMethodReturn, ReplySerial: 9, Serial: 2}
	if conn.deliver(ret) {
		t.Error("stray reply claimed by dispatcher")
	}
}

func TestStatsCountClaims(t *testing.T) {
	conn := newFakeConn()
	d := dispatch.New(conn)
	hs := dispatch.NewHandlerSet()
	hs.Method("M", func(*dispatch.Invocation) error { return nil })
	d.AddHandlers(hs)

	conn.deliver(call("/x", "", "M"))
	conn.deliver(call("/x", "", "Missing"))

	st := d.Stats()
	if st["received"] != 2 || st["claimed"] != 1 || st["unclaimed"] != 1 {
		t.Errorf("stats = %v", st)
	}
}
