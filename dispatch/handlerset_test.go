package dispatch_test

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-bus/api"
	"github.com/momentics/hioload-bus/dispatch"
)

func call(path, iface, member string) *api.Message {
	m := api.NewMethodCall(path, iface, member)
	m.Sender = ":peer"
	m.Serial = 1
	return m
}

func TestMemberLookupAndInterfaceFilter(t *testing.T) {
	hs := dispatch.NewHandlerSet()
	var got string
	add := func(tag string, opts ...dispatch.RegOption) {
		if err := hs.Method("Get", func(*dispatch.Invocation) error {
			got = tag
			return nil
		}, opts...); err != nil {
			t.Fatal(err)
		}
	}
	add("calc", dispatch.WithInterface("com.example.Calc"))
	add("any")

	conn := newFakeConn()

	// exact interface wins over the earlier-registered mismatch
	if !hs.Dispatch(conn, call("/x", "com.example.Calc", "Get")) {
		t.Fatal("exact-interface call unclaimed")
	}
	if got != "calc" {
		t.Errorf("exact interface routed to %q", got)
	}

	// different interface falls through to the interface-agnostic entry
	if !hs.Dispatch(conn, call("/x", "com.example.Other", "Get")) {
		t.Fatal("interface-agnostic call unclaimed")
	}
	if got != "any" {
		t.Errorf("agnostic registration routed to %q", got)
	}

	// unknown member is not claimed
	if hs.Dispatch(conn, call("/x", "", "Missing")) {
		t.Error("unknown member claimed")
	}
}

func TestFirstMatchWinsInRegistrationOrder(t *testing.T) {
	hs := dispatch.NewHandlerSet()
	order := []string{}
	for _, tag := range []string{"first", "second"} {
		tag := tag
		if err := hs.Method("M", func(*dispatch.Invocation) error {
			order = append(order, tag)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	hs.Dispatch(newFakeConn(), call("/x", "", "M"))
	if len(order) != 1 || order[0] != "first" {
		t.Errorf("invocations = %v, want exactly the first registration", order)
	}
}

func TestSignalWildcardMember(t *testing.T) {
	hs := dispatch.NewHandlerSet()
	var members []string
	if err := hs.Signal("", func(c api.Conn, m *api.Message) error {
		members = append(members, m.Member)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	for _, member := range []string{"Up", "Down"} {
		sig := api.NewSignal("/net", "com.example.Net", member)
		sig.Serial = 1
		if !hs.Dispatch(newFakeConn(), sig) {
			t.Fatalf("wildcard signal registration missed %q", member)
		}
	}
	if len(members) != 2 {
		t.Errorf("wildcard handler saw %v", members)
	}
}

func TestMethodReplyShapes(t *testing.T) {
	hs := dispatch.NewHandlerSet()
	if err := hs.Method("Echo", func(inv *dispatch.Invocation) error {
		inv.SetResponse(inv.Args()...)
		return nil
	}, dispatch.WithReplySignature("i")); err != nil {
		t.Fatal(err)
	}
	if err := hs.Method("Fail", func(*dispatch.Invocation) error {
		return api.NamedError("com.example.Denied", "not allowed")
	}); err != nil {
		t.Fatal(err)
	}
	if err := hs.Method("Boom", func(*dispatch.Invocation) error {
		panic("kaboom")
	}); err != nil {
		t.Fatal(err)
	}

	conn := newFakeConn()

	m := call("/x", "", "Echo")
	m.MustArgs("i", 42)
	hs.Dispatch(conn, m)

	hs.Dispatch(conn, call("/x", "", "Fail"))
	hs.Dispatch(conn, call("/x", "", "Boom"))

	sent := conn.sentMessages()
	if len(sent) != 3 {
		t.Fatalf("replies sent = %d, want 3", len(sent))
	}
	if sent[0].Kind != api.KindMethodReturn || sent[0].Args[0] != 42 {
		t.Errorf("echo reply = %+v", sent[0])
	}
	if sent[1].Kind != api.KindError || sent[1].ErrorName != "com.example.Denied" {
		t.Errorf("declared bus error reply = %+v", sent[1])
	}
	if sent[2].Kind != api.KindError || sent[2].ErrorName != api.ErrorUncaughtException {
		t.Errorf("panic reply = %+v", sent[2])
	}
}

func TestRegistrationValidation(t *testing.T) {
	hs := dispatch.NewHandlerSet()
	if err := hs.Method("", func(*dispatch.Invocation) error { return nil }); err == nil {
		t.Error("empty member accepted")
	}
	if err := hs.Method("M", nil); err == nil {
		t.Error("nil method handler accepted")
	}
	if err := hs.Signal("S", nil); err == nil {
		t.Error("nil signal handler accepted")
	}
	err := hs.Method("M", func(*dispatch.Invocation) error { return nil },
		dispatch.WithReplySignature("nope"))
	if err == nil {
		t.Error("invalid reply signature accepted")
	}
}

func TestSignalFailureIsLoggedNotReplied(t *testing.T) {
	hs := dispatch.NewHandlerSet()
	if err := hs.Signal("Crash", func(api.Conn, *api.Message) error {
		return errors.New("observer failed")
	}); err != nil {
		t.Fatal(err)
	}
	conn := newFakeConn()
	sig := api.NewSignal("/x", "com.example.X", "Crash")
	sig.Serial = 1
	if !hs.Dispatch(conn, sig) {
		t.Fatal("signal unclaimed")
	}
	if n := len(conn.sentMessages()); n != 0 {
		t.Errorf("signal failure produced %d replies, want 0", n)
	}
}
