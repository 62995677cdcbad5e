// File: dispatch/invoke.go
// Author: momentics <momentics@gmail.com>
//
// Handler invocation with failure isolation. Method calls produce exactly
// one reply per matched call: a method return on success, a named error
// reply for declared bus errors, an UncaughtException error reply for
// anything else including panics. Signal handler failures are logged and
// never replied.

package dispatch

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/momentics/hioload-bus/api"
)

// runMethod executes one matched method call registration.
func runMethod(c api.Conn, m *api.Message, r *registration, lg *slog.Logger) {
	inv := &Invocation{conn: c, msg: m, replySig: r.replySig}
	err := callMethod(r.method, inv)

	if m.NoReply {
		if err != nil {
			lg.Warn("handler failed on no-reply call",
				"member", m.Member, "path", m.Path, "err", err)
		}
		return
	}

	var reply *api.Message
	if err == nil {
		reply = api.NewMethodReturn(m)
		if sig, args, ok := inv.response(); ok {
			if _, aerr := reply.SetArgs(sig, args...); aerr != nil {
				lg.Error("handler produced invalid reply arguments",
					"member", m.Member, "path", m.Path, "err", aerr)
				reply = api.NewError(m, api.ErrorUncaughtException,
					"invalid reply arguments: "+aerr.Error())
			}
		}
	} else {
		var be *api.BusError
		if errors.As(err, &be) {
			reply = api.NewError(m, be.Name, be.Message)
		} else {
			lg.Error("uncaught handler failure",
				"member", m.Member, "path", m.Path, "err", err)
			reply = api.NewError(m, api.ErrorUncaughtException, err.Error())
		}
	}
	if serr := c.Send(reply); serr != nil {
		lg.Warn("reply undeliverable", "member", m.Member, "err", serr)
	}
}

// runSignal executes one matched signal registration.
func runSignal(c api.Conn, m *api.Message, r *registration, lg *slog.Logger) {
	if err := callSignal(r.signal, c, m); err != nil {
		lg.Error("signal handler failure",
			"member", m.Member, "path", m.Path, "err", err)
	}
}

func callMethod(fn MethodFunc, inv *Invocation) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return fn(inv)
}

func callSignal(fn SignalFunc, c api.Conn, m *api.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return fn(c, m)
}
