// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and the bus error taxonomy for hioload-bus.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrClosed            = fmt.Errorf("connection is closed")
	ErrLoopInstalled     = fmt.Errorf("event loop already installed")
	ErrSignatureMismatch = fmt.Errorf("signature does not match arguments")
	ErrInvalidMessage    = fmt.Errorf("message is not sendable")
)

// Well-known bus error names carried by error replies.
const (
	// ErrorNoReply: synthesized locally when a pending call's timeout fires
	// before the reply arrives.
	ErrorNoReply = "bus.error.NoReply"
	// ErrorUnknownMethod: no handler chain claimed a method call.
	ErrorUnknownMethod = "bus.error.UnknownMethod"
	// ErrorUncaughtException: a handler failed without declaring a bus error.
	ErrorUncaughtException = "bus.error.UncaughtException"
	// ErrorDisconnected: the connection went away while a call was pending.
	ErrorDisconnected = "bus.error.Disconnected"
)

// BusError is a named bus-level failure. Handlers return one to produce an
// error reply with that name; callers receive one when a call resolves to an
// error reply.
type BusError struct {
	Name    string
	Message string
}

// Error implements the error interface.
func (e *BusError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// NamedError creates a BusError with the given name and message text.
func NamedError(name, message string) *BusError {
	return &BusError{Name: name, Message: message}
}

// IsBusError reports whether err is (or wraps) a BusError with the given
// name.
func IsBusError(err error, name string) bool {
	var be *BusError
	return errors.As(err, &be) && be.Name == name
}

// BusErrorFromMessage converts an error reply into a BusError, using the
// conventional first string argument as the message text.
func BusErrorFromMessage(m *Message) *BusError {
	if m.Kind != KindError {
		return nil
	}
	be := &BusError{Name: m.ErrorName}
	if len(m.Args) > 0 {
		if s, ok := m.Args[0].(string); ok {
			be.Message = s
		}
	}
	return be
}
