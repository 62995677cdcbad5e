// File: api/message.go
// Author: momentics <momentics@gmail.com>
//
// Typed bus message model: method calls, method returns, error replies and
// signals, with serial/reply-serial correlation metadata and a signature
// string describing the ordered argument list.

package api

import "fmt"

// MessageKind discriminates the four message categories on the bus.
type MessageKind uint8

const (
	KindInvalid MessageKind = iota
	KindMethodCall
	KindMethodReturn
	KindError
	KindSignal
)

func (k MessageKind) String() string {
	switch k {
	case KindMethodCall:
		return "method_call"
	case KindMethodReturn:
		return "method_return"
	case KindError:
		return "error"
	case KindSignal:
		return "signal"
	default:
		return "invalid"
	}
}

// Well-known coordinates of the locally synthesized signal a connection
// queues when it disconnects, so handlers can observe teardown like any
// other signal.
const (
	LocalPath          = "/bus/local"
	LocalInterface     = "bus.Local"
	MemberDisconnected = "Disconnected"
)

// Message is one unit of bus traffic.
//
// Fields are exported for codec access; treat a message as read-only once it
// has been sent or received. Serial is assigned by the sending connection
// and is never zero on the wire.
type Message struct {
	Kind        MessageKind
	Path        string
	Interface   string
	Member      string
	Destination string
	Sender      string
	ErrorName   string // set on KindError messages only
	Serial      uint32
	ReplySerial uint32 // serial of the call this message replies to
	NoReply     bool   // caller does not expect a reply
	Signature   string
	Args        []any
}

// NewMethodCall builds a method call for member on path. iface may be empty
// to target any interface on the receiving side.
func NewMethodCall(path, iface, member string) *Message {
	return &Message{Kind: KindMethodCall, Path: path, Interface: iface, Member: member}
}

// NewSignal builds a broadcast signal for member on path.
func NewSignal(path, iface, member string) *Message {
	return &Message{Kind: KindSignal, Path: path, Interface: iface, Member: member}
}

// NewMethodReturn builds the successful reply to call, correlated by the
// call's serial and addressed back to its sender.
func NewMethodReturn(call *Message) *Message {
	return &Message{
		Kind:        KindMethodReturn,
		Destination: call.Sender,
		ReplySerial: call.Serial,
	}
}

// NewError builds an error reply to call carrying the given bus error name.
// A non-empty text becomes the conventional single string argument.
func NewError(call *Message, name, text string) *Message {
	m := &Message{
		Kind:        KindError,
		ErrorName:   name,
		Destination: call.Sender,
		ReplySerial: call.Serial,
	}
	if text != "" {
		m.Signature = "s"
		m.Args = []any{text}
	}
	return m
}

// SetArgs attaches the argument list described by sig. The number of
// signature elements must match the number of values; a mismatch is a
// caller bug surfaced immediately rather than at the receiving end.
// Returns the message for chaining.
func (m *Message) SetArgs(sig string, args ...any) (*Message, error) {
	n, err := SignatureLen(sig)
	if err != nil {
		return m, err
	}
	if n != len(args) {
		return m, fmt.Errorf("%w: signature %q describes %d values, got %d",
			ErrSignatureMismatch, sig, n, len(args))
	}
	m.Signature = sig
	m.Args = args
	return m, nil
}

// MustArgs is SetArgs for statically known signatures; it panics on
// signature errors.
func (m *Message) MustArgs(sig string, args ...any) *Message {
	if _, err := m.SetArgs(sig, args...); err != nil {
		panic(err)
	}
	return m
}

// IsReply reports whether the message is a method return or error reply.
func (m *Message) IsReply() bool {
	return m.Kind == KindMethodReturn || m.Kind == KindError
}

func (m *Message) String() string {
	switch m.Kind {
	case KindMethodReturn:
		return fmt.Sprintf("method_return(reply_serial=%d)", m.ReplySerial)
	case KindError:
		return fmt.Sprintf("error(%s, reply_serial=%d)", m.ErrorName, m.ReplySerial)
	default:
		return fmt.Sprintf("%s(%s.%s on %s)", m.Kind, m.Interface, m.Member, m.Path)
	}
}
