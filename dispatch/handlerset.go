// File: dispatch/handlerset.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HandlerSet is one independent handler chain: an explicit registration
// table binding member, optional interface and optional path pattern to a
// callback. Method lookups start from a member-keyed map; within the
// matching bucket the first structurally matching registration wins.

package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/momentics/hioload-bus/api"
)

var errNilHandler = errors.New("nil handler callback")

// registration is one routing table entry.
type registration struct {
	kind     api.MessageKind
	member   string
	iface    string // "" matches any interface
	pattern  string // "" matches any path
	re       *regexp.Regexp
	replySig string

	method MethodFunc
	signal SignalFunc
}

// matches checks the interface and path predicates; kind and member were
// already narrowed by the lookup.
func (r *registration) matches(m *api.Message) bool {
	if r.iface != "" && r.iface != m.Interface {
		return false
	}
	switch {
	case r.re != nil:
		return r.re.MatchString(m.Path)
	case r.pattern != "":
		return r.pattern == m.Path
	default:
		return true
	}
}

// RegOption refines a registration's predicate.
type RegOption func(*registration)

// WithInterface restricts the registration to calls naming exactly iface.
func WithInterface(iface string) RegOption {
	return func(r *registration) { r.iface = iface }
}

// WithPath restricts the registration to paths matching pattern, either
// literally or by wildcard ('*', '?', character classes).
func WithPath(pattern string) RegOption {
	return func(r *registration) { r.pattern = pattern }
}

// WithReplySignature declares the signature Invocation.SetResponse encodes
// reply arguments under.
func WithReplySignature(sig string) RegOption {
	return func(r *registration) { r.replySig = sig }
}

// HandlerSet is an independent handler chain. Registrations may be added
// while dispatch is running.
type HandlerSet struct {
	mu        sync.RWMutex
	methods   map[string][]*registration
	signals   map[string][]*registration
	anySignal []*registration // member-less signal listeners
}

// NewHandlerSet creates an empty chain.
func NewHandlerSet() *HandlerSet {
	return &HandlerSet{
		methods: make(map[string][]*registration),
		signals: make(map[string][]*registration),
	}
}

// Method registers a handler for method calls naming member. Options narrow
// the predicate to an interface or path pattern and declare the reply
// signature.
func (hs *HandlerSet) Method(member string, fn MethodFunc, opts ...RegOption) error {
	if member == "" {
		return errors.New("method registration requires a member name")
	}
	if fn == nil {
		return errNilHandler
	}
	r := &registration{kind: api.KindMethodCall, member: member, method: fn}
	if err := hs.finish(r, opts); err != nil {
		return err
	}
	hs.mu.Lock()
	hs.methods[member] = append(hs.methods[member], r)
	hs.mu.Unlock()
	return nil
}

// Signal registers a handler for signals naming member. An empty member
// subscribes to every signal the predicate admits.
func (hs *HandlerSet) Signal(member string, fn SignalFunc, opts ...RegOption) error {
	if fn == nil {
		return errNilHandler
	}
	r := &registration{kind: api.KindSignal, member: member, signal: fn}
	if err := hs.finish(r, opts); err != nil {
		return err
	}
	hs.mu.Lock()
	if member == "" {
		hs.anySignal = append(hs.anySignal, r)
	} else {
		hs.signals[member] = append(hs.signals[member], r)
	}
	hs.mu.Unlock()
	return nil
}

// finish applies options and validates the resulting registration.
func (hs *HandlerSet) finish(r *registration, opts []RegOption) error {
	for _, opt := range opts {
		opt(r)
	}
	if r.pattern != "" && hasGlobMeta(r.pattern) {
		re, err := compileGlob(r.pattern)
		if err != nil {
			return err
		}
		r.re = re
	}
	if r.replySig != "" && !api.ValidSignature(r.replySig) {
		return fmt.Errorf("invalid reply signature %q", r.replySig)
	}
	return nil
}

// match finds the first registration claiming m, or nil.
func (hs *HandlerSet) match(m *api.Message) *registration {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	switch m.Kind {
	case api.KindMethodCall:
		for _, r := range hs.methods[m.Member] {
			if r.matches(m) {
				return r
			}
		}
	case api.KindSignal:
		for _, r := range hs.signals[m.Member] {
			if r.matches(m) {
				return r
			}
		}
		for _, r := range hs.anySignal {
			if r.matches(m) {
				return r
			}
		}
	}
	return nil
}

// Dispatch offers m to this chain and reports whether it was claimed. The
// matching handler runs inline; a caller holding several chains may try the
// next one on false.
func (hs *HandlerSet) Dispatch(c api.Conn, m *api.Message) bool {
	r := hs.match(m)
	if r == nil {
		return false
	}
	switch m.Kind {
	case api.KindMethodCall:
		runMethod(c, m, r, slog.Default())
	case api.KindSignal:
		runSignal(c, m, r, slog.Default())
	}
	return true
}
