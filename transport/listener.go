// File: transport/listener.go
//go:build unix
// +build unix

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Filesystem-socket endpoint: Listen/Accept on the serving side, Dial on
// the connecting side. Peer-to-peer only; every accepted connection shares
// the listener's GUID.

package transport

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ErrListenerClosed reports Accept on a closed listener.
var ErrListenerClosed = errors.New("listener is closed")

// Listener accepts bus connections on a Unix socket path.
type Listener struct {
	fd     int
	path   string
	guid   string
	opts   []Option
	closed int32
}

// Listen binds and listens on a filesystem socket path. The path must not
// already exist.
func Listen(path string, opts ...Option) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return &Listener{fd: fd, path: path, guid: uuid.NewString(), opts: opts}, nil
}

// Addr returns the socket path.
func (l *Listener) Addr() string { return l.path }

// GUID identifies this listening endpoint; accepted connections inherit it.
func (l *Listener) GUID() string { return l.guid }

// Accept blocks until a peer connects and returns the serving-side
// connection.
func (l *Listener) Accept() (*Conn, error) {
	for {
		nfd, _, err := unix.Accept(l.fd)
		if err != nil {
			if atomic.LoadInt32(&l.closed) == 1 {
				return nil, ErrListenerClosed
			}
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			return nil, fmt.Errorf("accept: %w", err)
		}
		if err := prepareFd(nfd); err != nil {
			unix.Close(nfd)
			return nil, err
		}
		return newConn(nfd, l.guid, l.opts...), nil
	}
}

// Close shuts the listener down and removes the socket path. Blocked
// Accept calls return ErrListenerClosed.
func (l *Listener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	err := unix.Close(l.fd)
	unix.Unlink(l.path)
	return err
}

// Dial connects to a listening socket path and returns the client-side
// connection.
func Dial(path string, opts ...Option) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	if err := prepareFd(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return newConn(fd, "", opts...), nil
}
