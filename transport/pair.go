// File: transport/pair.go
//go:build unix
// +build unix

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Pair creates two connected in-process bus endpoints over a stream
// socketpair. Both ends share one GUID and each carries its own unique
// name. Messages sent on one end arrive on the other.
func Pair(opts ...Option) (*Conn, *Conn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	for _, fd := range fds {
		if err := prepareFd(fd); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, nil, err
		}
	}
	guid := uuid.NewString()
	return newConn(fds[0], guid, opts...), newConn(fds[1], guid, opts...), nil
}

// prepareFd switches a descriptor to the nonblocking close-on-exec mode the
// connection expects.
func prepareFd(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set nonblock: %w", err)
	}
	unix.CloseOnExec(fd)
	return nil
}
