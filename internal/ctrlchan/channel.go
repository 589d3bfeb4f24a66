//go:build linux
// +build linux

// File: internal/ctrlchan/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package ctrlchan implements the private master/worker control channel:
// one connected AF_UNIX stream pair per worker carrying one-byte tokens.

package ctrlchan

import (
	"io"
	"os"

	"code.hybscloud.com/iox"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-prefork/api"
)

// TokenAccept asks the receiving worker to attempt one accept.
const TokenAccept byte = 1

// Endpoint is one side of a control channel. Each side is used by exactly
// one loop.
type Endpoint struct {
	fd     int
	closed bool
}

// NewPair creates the two connected endpoints of a worker's control channel.
// Both ends are close-on-exec; an exec'd worker receives its end only when
// it is passed explicitly.
func NewPair() (master, worker *Endpoint, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "control channel socketpair")
	}
	return &Endpoint{fd: fds[0]}, &Endpoint{fd: fds[1]}, nil
}

// FromFD adopts an endpoint inherited from the parent process.
func FromFD(fd int) *Endpoint {
	return &Endpoint{fd: fd}
}

// FD returns the descriptor, or -1 once the endpoint is closed or detached.
func (e *Endpoint) FD() int {
	if e.closed {
		return -1
	}
	return e.fd
}

// SendToken writes one dispatch token without blocking. A full socket
// buffer yields iox.ErrWouldBlock.
func (e *Endpoint) SendToken() error {
	if e.closed {
		return api.ErrClosed
	}
	for {
		err := unix.Sendto(e.fd, []byte{TokenAccept}, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL, nil)
		switch err {
		case nil:
			return nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return iox.ErrWouldBlock
		default:
			return errors.Wrap(err, "send token")
		}
	}
}

// Recv reads whatever tokens are queued into buf. It returns
// iox.ErrWouldBlock when nothing is ready and io.EOF when the peer closed.
func (e *Endpoint) Recv(buf []byte) (int, error) {
	if e.closed {
		return 0, api.ErrClosed
	}
	for {
		n, _, err := unix.Recvfrom(e.fd, buf, unix.MSG_DONTWAIT)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, iox.ErrWouldBlock
		case err != nil:
			return 0, errors.Wrap(err, "recv token")
		case n == 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// File hands the descriptor over to an *os.File, for passing to a child
// process. The endpoint is detached afterwards; closing the file closes
// the descriptor.
func (e *Endpoint) File(name string) *os.File {
	if e.closed {
		return nil
	}
	f := os.NewFile(uintptr(e.fd), name)
	e.closed = true
	e.fd = -1
	return f
}

// Close releases the descriptor. It is safe to call more than once.
func (e *Endpoint) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return unix.Close(e.fd)
}
