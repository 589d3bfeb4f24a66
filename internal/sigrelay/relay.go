//go:build linux
// +build linux

// File: internal/sigrelay/relay.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package sigrelay turns asynchronous signal delivery into bytes on a
// socket so an event loop can observe signals at its own safe points.
//
// The signal path does one thing: write the signal number as a single byte
// into the non-blocking write end. The loop registers the read end like any
// other descriptor and drains every queued byte in arrival order.
package sigrelay

import (
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"code.hybscloud.com/iox"
	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

const readChunk = 1024

// Relay is one self-pipe plus, optionally, an OS signal subscription.
type Relay struct {
	mu     sync.RWMutex
	closed bool

	rfd int
	wfd int

	sigCh chan os.Signal
	done  chan struct{}

	buf     []byte
	pending *queue.Queue
}

// New creates a relay. With sigs the relay subscribes to those signals and
// SIGPIPE becomes ignored process-wide. Without sigs the relay only carries
// what Inject writes into it.
func New(sigs ...os.Signal) (*Relay, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	r := &Relay{
		rfd:     fds[0],
		wfd:     fds[1],
		buf:     make([]byte, readChunk),
		pending: queue.New(),
	}
	if len(sigs) > 0 {
		signal.Ignore(syscall.SIGPIPE)
		r.sigCh = make(chan os.Signal, 64)
		r.done = make(chan struct{})
		signal.Notify(r.sigCh, sigs...)
		go r.forward()
	}
	return r, nil
}

func (r *Relay) forward() {
	defer close(r.done)
	for sig := range r.sigCh {
		if s, ok := sig.(syscall.Signal); ok {
			r.Inject(s)
		}
	}
}

// FD returns the read end to register with an event loop.
func (r *Relay) FD() int {
	return r.rfd
}

// Inject queues sig as if it had been delivered. It reports false when the
// relay is closed or its buffer is full; the byte is dropped in both cases.
func (r *Relay) Inject(sig syscall.Signal) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	_, err := unix.Write(r.wfd, []byte{byte(sig)})
	return err == nil
}

// Drain moves every readable byte into the pending queue and returns how
// many arrived. It reads until the socket is empty because readiness is
// edge-triggered; a complete drain ends with iox.ErrWouldBlock.
func (r *Relay) Drain() (int, error) {
	total := 0
	for {
		n, err := unix.Read(r.rfd, r.buf)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return total, iox.ErrWouldBlock
		case err != nil:
			return total, err
		case n == 0:
			return total, io.EOF
		}
		for _, b := range r.buf[:n] {
			r.pending.Add(syscall.Signal(b))
		}
		total += n
	}
}

// Next pops the oldest drained signal.
func (r *Relay) Next() (syscall.Signal, bool) {
	if r.pending.Length() == 0 {
		return 0, false
	}
	return r.pending.Remove().(syscall.Signal), true
}

// Close unsubscribes, waits for the forwarder and closes both ends.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.sigCh != nil {
		signal.Stop(r.sigCh)
		close(r.sigCh)
		<-r.done
	}
	err := unix.Close(r.wfd)
	if cerr := unix.Close(r.rfd); err == nil {
		err = cerr
	}
	return err
}
