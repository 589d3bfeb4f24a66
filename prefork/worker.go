//go:build linux

// File: prefork/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker loop: waits for dispatch tokens from the master, accepts one
// connection per token and drives the sessions bound to its connections.

package prefork

import (
	"io"
	"log/slog"
	"net"
	"runtime"
	"strconv"
	"sync/atomic"
	"syscall"

	"code.hybscloud.com/iox"
	"github.com/hashicorp/go-metrics"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-prefork/affinity"
	"github.com/momentics/hioload-prefork/api"
	"github.com/momentics/hioload-prefork/internal/ctrlchan"
	"github.com/momentics/hioload-prefork/internal/sigrelay"
	"github.com/momentics/hioload-prefork/reactor"
)

type worker struct {
	index     int
	log       *slog.Logger
	metrics   *metrics.Metrics
	labels    []metrics.Label
	ctrl      *ctrlchan.Endpoint
	relay     *sigrelay.Relay
	lnFD      int
	factory   api.SessionFactory
	sessions  *sessionTable
	maxEvents int
	// reapChildren is set for worker processes, which may fork helpers of
	// their own. Goroutine workers share the master's children.
	reapChildren bool
	pinCPU       bool

	reactor  *reactor.Reactor
	tokenBuf []byte
	stop     bool

	accepted atomic.Uint64
	active   atomic.Int64
}

var _ api.Loop = (*worker)(nil)

func newWorker(index int, ctrl *ctrlchan.Endpoint, relay *sigrelay.Relay, lnFD int,
	factory api.SessionFactory, cfg *Config, log *slog.Logger, m *metrics.Metrics) *worker {
	return &worker{
		index:     index,
		log:       log.With(LabelWorker.L(index)),
		metrics:   m,
		labels:    withLabels(cfg.MetricLabels, LabelWorker.M(strconv.Itoa(index))),
		ctrl:      ctrl,
		relay:     relay,
		lnFD:      lnFD,
		factory:   factory,
		sessions:  newSessionTable(cfg.MaxSessions),
		maxEvents: cfg.MaxEvents,
		pinCPU:    cfg.CPUAffinity,
		tokenBuf:  make([]byte, 64),
	}
}

func (w *worker) run() (err error) {
	defer w.ctrl.Close()
	defer w.relay.Close()
	if w.pinCPU {
		w.pin()
	}

	r, err := reactor.New(w.maxEvents)
	if err != nil {
		return errors.Wrap(err, "worker event loop")
	}
	w.reactor = r
	defer w.teardown()

	// the listener is only ever accepted on, never registered here
	if err := unix.SetNonblock(w.lnFD, true); err != nil {
		return errors.Wrap(err, "worker listener")
	}
	if err := r.Register(w.relay.FD(), api.EventRead, w.onSignals); err != nil {
		return errors.Wrap(err, "worker signal relay")
	}
	if err := r.Register(w.ctrl.FD(), api.EventRead, w.onToken); err != nil {
		return errors.Wrap(err, "worker control channel")
	}
	w.log.Info("worker running")

	for !w.stop {
		if _, err := r.Poll(-1); err != nil {
			return errors.Wrap(err, "worker poll")
		}
	}
	return nil
}

// pin binds the loop's thread to a CPU. The thread is never unlocked and
// exits with the goroutine.
func (w *worker) pin() {
	runtime.LockOSThread()
	cpu, err := affinity.CPUForIndex(w.index)
	if err == nil {
		err = affinity.SetAffinity(cpu)
	}
	if err != nil {
		w.log.Warn("cpu pinning failed", LabelError.L(err))
		return
	}
	w.log.Info("worker pinned", slog.Int("cpu", cpu))
}

// teardown closes every remaining connection and the event loop.
func (w *worker) teardown() {
	for _, fd := range w.sessions.fds() {
		_ = w.release(fd)
	}
	_ = w.reactor.Close()
	w.log.Info("worker stopped", slog.Uint64("accepted", w.accepted.Load()))
}

// onToken drains the control channel; every token is one accept attempt.
func (w *worker) onToken(int, api.EventMask) {
	for {
		n, err := w.ctrl.Recv(w.tokenBuf)
		switch iox.Classify(err) {
		case iox.OutcomeWouldBlock:
			return
		case iox.OutcomeFailure:
			if errors.Is(err, io.EOF) {
				w.log.Warn("master closed the control channel")
			} else {
				w.log.Error("control channel read failed", LabelError.L(err))
			}
			w.stop = true
			return
		}
		for _, tok := range w.tokenBuf[:n] {
			if tok == ctrlchan.TokenAccept {
				w.acceptOne()
			}
		}
	}
}

func accept(lnFD int) (int, unix.Sockaddr, error) {
	for {
		fd, sa, err := unix.Accept4(lnFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			return fd, sa, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return -1, nil, iox.ErrWouldBlock
		default:
			return -1, nil, err
		}
	}
}

// acceptOne performs exactly one accept on the shared listener and binds a
// new session to the connection.
func (w *worker) acceptOne() {
	fd, sa, err := accept(w.lnFD)
	if iox.IsWouldBlock(err) {
		w.log.Debug("nothing to accept")
		return
	}
	if err != nil {
		w.metrics.IncrCounterWithLabels(MetricAcceptErrorCount, 1, w.labels)
		w.log.Warn("accept failed", LabelError.L(err))
		return
	}
	peer := sockaddrToAddr(sa)
	if w.sessions.full() {
		_ = unix.Close(fd)
		w.metrics.IncrCounterWithLabels(MetricSessionRejectCount, 1, w.labels)
		w.log.Warn("session table full, connection rejected",
			LabelPeer.L(addrString(peer)), slog.Int("limit", w.sessions.limit))
		return
	}

	s := w.factory()
	if err := w.sessions.add(fd, s); err != nil {
		_ = unix.Close(fd)
		w.log.Error("session bind failed", LabelFD.L(fd), LabelError.L(err))
		return
	}
	if err := w.reactor.Register(fd, api.EventRead, w.onConn); err != nil {
		w.sessions.remove(fd)
		_ = unix.Close(fd)
		w.log.Error("connection register failed", LabelFD.L(fd), LabelError.L(err))
		return
	}
	w.accepted.Add(1)
	w.active.Store(int64(w.sessions.len()))
	w.metrics.IncrCounterWithLabels(MetricAcceptCount, 1, w.labels)
	w.metrics.SetGaugeWithLabels(MetricSessionsActive, float32(w.sessions.len()), w.labels)

	if err := w.initSession(s, fd, peer); err != nil {
		w.metrics.IncrCounterWithLabels(MetricSessionErrorCount, 1, w.labels)
		w.log.Warn("session init failed", LabelFD.L(fd), LabelPeer.L(addrString(peer)), LabelError.L(err))
		_ = w.release(fd)
		return
	}
	w.log.Debug("connection accepted", LabelFD.L(fd), LabelPeer.L(addrString(peer)))
}

// initSession binds s to its connection. A panic comes back as an error so
// the caller releases that connection only.
func (w *worker) initSession(s api.Session, fd int, peer net.Addr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("session init panic: %v", r)
		}
	}()
	return s.Init(w, fd, peer)
}

func (w *worker) onConn(fd int, ev api.EventMask) {
	s, ok := w.sessions.get(fd)
	if !ok {
		_ = w.reactor.Unregister(fd)
		_ = unix.Close(fd)
		return
	}
	if ev&(api.EventRead|api.EventWrite|api.EventHangup) != 0 {
		w.process(fd, s)
		return
	}
	if ev.Has(api.EventError) {
		w.metrics.IncrCounterWithLabels(MetricSessionErrorCount, 1, w.labels)
		_ = w.release(fd)
	}
}

// process runs the session once. A panicking session loses its connection
// and nothing else.
func (w *worker) process(fd int, s api.Session) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.IncrCounterWithLabels(MetricSessionErrorCount, 1, w.labels)
			w.log.Error("session panic", LabelFD.L(fd), slog.Any("panic", r))
			_ = w.release(fd)
		}
	}()
	s.Process()
}

func (w *worker) onSignals(int, api.EventMask) {
	if _, err := w.relay.Drain(); !iox.IsNonFailure(err) {
		w.log.Error("signal relay read failed", LabelError.L(err))
	}
	for sig, ok := w.relay.Next(); ok; sig, ok = w.relay.Next() {
		switch sig {
		case syscall.SIGCHLD:
			if w.reapChildren {
				reapAny()
			}
		case syscall.SIGTERM, syscall.SIGINT:
			w.log.Info("stop requested", LabelSignal.L(sig.String()))
			w.stop = true
		}
	}
}

// reapAny collects every exited child of this process without blocking.
func reapAny() int {
	n := 0
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil || pid <= 0 {
			return n
		}
		n++
	}
}

// Modify implements api.Loop.
func (w *worker) Modify(fd int, events api.EventMask) error {
	if _, ok := w.sessions.get(fd); !ok {
		return errors.Wrapf(api.ErrNotFound, "session fd=%d", fd)
	}
	return w.reactor.Modify(fd, events)
}

// Remove implements api.Loop.
func (w *worker) Remove(fd int) error {
	return w.release(fd)
}

func (w *worker) release(fd int) error {
	if !w.sessions.remove(fd) {
		return errors.Wrapf(api.ErrNotFound, "session fd=%d", fd)
	}
	_ = w.reactor.Unregister(fd)
	err := unix.Close(fd)
	w.active.Store(int64(w.sessions.len()))
	w.metrics.SetGaugeWithLabels(MetricSessionsActive, float32(w.sessions.len()), w.labels)
	return err
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	case *unix.SockaddrInet6:
		addr := &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
		if a.ZoneId != 0 {
			addr.Zone = strconv.Itoa(int(a.ZoneId))
		}
		return addr
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: a.Name, Net: "unix"}
	default:
		return nil
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
