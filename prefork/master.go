//go:build linux

// File: prefork/master.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Master dispatcher: waits on the listener and the signal relay, hands each
// new connection to one worker and keeps the roster's liveness up to date.

package prefork

import (
	"log/slog"
	"strconv"
	"sync/atomic"
	"syscall"

	"code.hybscloud.com/iox"
	"github.com/hashicorp/go-metrics"
	"github.com/pkg/errors"

	"github.com/momentics/hioload-prefork/api"
	"github.com/momentics/hioload-prefork/internal/sigrelay"
	"github.com/momentics/hioload-prefork/reactor"
)

type master struct {
	log       *slog.Logger
	metrics   *metrics.Metrics
	labels    []metrics.Label
	roster    *roster
	spawner   spawner
	relay     *sigrelay.Relay
	lnFD      int
	maxEvents int

	stop       bool
	dispatched atomic.Uint64
}

func (m *master) run() error {
	defer m.roster.closeAll()
	defer m.relay.Close()

	r, err := reactor.New(m.maxEvents)
	if err != nil {
		return errors.Wrap(err, "master event loop")
	}
	defer r.Close()

	if err := r.Register(m.relay.FD(), api.EventRead, m.onSignals); err != nil {
		return errors.Wrap(err, "master signal relay")
	}
	if err := r.Register(m.lnFD, api.EventRead, m.onListener); err != nil {
		return errors.Wrap(err, "master listener")
	}
	m.metrics.SetGaugeWithLabels(MetricWorkersLive, float32(m.roster.liveCount()), m.labels)
	m.log.Info("master running", slog.Int("workers", m.roster.size()))

	for !m.stop {
		if _, err := r.Poll(-1); err != nil {
			return errors.Wrap(err, "master poll")
		}
	}

	// the listener stays open; only its registration goes away
	_ = r.Unregister(m.lnFD)
	m.log.Info("master stopped", slog.Int("live", m.roster.liveCount()))
	return nil
}

func (m *master) onListener(int, api.EventMask) {
	m.dispatch()
}

// dispatch sends one accept token to the next live worker. It returns the
// chosen index, or -1 when the pool had to stop.
func (m *master) dispatch() int {
	idx, ok := m.roster.pick()
	if !ok {
		m.stop = true
		m.metrics.IncrCounterWithLabels(MetricDispatchDropCount, 1, m.labels)
		m.log.Warn("dropping connection and stopping", LabelError.L(api.ErrNoLiveWorker))
		return -1
	}
	w := m.roster.get(idx)
	if err := w.ctrl.SendToken(); err != nil {
		m.metrics.IncrCounterWithLabels(MetricDispatchErrorCount, 1, m.labels)
		if iox.IsWouldBlock(err) {
			// the worker is alive but has a full backlog of tokens
			m.log.Warn("control channel full", LabelWorker.L(idx), LabelPID.L(w.PID))
			return idx
		}
		// the worker is probably gone; its exit shows up through SIGCHLD
		m.log.Warn("send request failed", LabelWorker.L(idx), LabelPID.L(w.PID), LabelError.L(err))
		return idx
	}
	m.dispatched.Add(1)
	m.metrics.IncrCounterWithLabels(MetricDispatchCount, 1, m.labels)
	m.log.Debug("send request to child", LabelWorker.L(idx))
	return idx
}

func (m *master) onSignals(int, api.EventMask) {
	if _, err := m.relay.Drain(); !iox.IsNonFailure(err) {
		m.log.Error("signal relay read failed", LabelError.L(err))
	}
	for sig, ok := m.relay.Next(); ok; sig, ok = m.relay.Next() {
		switch sig {
		case syscall.SIGCHLD:
			m.reap()
		case syscall.SIGTERM, syscall.SIGINT:
			m.log.Info("kill all the child now", LabelSignal.L(sig.String()))
			m.terminateAll()
		}
	}
}

// reap drains every exited worker, marks it dead and stops the master once
// nobody is left.
func (m *master) reap() {
	exits, err := m.spawner.Reap()
	if err != nil {
		m.log.Error("reap failed", LabelError.L(err))
	}
	for _, ex := range exits {
		w, ok := m.roster.markDead(ex.PID)
		if !ok {
			continue
		}
		m.metrics.IncrCounterWithLabels(MetricWorkerExitCount, 1,
			withLabels(m.labels, LabelWorker.M(strconv.Itoa(w.Index))))
		m.log.Info("child join", LabelWorker.L(w.Index), LabelPID.L(ex.PID), LabelStatus.L(ex.Status))
	}
	m.metrics.SetGaugeWithLabels(MetricWorkersLive, float32(m.roster.liveCount()), m.labels)
	if m.roster.allDead() {
		m.stop = true
		m.log.Info("all workers exited")
	}
}

// terminateAll forwards one termination request to every live worker and
// returns how many were sent. Completion is observed later through SIGCHLD.
func (m *master) terminateAll() int {
	sent := 0
	for _, w := range m.roster.live() {
		if err := m.spawner.Terminate(w.PID); err != nil {
			m.log.Warn("terminate failed", LabelWorker.L(w.Index), LabelPID.L(w.PID), LabelError.L(err))
			continue
		}
		sent++
	}
	m.metrics.IncrCounterWithLabels(MetricWorkerTermCount, float32(sent), m.labels)
	return sent
}
