//go:build linux

// File: prefork/spawn_goroutine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Goroutine spawner: workers share the master's process. Termination and
// child-exit notifications are injected into the relays instead of coming
// from the kernel.

package prefork

import (
	"fmt"
	"log/slog"
	"sync"
	"syscall"

	"github.com/eapache/queue"
	"github.com/hashicorp/go-metrics"
	"github.com/pkg/errors"

	"github.com/momentics/hioload-prefork/api"
	"github.com/momentics/hioload-prefork/internal/sigrelay"
)

type goroutineSpawner struct {
	cfg     *Config
	log     *slog.Logger
	metrics *metrics.Metrics
	factory api.SessionFactory
	// notify is the master relay; a finished worker shows up there as SIGCHLD.
	notify *sigrelay.Relay

	mu     sync.Mutex
	relays map[int]*sigrelay.Relay
	exited *queue.Queue
	wg     sync.WaitGroup
}

func newGoroutineSpawner(cfg *Config, log *slog.Logger, m *metrics.Metrics,
	factory api.SessionFactory, notify *sigrelay.Relay) *goroutineSpawner {
	return &goroutineSpawner{
		cfg:     cfg,
		log:     log,
		metrics: m,
		factory: factory,
		notify:  notify,
		relays:  make(map[int]*sigrelay.Relay),
		exited:  queue.New(),
	}
}

// Spawn starts the worker goroutine. Ids are index+1 so that no worker
// ever carries id 0.
func (s *goroutineSpawner) Spawn(req workerSpec) (int, error) {
	relay, err := sigrelay.New()
	if err != nil {
		_ = req.ctrl.Close()
		return 0, errors.Wrapf(err, "worker %d relay", req.index)
	}
	id := req.index + 1
	w := newWorker(req.index, req.ctrl, relay, req.lnFD, s.factory, s.cfg, s.log, s.metrics)

	s.mu.Lock()
	s.relays[id] = relay
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		status := s.runWorker(w)
		s.mu.Lock()
		delete(s.relays, id)
		s.exited.Add(Exit{PID: id, Status: status})
		s.mu.Unlock()
		s.notify.Inject(syscall.SIGCHLD)
	}()
	return id, nil
}

func (s *goroutineSpawner) runWorker(w *worker) (status string) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker panic", slog.Any("panic", r))
			status = fmt.Sprintf("panic %v", r)
		}
	}()
	if err := w.run(); err != nil {
		w.log.Error("worker failed", LabelError.L(err))
		return "error " + err.Error()
	}
	return "exit 0"
}

func (s *goroutineSpawner) Reap() ([]Exit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Exit, 0, s.exited.Length())
	for s.exited.Length() > 0 {
		out = append(out, s.exited.Remove().(Exit))
	}
	return out, nil
}

func (s *goroutineSpawner) Terminate(pid int) error {
	s.mu.Lock()
	relay, ok := s.relays[pid]
	s.mu.Unlock()
	if !ok {
		// already gone; its exit is queued
		return nil
	}
	// a closed relay means the worker is already on its way out
	relay.Inject(syscall.SIGTERM)
	return nil
}

func (s *goroutineSpawner) wait() {
	s.wg.Wait()
}
