//go:build linux

// File: prefork/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool construction and lifecycle. The same binary runs as master or as a
// worker; which one is decided once, at construction.

package prefork

import (
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/hashicorp/go-metrics"
	"github.com/pkg/errors"

	"github.com/momentics/hioload-prefork/api"
	"github.com/momentics/hioload-prefork/control"
	"github.com/momentics/hioload-prefork/internal/ctrlchan"
	"github.com/momentics/hioload-prefork/internal/sigrelay"
)

// Listener is what a pool needs from the listening socket: a duplicate of
// its descriptor. *net.TCPListener and *net.UnixListener satisfy it.
type Listener interface {
	File() (*os.File, error)
}

// Pool is one process's view of a prefork pool.
type Pool struct {
	cfg     *Config
	role    api.Role
	index   int
	log     *slog.Logger
	metrics *metrics.Metrics
	lnFile  *os.File
	probes  *control.DebugProbes

	master  *master
	worker  *worker
	spawner spawner

	running atomic.Bool
}

var (
	_ api.GracefulShutdown = (*Pool)(nil)
	_ api.Debug            = (*control.DebugProbes)(nil)
)

var masterSignals = []os.Signal{syscall.SIGCHLD, syscall.SIGTERM, syscall.SIGINT}

var (
	childOnce  sync.Once
	childIndex int
	childOK    bool
	childErr   error
)

// inheritedRole reads the worker marker once per process.
func inheritedRole() (int, bool, error) {
	childOnce.Do(func() {
		childIndex, childOK, childErr = workerIndexFromEnv()
	})
	return childIndex, childOK, childErr
}

// IsWorker reports whether this process was started by a pool as a worker.
func IsWorker() bool {
	_, ok, _ := inheritedRole()
	return ok
}

// Listen opens the pool listener. In a worker process it returns the
// listener inherited from the master and ignores its arguments.
func Listen(network, address string) (net.Listener, error) {
	if _, ok, err := inheritedRole(); ok {
		if err != nil {
			return nil, err
		}
		f := os.NewFile(inheritedListenerFD, "prefork-listener")
		defer f.Close()
		ln, err := net.FileListener(f)
		if err != nil {
			return nil, errors.Wrap(err, "inherited listener")
		}
		return ln, nil
	}
	return net.Listen(network, address)
}

// New builds a pool around ln. In the master it starts every worker before
// returning; in a worker process it prepares that worker's loop.
func New(ln Listener, factory api.SessionFactory, opts ...Option) (*Pool, error) {
	if ln == nil {
		return nil, errors.Wrap(api.ErrInvalidArgument, "nil listener")
	}
	if factory == nil {
		return nil, errors.Wrap(api.ErrInvalidArgument, "nil session factory")
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m, err := newMetrics(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}

	lnFile, err := ln.File()
	if err != nil {
		return nil, errors.Wrap(err, "duplicate listener")
	}
	p := &Pool{
		cfg:     cfg,
		index:   -1,
		metrics: m,
		lnFile:  lnFile,
		probes:  control.NewDebugProbes(),
	}
	base := slog.New(cfg.LogHandler).With(LabelPID.L(os.Getpid()))

	idx, isWorker, err := inheritedRole()
	if err == nil && isWorker {
		err = p.initWorker(idx, factory, base)
	} else if err == nil {
		err = p.initMaster(factory, base)
	}
	if err != nil {
		_ = lnFile.Close()
		return nil, err
	}
	p.registerProbes()
	return p, nil
}

func (p *Pool) initWorker(idx int, factory api.SessionFactory, base *slog.Logger) error {
	p.role = api.RoleWorker
	p.index = idx
	p.log = base.With(LabelRole.L(p.role.String()))

	relay, err := sigrelay.New(masterSignals...)
	if err != nil {
		return errors.Wrap(err, "worker signal relay")
	}
	syscall.CloseOnExec(inheritedControlFD)
	ctrl := ctrlchan.FromFD(inheritedControlFD)
	p.worker = newWorker(idx, ctrl, relay, int(p.lnFile.Fd()), factory, p.cfg, p.log, p.metrics)
	p.worker.reapChildren = true
	return nil
}

func (p *Pool) initMaster(factory api.SessionFactory, base *slog.Logger) error {
	p.role = api.RoleMaster
	p.log = base.With(LabelRole.L(p.role.String()))
	lnFD := int(p.lnFile.Fd())

	relay, err := sigrelay.New(masterSignals...)
	if err != nil {
		return errors.Wrap(err, "master signal relay")
	}
	switch p.cfg.Mode {
	case SpawnGoroutine:
		workerLog := base.With(LabelRole.L(api.RoleWorker.String()))
		p.spawner = newGoroutineSpawner(p.cfg, workerLog, p.metrics, factory, relay)
	default:
		sp, err := newProcessSpawner()
		if err != nil {
			_ = relay.Close()
			return err
		}
		p.spawner = sp
	}

	r := newRoster(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		mc, wc, err := ctrlchan.NewPair()
		if err == nil {
			var pid int
			pid, err = p.spawner.Spawn(workerSpec{index: i, ctrl: wc, lnFile: p.lnFile, lnFD: lnFD})
			if err == nil {
				r.add(pid, mc)
				p.log.Info("worker started", LabelWorker.L(i), slog.Int("id", pid))
				continue
			}
			_ = mc.Close()
		}
		p.abortSpawn(r, relay)
		return errors.Wrapf(err, "spawn worker %d", i)
	}

	p.master = &master{
		log:       p.log,
		metrics:   p.metrics,
		labels:    withLabels(p.cfg.MetricLabels, LabelRole.M(p.role.String())),
		roster:    r,
		spawner:   p.spawner,
		relay:     relay,
		lnFD:      lnFD,
		maxEvents: p.cfg.MaxEvents,
	}
	return nil
}

// abortSpawn stops the workers started so far.
func (p *Pool) abortSpawn(r *roster, relay *sigrelay.Relay) {
	for _, w := range r.live() {
		if err := p.spawner.Terminate(w.PID); err != nil {
			p.log.Warn("terminate failed", LabelWorker.L(w.Index), LabelError.L(err))
		}
	}
	r.closeAll()
	if wt, ok := p.spawner.(waiter); ok {
		wt.wait()
	}
	_ = relay.Close()
}

func (p *Pool) registerProbes() {
	p.probes.RegisterProbe("role", func() any { return p.role.String() })
	p.probes.RegisterProbe("index", func() any { return p.index })
	p.probes.RegisterProbe("mode", func() any { return p.cfg.Mode.String() })
	if p.master != nil {
		p.probes.RegisterProbe("workers.live", func() any { return p.master.roster.liveCount() })
		p.probes.RegisterProbe("dispatch.next", func() any { return p.master.roster.cursor() })
		p.probes.RegisterProbe("dispatch.count", func() any { return p.master.dispatched.Load() })
	}
	if p.worker != nil {
		p.probes.RegisterProbe("sessions.active", func() any { return p.worker.active.Load() })
		p.probes.RegisterProbe("sessions.accepted", func() any { return p.worker.accepted.Load() })
	}
	control.RegisterPlatformProbes(p.probes)
}

var (
	createOnce sync.Once
	created    *Pool
	createErr  error
)

// Create returns the process-wide pool, constructing it on first use. Later
// calls ignore their arguments and return the first result.
func Create(ln Listener, factory api.SessionFactory, opts ...Option) (*Pool, error) {
	createOnce.Do(func() {
		created, createErr = New(ln, factory, opts...)
	})
	return created, createErr
}

// Run drives this process's role until it stops. A master returns once
// every worker has exited; a worker returns on SIGTERM or when the master
// goes away. Run may be called once.
func (p *Pool) Run() error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.Wrap(api.ErrAlreadyExists, "pool already ran")
	}
	defer p.lnFile.Close()

	if p.role == api.RoleWorker {
		return p.worker.run()
	}
	err := p.master.run()
	if wt, ok := p.spawner.(waiter); ok {
		wt.wait()
	}
	return err
}

// Role reports whether this process is the master or a worker.
func (p *Pool) Role() api.Role { return p.role }

// Index is the worker index, or -1 in the master.
func (p *Pool) Index() int { return p.index }

// Workers returns the master's roster. Workers see nil.
func (p *Pool) Workers() []api.WorkerInfo {
	if p.master == nil {
		return nil
	}
	return p.master.roster.snapshot()
}

// Stats dumps the debug probes.
func (p *Pool) Stats() map[string]any {
	return p.probes.DumpState()
}

// Debug gives access to the probe registry behind Stats, for applications
// that want to publish their own probes.
func (p *Pool) Debug() api.Debug { return p.probes }

// Shutdown asks the pool to stop as if SIGTERM had arrived. The master
// forwards it to every live worker; Run returns once they are gone.
func (p *Pool) Shutdown() error {
	var relay *sigrelay.Relay
	if p.master != nil {
		relay = p.master.relay
	} else {
		relay = p.worker.relay
	}
	if !relay.Inject(syscall.SIGTERM) {
		return errors.Wrap(api.ErrClosed, "pool stopped")
	}
	return nil
}
