//go:build linux

// File: prefork/roster.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker roster and round-robin selection used by the master.

package prefork

import (
	"sync"

	"github.com/momentics/hioload-prefork/api"
	"github.com/momentics/hioload-prefork/internal/ctrlchan"
)

// WorkerRecord is the master's view of one worker.
type WorkerRecord struct {
	Index int
	PID   int
	State api.WorkerState
	ctrl  *ctrlchan.Endpoint
}

// roster is owned by the master loop. The mutex only keeps snapshots taken
// from other goroutines consistent.
type roster struct {
	mu      sync.RWMutex
	workers []*WorkerRecord
	next    int
}

func newRoster(capacity int) *roster {
	return &roster{workers: make([]*WorkerRecord, 0, capacity)}
}

func (r *roster) add(pid int, ctrl *ctrlchan.Endpoint) *WorkerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &WorkerRecord{Index: len(r.workers), PID: pid, State: api.WorkerLive, ctrl: ctrl}
	r.workers = append(r.workers, w)
	return w
}

func (r *roster) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

func (r *roster) get(index int) *WorkerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workers[index]
}

// pick scans circularly from the dispatch cursor and returns the first live
// worker, moving the cursor just past it. ok is false when nobody is live.
func (r *roster) pick() (index int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.workers)
	if n == 0 {
		return -1, false
	}
	i := r.next
	for {
		if r.workers[i].State == api.WorkerLive {
			r.next = (i + 1) % n
			return i, true
		}
		i = (i + 1) % n
		if i == r.next {
			return -1, false
		}
	}
}

// cursor returns the index the next scan starts from.
func (r *roster) cursor() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.next
}

// markDead flips the liveness flag of pid and closes its control endpoint.
// It reports false for unknown or already dead pids.
func (r *roster) markDead(pid int) (*WorkerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		if w.PID != pid || w.State != api.WorkerLive {
			continue
		}
		w.State = api.WorkerDead
		if w.ctrl != nil {
			_ = w.ctrl.Close()
		}
		return w, true
	}
	return nil, false
}

func (r *roster) live() []*WorkerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*WorkerRecord, 0, len(r.workers))
	for _, w := range r.workers {
		if w.State == api.WorkerLive {
			out = append(out, w)
		}
	}
	return out
}

func (r *roster) liveCount() int {
	return len(r.live())
}

func (r *roster) allDead() bool {
	return r.liveCount() == 0
}

func (r *roster) snapshot() []api.WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]api.WorkerInfo, len(r.workers))
	for i, w := range r.workers {
		out[i] = api.WorkerInfo{Index: w.Index, PID: w.PID, State: w.State}
	}
	return out
}

// closeAll releases every master-side endpoint still open.
func (r *roster) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		if w.ctrl != nil {
			_ = w.ctrl.Close()
		}
	}
}
