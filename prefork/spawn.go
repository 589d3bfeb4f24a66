//go:build linux

// File: prefork/spawn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker spawning contract shared by the process and goroutine modes.

package prefork

import (
	"os"

	"github.com/momentics/hioload-prefork/internal/ctrlchan"
)

// workerSpec is everything a new worker inherits from the master.
type workerSpec struct {
	index  int
	ctrl   *ctrlchan.Endpoint // worker side
	lnFile *os.File
	lnFD   int
}

// Exit describes one reaped worker.
type Exit struct {
	PID    int
	Status string
}

// spawner starts workers and observes their end. PIDs are process ids in
// process mode and stable synthetic ids in goroutine mode.
type spawner interface {
	// Spawn starts a worker. The spawner takes ownership of req.ctrl.
	Spawn(req workerSpec) (pid int, err error)
	// Reap returns the workers that ended since the last call without blocking.
	Reap() ([]Exit, error)
	// Terminate asks one worker to stop. It does not wait.
	Terminate(pid int) error
}

// waiter is implemented by spawners whose workers live in this process.
type waiter interface {
	wait()
}
