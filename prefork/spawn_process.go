//go:build linux

// File: prefork/spawn_process.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process spawner: every worker is the current binary re-executed with the
// listener and its control endpoint inherited as fixed descriptors.

package prefork

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// envWorkerIndex marks a re-executed binary as worker number N.
	envWorkerIndex = "PREFORK_WORKER_INDEX"

	// Descriptors as seen by the worker: ExtraFiles start at 3.
	inheritedListenerFD = 3
	inheritedControlFD  = 4
)

type processSpawner struct {
	path string
	args []string
}

func newProcessSpawner() (*processSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "locate executable")
	}
	return &processSpawner{path: path, args: os.Args[1:]}, nil
}

func (s *processSpawner) Spawn(req workerSpec) (int, error) {
	ctrlFile := req.ctrl.File("prefork-ctrl-" + strconv.Itoa(req.index))
	if ctrlFile == nil {
		return 0, errors.Errorf("worker %d: control endpoint already closed", req.index)
	}
	// the master never talks through the worker side
	defer ctrlFile.Close()

	cmd := exec.Command(s.path, s.args...)
	cmd.Env = append(os.Environ(), envWorkerIndex+"="+strconv.Itoa(req.index))
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{req.lnFile, ctrlFile}
	if err := cmd.Start(); err != nil {
		return 0, errors.Wrapf(err, "start worker %d", req.index)
	}
	pid := cmd.Process.Pid
	// reaping happens through Wait4, not through os.Process
	_ = cmd.Process.Release()
	return pid, nil
}

func (s *processSpawner) Reap() ([]Exit, error) {
	var out []Exit
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD:
			return out, nil
		case err != nil:
			return out, errors.Wrap(err, "wait4")
		case pid <= 0:
			return out, nil
		}
		out = append(out, Exit{PID: pid, Status: waitStatusString(ws)})
	}
}

func (s *processSpawner) Terminate(pid int) error {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		return errors.Wrapf(err, "kill %d", pid)
	}
	return nil
}

func waitStatusString(ws unix.WaitStatus) string {
	switch {
	case ws.Exited():
		return "exit " + strconv.Itoa(ws.ExitStatus())
	case ws.Signaled():
		return "signal " + syscall.Signal(ws.Signal()).String()
	default:
		return "status " + strconv.Itoa(int(ws))
	}
}

// workerIndexFromEnv reports whether this process was started as a worker.
// The variable is cleared so the worker's own children do not inherit it.
func workerIndexFromEnv() (int, bool, error) {
	v, ok := os.LookupEnv(envWorkerIndex)
	if !ok {
		return 0, false, nil
	}
	_ = os.Unsetenv(envWorkerIndex)
	idx, err := strconv.Atoi(v)
	if err != nil || idx < 0 || idx >= MaxWorkers {
		return 0, true, errors.Errorf("%s=%q is not a worker index", envWorkerIndex, v)
	}
	return idx, true, nil
}
