// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// Role tells which side of the pool the current process plays.
type Role int

const (
	RoleMaster Role = iota
	RoleWorker
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleWorker:
		return "worker"
	default:
		return "unknown"
	}
}

// WorkerState is the liveness flag of a roster entry.
// It moves from WorkerLive to WorkerDead once and never back.
type WorkerState int

const (
	WorkerLive WorkerState = iota
	WorkerDead
)

func (s WorkerState) String() string {
	switch s {
	case WorkerLive:
		return "live"
	case WorkerDead:
		return "dead"
	default:
		return "unknown"
	}
}

// WorkerInfo is a read-only snapshot of one roster entry.
type WorkerInfo struct {
	Index int
	PID   int
	State WorkerState
}
