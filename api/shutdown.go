// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components that stop asynchronously.
type GracefulShutdown interface {
	// Shutdown requests an orderly stop and returns without waiting for it.
	// It fails with ErrClosed once the component has already stopped.
	Shutdown() error
}
