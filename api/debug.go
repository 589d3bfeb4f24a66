// Package api
// Author: momentics
//
// Live debug and introspection support for a running pool.

package api

// Debug exposes named runtime probes.
type Debug interface {
	// DumpState evaluates every probe.
	DumpState() map[string]any

	// RegisterProbe adds or replaces a probe. fn may be called from any goroutine.
	RegisterProbe(name string, fn func() any)
}
