//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/momentics/hioload-prefork/api"

// Reactor is unavailable outside Linux.
type Reactor struct{}

// New returns api.ErrNotSupported on this platform.
func New(int) (*Reactor, error) {
	return nil, api.ErrNotSupported
}

func (r *Reactor) Register(int, api.EventMask, FDCallback) error { return api.ErrNotSupported }
func (r *Reactor) Modify(int, api.EventMask) error               { return api.ErrNotSupported }
func (r *Reactor) Unregister(int) error                          { return api.ErrNotSupported }
func (r *Reactor) Registered(int) bool                           { return false }
func (r *Reactor) Poll(int) (int, error)                         { return 0, api.ErrNotSupported }
func (r *Reactor) Close() error                                  { return nil }
