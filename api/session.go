// File: api/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection handler contract implemented by applications that plug
// into a worker's event loop.

package api

import "net"

// Loop is the handle a Session uses to talk back to the worker event loop
// that owns its connection.
type Loop interface {
	// Modify changes the readiness interest for fd.
	Modify(fd int, events EventMask) error

	// Remove deregisters fd, closes it and releases the session bound to it.
	Remove(fd int) error
}

// Session processes one accepted connection inside a worker.
//
// Init is called once right after accept. Process is called once per
// readiness notification and must drain what it needs, since readiness is
// edge-triggered. A session ends its connection by calling Loop.Remove.
type Session interface {
	Init(loop Loop, fd int, peer net.Addr) error
	Process()
}

// SessionFactory builds a fresh Session for every accepted connection.
type SessionFactory func() Session
