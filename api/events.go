// File: api/events.go
// Package api defines readiness event types shared by the reactor and sessions.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// EventMask is a set of readiness conditions on a descriptor.
type EventMask uint32

const (
	EventRead EventMask = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// Has reports whether all bits of o are set in m.
func (m EventMask) Has(o EventMask) bool {
	return m&o == o
}
