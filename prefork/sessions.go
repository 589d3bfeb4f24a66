//go:build linux

// File: prefork/sessions.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package prefork

import (
	"sort"

	"github.com/momentics/hioload-prefork/api"
)

// sessionTable maps connection descriptors to their sessions, with a
// fixed ceiling. It belongs to one worker loop.
type sessionTable struct {
	limit   int
	entries map[int]api.Session
}

func newSessionTable(limit int) *sessionTable {
	return &sessionTable{
		limit:   limit,
		entries: make(map[int]api.Session),
	}
}

func (t *sessionTable) add(fd int, s api.Session) error {
	if _, ok := t.entries[fd]; ok {
		return api.NewError(api.ErrCodeAlreadyExists, "session already bound").
			WithContext("fd", fd)
	}
	if t.full() {
		return api.NewError(api.ErrCodeResourceExhausted, "session table full").
			WithContext("limit", t.limit)
	}
	t.entries[fd] = s
	return nil
}

func (t *sessionTable) get(fd int) (api.Session, bool) {
	s, ok := t.entries[fd]
	return s, ok
}

func (t *sessionTable) remove(fd int) bool {
	if _, ok := t.entries[fd]; !ok {
		return false
	}
	delete(t.entries, fd)
	return true
}

func (t *sessionTable) len() int {
	return len(t.entries)
}

func (t *sessionTable) full() bool {
	return len(t.entries) >= t.limit
}

// fds lists the registered descriptors in ascending order.
func (t *sessionTable) fds() []int {
	out := make([]int, 0, len(t.entries))
	for fd := range t.entries {
		out = append(out, fd)
	}
	sort.Ints(out)
	return out
}
