// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the edge-triggered readiness loop each pool
// process runs. It is owned by exactly one goroutine: registration,
// polling and callbacks all happen on the loop that created it.
package reactor

import "github.com/momentics/hioload-prefork/api"

// DefaultMaxEvents bounds how many ready descriptors one Poll returns.
const DefaultMaxEvents = 10000

// FDCallback is invoked for every ready descriptor.
type FDCallback func(fd int, events api.EventMask)
