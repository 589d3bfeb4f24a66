//go:build !linux
// +build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package affinity

import (
	"fmt"

	"github.com/momentics/hioload-prefork/api"
)

func setAffinityPlatform(cpuID int) error {
	return fmt.Errorf("affinity: %w", api.ErrNotSupported)
}

func allowedCPUs() ([]int, error) {
	return nil, fmt.Errorf("affinity: %w", api.ErrNotSupported)
}
