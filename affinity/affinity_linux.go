//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux implementation on top of sched_setaffinity(2).

package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-prefork/api"
)

// maxCPUs is CPU_SETSIZE, the size of the kernel mask unix.CPUSet covers.
const maxCPUs = 1024

func setAffinityPlatform(cpuID int) error {
	if cpuID < 0 || cpuID >= maxCPUs {
		return fmt.Errorf("affinity: cpu %d: %w", cpuID, api.ErrInvalidArgument)
	}
	var set unix.CPUSet
	set.Set(cpuID)
	// pid 0 is the calling thread
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity cpu %d: %w", cpuID, err)
	}
	return nil
}

func allowedCPUs() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("affinity: sched_getaffinity: %w", err)
	}
	var out []int
	for cpu := 0; cpu < maxCPUs; cpu++ {
		if set.IsSet(cpu) {
			out = append(out, cpu)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("affinity: empty cpu set: %w", api.ErrResourceExhausted)
	}
	return out, nil
}
