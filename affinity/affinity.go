// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

// SetAffinity pins the current OS thread to a given logical CPU. Callers
// must hold runtime.LockOSThread for the pin to stay with their goroutine.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// CPUForIndex maps a worker index onto the CPUs this process may run on,
// wrapping around when there are more workers than CPUs.
func CPUForIndex(index int) (int, error) {
	cpus, err := allowedCPUs()
	if err != nil {
		return -1, err
	}
	return cpus[index%len(cpus)], nil
}
