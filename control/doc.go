// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration files and debug introspection for the prefork pool.
//
// Provides:
//   - FileConfig: YAML or JSON pool configuration with validation
//   - DebugProbes: named probe registry behind Pool.Stats
//   - platform probes registered on every pool
package control
