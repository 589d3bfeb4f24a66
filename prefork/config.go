//go:build linux

// File: prefork/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package prefork

import (
	"log/slog"
	"os"
	"strings"

	"github.com/hashicorp/go-metrics"
	"github.com/pkg/errors"

	"github.com/momentics/hioload-prefork/api"
	"github.com/momentics/hioload-prefork/reactor"
)

const (
	// MaxWorkers is the largest roster a pool accepts.
	MaxWorkers = 16
	// DefaultWorkers is used when no worker count is given.
	DefaultWorkers = 8
	// DefaultMaxSessions is the per-worker session table ceiling.
	DefaultMaxSessions = 65535
)

// SpawnMode selects how workers are isolated from the master.
type SpawnMode int

const (
	// SpawnProcess re-executes the current binary once per worker.
	SpawnProcess SpawnMode = iota
	// SpawnGoroutine runs every worker as a goroutine of the master process.
	SpawnGoroutine
)

func (m SpawnMode) String() string {
	switch m {
	case SpawnProcess:
		return "process"
	case SpawnGoroutine:
		return "goroutine"
	default:
		return "unknown"
	}
}

// ParseSpawnMode maps "process" or "goroutine" to a SpawnMode. An empty
// string selects SpawnProcess.
func ParseSpawnMode(s string) (SpawnMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "process":
		return SpawnProcess, nil
	case "goroutine":
		return SpawnGoroutine, nil
	default:
		return 0, errors.Wrapf(api.ErrInvalidArgument, "spawn mode %q", s)
	}
}

// Config holds all pool parameters.
type Config struct {
	Workers      int            // roster size, 1..MaxWorkers
	MaxSessions  int            // per-worker session table ceiling
	MaxEvents    int            // ready events returned by one wait
	Mode         SpawnMode      // worker isolation
	CPUAffinity  bool           // pin each worker loop to one CPU
	LogHandler   slog.Handler   // structured log sink
	MetricSink   metrics.MetricSink
	MetricLabels []metrics.Label
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:     DefaultWorkers,
		MaxSessions: DefaultMaxSessions,
		MaxEvents:   reactor.DefaultMaxEvents,
		Mode:        SpawnProcess,
		LogHandler:  slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}),
		MetricSink:  &metrics.BlackholeSink{},
	}
}

// Validate checks ranges.
func (c *Config) Validate() error {
	if c.Workers < 1 || c.Workers > MaxWorkers {
		return errors.Wrapf(api.ErrInvalidArgument, "workers must be in [1, %d], got %d", MaxWorkers, c.Workers)
	}
	if c.MaxSessions < 1 {
		return errors.Wrapf(api.ErrInvalidArgument, "max sessions must be positive, got %d", c.MaxSessions)
	}
	if c.MaxEvents < 1 {
		return errors.Wrapf(api.ErrInvalidArgument, "max events must be positive, got %d", c.MaxEvents)
	}
	if c.Mode != SpawnProcess && c.Mode != SpawnGoroutine {
		return errors.Wrapf(api.ErrInvalidArgument, "spawn mode %d", c.Mode)
	}
	return nil
}
