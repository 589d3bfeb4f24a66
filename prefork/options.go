//go:build linux

// File: prefork/options.go
// Package prefork defines functional options for the Pool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package prefork

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

// Option customizes pool construction.
type Option func(*Config) error

// WithWorkers sets the roster size.
func WithWorkers(n int) Option {
	return func(c *Config) error {
		c.Workers = n
		return nil
	}
}

// WithMaxSessions caps how many connections one worker holds at once.
// Connections accepted beyond the cap are closed immediately.
func WithMaxSessions(n int) Option {
	return func(c *Config) error {
		c.MaxSessions = n
		return nil
	}
}

// WithMaxEvents sets how many ready descriptors a single wait may report.
func WithMaxEvents(n int) Option {
	return func(c *Config) error {
		c.MaxEvents = n
		return nil
	}
}

// WithSpawnMode chooses process or goroutine workers.
func WithSpawnMode(mode SpawnMode) Option {
	return func(c *Config) error {
		c.Mode = mode
		return nil
	}
}

// WithCPUAffinity pins every worker loop to its own CPU, wrapping around
// when there are more workers than CPUs.
func WithCPUAffinity(on bool) Option {
	return func(c *Config) error {
		c.CPUAffinity = on
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *Config) error {
		if handler != nil {
			c.LogHandler = handler
		}
		return nil
	}
}

// WithMetricSink chooses where pool metrics go.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *Config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.MetricSink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the pool.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *Config) error {
		c.MetricLabels = labels
		return nil
	}
}
