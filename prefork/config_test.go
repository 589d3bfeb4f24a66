//go:build linux

package prefork

import (
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-prefork/api"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultWorkers, cfg.Workers)
	require.Equal(t, SpawnProcess, cfg.Mode)
	require.NotNil(t, cfg.LogHandler)
	require.IsType(t, &metrics.BlackholeSink{}, cfg.MetricSink)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"no workers":      func(c *Config) { c.Workers = 0 },
		"too many":        func(c *Config) { c.Workers = MaxWorkers + 1 },
		"no sessions":     func(c *Config) { c.MaxSessions = 0 },
		"no events":       func(c *Config) { c.MaxEvents = 0 },
		"unknown spawner": func(c *Config) { c.Mode = SpawnMode(7) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), api.ErrInvalidArgument)
		})
	}

	cfg := DefaultConfig()
	cfg.Workers = MaxWorkers
	require.NoError(t, cfg.Validate())
}

func TestOptionsApply(t *testing.T) {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	cfg := DefaultConfig()
	for _, opt := range []Option{
		WithWorkers(3),
		WithMaxSessions(10),
		WithMaxEvents(32),
		WithSpawnMode(SpawnGoroutine),
		WithMetricSink(sink),
		WithMetricLabels([]metrics.Label{{Name: "svc", Value: "echo"}}),
		WithLog(nil),
		WithCPUAffinity(true),
	} {
		require.NoError(t, opt(cfg))
	}
	require.Equal(t, 3, cfg.Workers)
	require.Equal(t, 10, cfg.MaxSessions)
	require.Equal(t, 32, cfg.MaxEvents)
	require.Equal(t, SpawnGoroutine, cfg.Mode)
	require.Same(t, sink, cfg.MetricSink)
	require.NotNil(t, cfg.LogHandler, "nil handler keeps the default")
	require.Len(t, cfg.MetricLabels, 1)
	require.True(t, cfg.CPUAffinity)
}

func TestParseSpawnMode(t *testing.T) {
	m, err := ParseSpawnMode("")
	require.NoError(t, err)
	require.Equal(t, SpawnProcess, m)

	m, err = ParseSpawnMode(" Goroutine ")
	require.NoError(t, err)
	require.Equal(t, SpawnGoroutine, m)
	require.Equal(t, "goroutine", m.String())

	_, err = ParseSpawnMode("thread")
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestWithLabelsCopies(t *testing.T) {
	base := make([]metrics.Label, 1, 4)
	base[0] = metrics.Label{Name: "a", Value: "1"}

	x := withLabels(base, LabelWorker.M("0"))
	y := withLabels(base, LabelWorker.M("1"))
	require.Equal(t, "0", x[1].Value)
	require.Equal(t, "1", y[1].Value)
	require.Len(t, base, 1)
}
