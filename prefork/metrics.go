//go:build linux

// File: prefork/metrics.go
// Author: momentics <momentics@gmail.com>

package prefork

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

// Metric keys. The sink sees them prefixed with "prefork".
var (
	MetricDispatchCount      = []string{"master", "dispatch", "count"}
	MetricDispatchErrorCount = []string{"master", "dispatch", "error", "count"}
	MetricDispatchDropCount  = []string{"master", "dispatch", "drop", "count"}
	MetricWorkerExitCount    = []string{"master", "worker", "exit", "count"}
	MetricWorkerTermCount    = []string{"master", "worker", "terminate", "count"}
	MetricWorkersLive        = []string{"master", "workers", "live"}
	MetricAcceptCount        = []string{"worker", "accept", "count"}
	MetricAcceptErrorCount   = []string{"worker", "accept", "error", "count"}
	MetricSessionRejectCount = []string{"worker", "session", "reject", "count"}
	MetricSessionErrorCount  = []string{"worker", "session", "error", "count"}
	MetricSessionsActive     = []string{"worker", "sessions", "active"}
)

type TelemetryLabel string

var (
	LabelRole   TelemetryLabel = "role"
	LabelWorker TelemetryLabel = "worker"
	LabelPID    TelemetryLabel = "pid"
	LabelFD     TelemetryLabel = "fd"
	LabelPeer   TelemetryLabel = "peer"
	LabelSignal TelemetryLabel = "signal"
	LabelStatus TelemetryLabel = "status"
	LabelError  TelemetryLabel = "error"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}

func newMetrics(cfg *Config) (*metrics.Metrics, error) {
	mc := metrics.DefaultConfig("prefork")
	mc.EnableHostname = false
	mc.EnableRuntimeMetrics = false
	return metrics.New(mc, cfg.MetricSink)
}

// withLabels copies base so callers never share a backing array.
func withLabels(base []metrics.Label, extra ...metrics.Label) []metrics.Label {
	out := make([]metrics.Label, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}
