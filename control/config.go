// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Pool configuration files. YAML and JSON are accepted, picked by extension.

package control

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-prefork/api"
)

// FileConfig is the on-disk layout.
type FileConfig struct {
	Listen ListenConfig `yaml:"listen" json:"listen"`
	Pool   PoolConfig   `yaml:"pool" json:"pool"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

// ListenConfig names the socket the master binds.
type ListenConfig struct {
	Network string `yaml:"network" json:"network"`
	Address string `yaml:"address" json:"address"`
}

// PoolConfig mirrors the pool options. Zero values keep the pool defaults.
type PoolConfig struct {
	Workers     int    `yaml:"workers" json:"workers"`
	MaxSessions int    `yaml:"max_sessions" json:"max_sessions"`
	MaxEvents   int    `yaml:"max_events" json:"max_events"`
	Mode        string `yaml:"mode" json:"mode"`
	CPUAffinity bool   `yaml:"cpu_affinity" json:"cpu_affinity"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns a config listening on tcp :8080 with text logs at info.
func Default() *FileConfig {
	return &FileConfig{
		Listen: ListenConfig{Network: "tcp", Address: ":8080"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// LoadFile reads path on top of Default.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q: %w", ext, api.ErrNotSupported)
	}
	return cfg, nil
}

// Validate checks what can be checked without building a pool.
func (f *FileConfig) Validate() error {
	switch f.Listen.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("listen.network %q: %w", f.Listen.Network, api.ErrInvalidArgument)
	}
	if f.Listen.Address == "" {
		return fmt.Errorf("listen.address is empty: %w", api.ErrInvalidArgument)
	}
	if f.Pool.Workers < 0 {
		return fmt.Errorf("pool.workers must be non-negative: %w", api.ErrInvalidArgument)
	}
	if f.Pool.MaxSessions < 0 {
		return fmt.Errorf("pool.max_sessions must be non-negative: %w", api.ErrInvalidArgument)
	}
	if f.Pool.MaxEvents < 0 {
		return fmt.Errorf("pool.max_events must be non-negative: %w", api.ErrInvalidArgument)
	}
	switch strings.ToLower(f.Pool.Mode) {
	case "", "process", "goroutine":
	default:
		return fmt.Errorf("pool.mode %q: %w", f.Pool.Mode, api.ErrInvalidArgument)
	}
	if _, err := f.Log.level(); err != nil {
		return err
	}
	switch strings.ToLower(f.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q: %w", f.Log.Format, api.ErrInvalidArgument)
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, api.ErrInvalidArgument)
	}
	return lvl, nil
}

// Handler builds the configured slog handler writing to w. Invalid
// settings fall back to text at info.
func (l LogConfig) Handler(w io.Writer) slog.Handler {
	lvl, err := l.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
