// File: control/config.go
// Author: momentics <momentics@gmail.com>
//
// YAML configuration for the event loop and its virtual interfaces.

package control

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TunConfig describes one virtual interface to bring up.
type TunConfig struct {
	// Name is the requested interface name; empty lets the OS pick.
	Name string `yaml:"name"`

	// Addr is the interface address in CIDR form, e.g. "10.0.0.1/24".
	Addr string `yaml:"addr"`

	// MTU overrides the OS default when positive.
	MTU int `yaml:"mtu"`
}

// Config is the loop-level configuration.
type Config struct {
	// Workers sizes the completion worker pool; <= 0 means twice the
	// logical CPU count.
	Workers int `yaml:"workers"`

	// TickIntervalMs paces Run between bounded waits.
	TickIntervalMs int `yaml:"tick_interval_ms"`

	// ReadBufferSize is the per-tick scratch read buffer in bytes.
	ReadBufferSize int `yaml:"read_buffer_size"`

	// LogLevel is a zerolog level name ("debug", "info", "warn", ...).
	LogLevel string `yaml:"log_level"`

	// Tun lists the virtual interfaces to open (exit nodes run several).
	Tun []TunConfig `yaml:"tun"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Workers:        0,
		TickIntervalMs: 10,
		ReadBufferSize: 4096,
		LogLevel:       "info",
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.TickIntervalMs <= 0 {
		cfg.TickIntervalMs = 10
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	return cfg, nil
}
