// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// control_test.go — Config loading and counter snapshot behavior.
package control

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Default()
	if cfg.TickIntervalMs != 10 {
		t.Errorf("Expected default tick interval 10ms, got %d", cfg.TickIntervalMs)
	}
	if cfg.ReadBufferSize != 4096 {
		t.Errorf("Expected default read buffer 4096, got %d", cfg.ReadBufferSize)
	}
	if cfg.Workers != 0 {
		t.Errorf("Expected default workers 0 (auto), got %d", cfg.Workers)
	}
}

func TestConfig_Load(t *testing.T) {
	raw := `
workers: 4
tick_interval_ms: 25
log_level: debug
tun:
  - name: overlay0
    addr: 10.0.0.1/24
    mtu: 1380
  - name: overlay1
    addr: 10.0.1.1/24
`
	path := filepath.Join(t.TempDir(), "netloop.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 4 || cfg.TickIntervalMs != 25 || cfg.LogLevel != "debug" {
		t.Errorf("Bad top-level values: %+v", cfg)
	}
	if cfg.ReadBufferSize != 4096 {
		t.Errorf("Expected default read buffer kept, got %d", cfg.ReadBufferSize)
	}
	if len(cfg.Tun) != 2 {
		t.Fatalf("Expected 2 tun entries, got %d", len(cfg.Tun))
	}
	if cfg.Tun[0].Name != "overlay0" || cfg.Tun[0].Addr != "10.0.0.1/24" || cfg.Tun[0].MTU != 1380 {
		t.Errorf("Bad tun entry: %+v", cfg.Tun[0])
	}
}

func TestConfig_LoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestConfig_LoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("workers: [not a number"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestStats_NilSafe(t *testing.T) {
	var s *Stats
	s.AddPacketsIn(1)
	s.AddBytesOut(10)
	if snap := s.Snapshot(); snap != nil {
		t.Errorf("Expected nil snapshot from nil stats, got %v", snap)
	}
	if s.String() != "" {
		t.Error("Expected empty string from nil stats")
	}
}

func TestStats_Snapshot(t *testing.T) {
	s := NewStats()
	s.AddPacketsIn(1500)
	s.AddBytesIn(2048)
	s.AddQueueDrops(3)
	snap := s.Snapshot()
	if snap["packets_in"] != "1,500" {
		t.Errorf("Expected comma formatting, got %q", snap["packets_in"])
	}
	if snap["queue_drops"] != "3" {
		t.Errorf("Expected drops 3, got %q", snap["queue_drops"])
	}
	if snap["bytes_in"] == "" {
		t.Error("Expected humanized bytes_in")
	}
}
