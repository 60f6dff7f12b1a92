package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSetDefaults(t *testing.T) {
	c := &Config{}
	c.SetDefaults()
	if c.Grouping.WindowMs != 10000 {
		t.Fatalf("expected 10000ms window, got %d", c.Grouping.WindowMs)
	}
	if c.Threshold() != 0.9 {
		t.Fatalf("expected 0.9 threshold, got %v", c.Threshold())
	}
	if c.ApplyTimeout() != 30*time.Second {
		t.Fatalf("expected 30s apply timeout, got %s", c.ApplyTimeout())
	}
	if c.Server.Port != 3000 {
		t.Fatalf("expected port 3000")
	}
	if c.Server.Host != "127.0.0.1" {
		t.Fatalf("expected default host")
	}
	if c.Log.Level != "info" {
		t.Fatalf("expected info level")
	}
	if c.Database.Path == "" {
		t.Fatalf("expected default database path")
	}
}

func TestLoadFromYAML(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	content := `grouping:
  window_ms: 5000
server:
  port: 8080
output:
  dir: ./out
scope:
  oem: Land Rover
  model: Defender
  model_year: "2022"
discovery:
  known_ecus:
    "0010": Engine Control Module
  known_dtcs:
    P0123-45: Throttle position sensor
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Grouping.WindowMs != 5000 {
		t.Fatalf("unexpected window %d", cfg.Grouping.WindowMs)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("unexpected port %d", cfg.Server.Port)
	}
	if cfg.Scope.Key() != "land-rover/defender/2022" {
		t.Fatalf("unexpected scope key %s", cfg.Scope.Key())
	}
	if cfg.Discovery.KnownECUs["0010"] != "Engine Control Module" {
		t.Fatalf("expected known ecu from yaml")
	}
	if cfg.Threshold() != 0.9 {
		t.Fatalf("expected default threshold after load")
	}
}

func TestLoadKeepsZeroThreshold(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("discovery:\n  auto_apply_threshold: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discovery.AutoApplyThreshold == nil || cfg.Threshold() != 0 {
		t.Fatalf("explicit zero threshold replaced: %v", cfg.Threshold())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Output.Dir != "./output" {
		t.Fatalf("unexpected output dir %s", cfg.Output.Dir)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DIAGFLOW_GROUPING_WINDOW_MS", "2500")
	t.Setenv("DIAGFLOW_CLICKHOUSE_ENABLED", "true")
	t.Setenv("DIAGFLOW_LOG_LEVEL", "debug")
	t.Setenv("DIAGFLOW_DISCOVERY_THRESHOLD", "0.75")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Grouping.WindowMs != 2500 {
		t.Fatalf("expected env window, got %d", cfg.Grouping.WindowMs)
	}
	if !cfg.Archive.ClickHouse.Enabled {
		t.Fatalf("expected clickhouse enabled from env")
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug level")
	}
	if cfg.Threshold() != 0.75 {
		t.Fatalf("expected env threshold, got %v", cfg.Threshold())
	}
}

func TestValidate(t *testing.T) {
	c := &Config{}
	c.SetDefaults()
	c.Output.Dir = t.TempDir()
	if err := c.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	over := 1.5
	c.Discovery.AutoApplyThreshold = &over
	if err := c.Validate(); err == nil {
		t.Fatalf("expected threshold validation error")
	}
	zero := 0.0
	c.Discovery.AutoApplyThreshold = &zero
	if err := c.Validate(); err != nil {
		t.Fatalf("zero threshold rejected: %v", err)
	}
	c.Output.Formats = []string{"openapi"}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected format validation error")
	}
}
