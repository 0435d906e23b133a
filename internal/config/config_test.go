package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv("CREWD_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Orchestrator.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Orchestrator.Workers)
	}
	if cfg.Executor.Backend != "simulated" {
		t.Errorf("expected simulated backend, got %s", cfg.Executor.Backend)
	}
	if cfg.Store.Path != "data/crewd.db" {
		t.Errorf("unexpected store path: %s", cfg.Store.Path)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Orchestrator.Balancer != "least_loaded" {
		t.Errorf("unexpected default balancer: %s", cfg.Orchestrator.Balancer)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crewd.yaml")
	content := `
orchestrator:
  workers: 8
  poll_backoff: 250ms
executor:
  backend: nats
  timeout: 1m
web:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CREWD_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Orchestrator.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Orchestrator.Workers)
	}
	if cfg.Orchestrator.PollBackoff != 250*time.Millisecond {
		t.Errorf("unexpected poll backoff: %v", cfg.Orchestrator.PollBackoff)
	}
	if cfg.Executor.Backend != "nats" {
		t.Errorf("expected nats backend, got %s", cfg.Executor.Backend)
	}
	if cfg.Executor.Timeout != time.Minute {
		t.Errorf("unexpected executor timeout: %v", cfg.Executor.Timeout)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CREWD_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("CREWD_WORKERS", "12")
	t.Setenv("CREWD_STORE_PATH", "/tmp/other.db")
	t.Setenv("CREWD_WEB_PORT", "9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Orchestrator.Workers != 12 {
		t.Errorf("expected 12 workers, got %d", cfg.Orchestrator.Workers)
	}
	if cfg.Store.Path != "/tmp/other.db" {
		t.Errorf("unexpected store path: %s", cfg.Store.Path)
	}
	if cfg.Web.Port != 9999 {
		t.Errorf("unexpected web port: %d", cfg.Web.Port)
	}
}

func TestEnvExpansionInYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crewd.yaml")
	t.Setenv("TEST_STORE_DIR", dir)
	content := "store:\n  path: ${TEST_STORE_DIR}/crewd.db\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CREWD_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store.Path != filepath.Join(dir, "crewd.db") {
		t.Errorf("env not expanded: %s", cfg.Store.Path)
	}
}
