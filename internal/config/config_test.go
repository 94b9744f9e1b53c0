package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/repo"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != repo.DefaultDSN {
		t.Errorf("unexpected dsn: %s", cfg.DatabaseURL)
	}
	if cfg.LockBackend != LockBackendPostgres {
		t.Errorf("expected postgres backend, got %s", cfg.LockBackend)
	}
	if cfg.RetryInterval != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.RetryInterval)
	}
	if cfg.DefaultConcurrency != 1 {
		t.Errorf("expected 1, got %d", cfg.DefaultConcurrency)
	}
	if !cfg.SkippedSatisfies {
		t.Error("expected skipped to satisfy by default")
	}
	if cfg.Port != ":8081" {
		t.Errorf("unexpected port: %s", cfg.Port)
	}
	if len(cfg.ClassLimits) != 0 {
		t.Errorf("expected no class limits, got %v", cfg.ClassLimits)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PIPELINES_RETRY_INTERVAL", "250ms")
	t.Setenv("PIPELINES_DEFAULT_CONCURRENCY", "4")
	t.Setenv("PIPELINES_SKIPPED_SATISFIES", "false")
	t.Setenv("CLASS_LIMITS", "gpu=2")
	t.Setenv("SCHED_PORT", ":9090")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.RetryInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.RetryInterval)
	}
	if cfg.DefaultConcurrency != 4 {
		t.Errorf("expected 4, got %d", cfg.DefaultConcurrency)
	}
	if cfg.ClassLimits["gpu"] != 2 {
		t.Errorf("unexpected limits: %v", cfg.ClassLimits)
	}
	if cfg.Port != ":9090" {
		t.Errorf("unexpected port: %s", cfg.Port)
	}

	statuses := cfg.SatisfiedStatuses()
	if len(statuses) != 1 || statuses[0] != domain.OperationStatusSucceeded {
		t.Errorf("unexpected satisfied statuses: %v", statuses)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("LOCK_BACKEND", "postgres")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	if err := fs.Parse([]string{"--lock-backend=local", "--db-url=postgres://x"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LockBackend != LockBackendLocal {
		t.Errorf("expected local backend, got %s", cfg.LockBackend)
	}
	if cfg.DatabaseURL != "postgres://x" {
		t.Errorf("unexpected dsn: %s", cfg.DatabaseURL)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.yaml")
	body := "default_concurrency: 3\nsweep_schedule: \"*/5 * * * *\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultConcurrency != 3 {
		t.Errorf("expected 3, got %d", cfg.DefaultConcurrency)
	}
	if cfg.SweepSchedule != "*/5 * * * *" {
		t.Errorf("unexpected schedule: %s", cfg.SweepSchedule)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{"PIPELINES_RETRY_INTERVAL", "soon"},
		{"PIPELINES_RETRY_INTERVAL", "-1s"},
		{"PIPELINES_DEFAULT_CONCURRENCY", "0"},
		{"PIPELINES_DEFAULT_CONCURRENCY", "many"},
		{"PIPELINES_SKIPPED_SATISFIES", "maybe"},
		{"CLASS_LIMITS", "gpu"},
		{"SWEEP_SCHEDULE", "every now and then"},
		{"LOCK_BACKEND", "etcd"},
		{"LOCK_BACKEND", "redis"},
	}

	for _, tt := range tests {
		t.Run(tt.env+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			if _, err := Load(nil); !errors.Is(err, ErrInvalidValue) {
				t.Errorf("expected ErrInvalidValue, got %v", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(nil); err == nil {
		t.Error("expected error for missing config file")
	}
}
