package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("expected 3 retry attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Storage.Compression != "zstd" {
		t.Errorf("expected zstd compression default, got %s", cfg.Storage.Compression)
	}
	if cfg.Storage.ExpiringDays != 15 {
		t.Errorf("expected 15 day expiring window, got %d", cfg.Storage.ExpiringDays)
	}
	if cfg.Publish.Enabled {
		t.Error("publishing should be off by default")
	}
}

func TestValidateForRun_MissingURL(t *testing.T) {
	cfg := Default()

	err := cfg.ValidateForRun()
	if err == nil {
		t.Fatal("expected error for missing source URL")
	}
	if !rferrors.IsCode(err, rferrors.CodeMissingEnv) {
		t.Errorf("expected CodeMissingEnv, got %v", rferrors.GetCode(err))
	}
}

func TestValidateForRun_PublishNeedsToken(t *testing.T) {
	cfg := Default()
	cfg.Source.URL = "https://example.com/data"
	cfg.Publish.Enabled = true
	cfg.Publish.Repo = "owner/repo"

	err := cfg.ValidateForRun()
	if !rferrors.IsCode(err, rferrors.CodeMissingEnv) {
		t.Errorf("expected missing token error, got %v", err)
	}

	cfg.Publish.Token = "t"
	if err := cfg.ValidateForRun(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoadFile_MergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rentflow.yaml")
	body := `
source:
  url: https://example.com/page
storage:
  database: ` + filepath.Join(dir, "test.db") + `
  compression: snappy
retry:
  max_attempts: 5
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager()
	if err := m.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Source.URL != "https://example.com/page" {
		t.Errorf("url not merged: %s", cfg.Source.URL)
	}
	if cfg.Storage.Compression != "snappy" {
		t.Errorf("compression not merged: %s", cfg.Storage.Compression)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("retry not merged: %d", cfg.Retry.MaxAttempts)
	}
	// Untouched values keep defaults
	if cfg.Storage.ExpiringDays != 15 {
		t.Errorf("default lost after merge: %d", cfg.Storage.ExpiringDays)
	}
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("DLD_URL", "https://env.example.com")
	t.Setenv("GH_TOKEN", "env-token")
	t.Setenv("RENTFLOW_STRICT", "true")
	t.Setenv("RENTFLOW_RETRIES", "7")

	m := NewManager()
	m.loadEnv()

	cfg := m.Get()
	if cfg.Source.URL != "https://env.example.com" {
		t.Errorf("DLD_URL not applied: %s", cfg.Source.URL)
	}
	if cfg.Publish.Token != "env-token" {
		t.Error("GH_TOKEN not applied")
	}
	if !cfg.Validation.Strict {
		t.Error("RENTFLOW_STRICT not applied")
	}
	if cfg.Retry.MaxAttempts != 7 {
		t.Errorf("RENTFLOW_RETRIES not applied: %d", cfg.Retry.MaxAttempts)
	}
}

func TestReleaseTag(t *testing.T) {
	cfg := Default()
	day := time.Date(2025, 2, 28, 10, 30, 0, 0, time.UTC)

	if got := cfg.ReleaseTag(day); got != "release-2025-02-28" {
		t.Errorf("ReleaseTag = %q", got)
	}
}
