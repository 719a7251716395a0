package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Loop.MaxIterations != 10 {
		t.Fatalf("expected default max_iterations 10, got %d", cfg.Loop.MaxIterations)
	}
	if cfg.Reviewer.FallbackAction != "continue" {
		t.Fatalf("expected default fallback_action continue, got %q", cfg.Reviewer.FallbackAction)
	}
}

func TestLoad_LocalConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(dir)

	content := []byte("loop:\n  max_iterations: 5\nreviewer:\n  fallback_action: abort\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Loop.MaxIterations != 5 {
		t.Fatalf("expected overridden max_iterations 5, got %d", cfg.Loop.MaxIterations)
	}
	if cfg.Reviewer.FallbackAction != "abort" {
		t.Fatalf("expected overridden fallback_action abort, got %q", cfg.Reviewer.FallbackAction)
	}
}
