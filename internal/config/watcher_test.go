package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnLocalConfigChange(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("reviewer:\n  fallback_action: continue\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	changed := make(chan string, 1)
	w, err := NewWatcher(nil, func(cfg *Config) {
		changed <- cfg.Reviewer.FallbackAction
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.Config().Reviewer.FallbackAction != "continue" {
		t.Fatalf("expected initial fallback_action continue, got %q", w.Config().Reviewer.FallbackAction)
	}

	if err := os.WriteFile(configPath, []byte("reviewer:\n  fallback_action: abort\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case v := <-changed:
		if v != "abort" {
			t.Fatalf("expected reloaded fallback_action abort, got %q", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	if w.Config().Reviewer.FallbackAction != "abort" {
		t.Fatalf("expected Config() to reflect reload, got %q", w.Config().Reviewer.FallbackAction)
	}
}
