package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
matching:
  threshold: 0.75
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Matching.Threshold != 0.75 {
		t.Errorf("threshold = %v, want 0.75", cfg.Matching.Threshold)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "localhost"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Matching.Threshold != 0.8 {
		t.Errorf("default threshold = %v, want 0.8", cfg.Matching.Threshold)
	}
	if cfg.Matching.SessionTTL.Std() != time.Hour {
		t.Errorf("default session_ttl = %v, want 1h", cfg.Matching.SessionTTL)
	}
	if cfg.Embedding.BatchSize != 32 {
		t.Errorf("default batch_size = %d, want 32", cfg.Embedding.BatchSize)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("default dimensions = %d, want 384", cfg.Embedding.Dimensions)
	}
}

func TestLoad_thresholdOutOfRange(t *testing.T) {
	for _, threshold := range []string{"1.5", "-2"} {
		path := writeConfig(t, `
matching:
  threshold: `+threshold+`
`)
		if _, err := Load(path); err == nil {
			t.Errorf("threshold %s: expected error, got nil", threshold)
		}
	}
}

func TestLoad_negativeTieEpsilon(t *testing.T) {
	path := writeConfig(t, `
matching:
  threshold: 0.8
  tie_epsilon: -0.1
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for negative tie_epsilon")
	}
}

func TestLoad_expandPathRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/sessions.db"
  upload_dir: "./uploads"
watch:
  directories: ["./inbox"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if want := filepath.Join(dir, "data", "sessions.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %q, want %q", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "uploads"); cfg.Storage.UploadDir != want {
		t.Errorf("upload_dir = %q, want %q", cfg.Storage.UploadDir, want)
	}
	if want := filepath.Join(dir, "inbox"); cfg.Watch.Directories[0] != want {
		t.Errorf("watch dir = %q, want %q", cfg.Watch.Directories[0], want)
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	var w WatchConfig
	if !w.RecursiveOrDefault() {
		t.Error("recursive should default to true")
	}
	f := false
	w.Recursive = &f
	if w.RecursiveOrDefault() {
		t.Error("explicit false should be respected")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Watch.Directories = []string{"/tmp/inbox"}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Watch.Directories) != 1 || loaded.Watch.Directories[0] != "/tmp/inbox" {
		t.Errorf("watch directories not preserved: %v", loaded.Watch.Directories)
	}
}
