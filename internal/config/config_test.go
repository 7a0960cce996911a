package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"basic_config": {"server_address": ":8080", "state_store": "sqlite3"},
		"databases": {"sqlite3": {"dsn": "state.db"}},
		"gateway": {"base_url": "http://localhost:9000", "timeout_seconds": 30},
		"chat": {"status_interval_seconds": 3}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":8080" {
		t.Fatalf("server address = %q", cfg.BasicConfig.ServerAddress)
	}
	if cfg.StatusInterval() != 3 {
		t.Fatalf("StatusInterval = %d, want 3", cfg.StatusInterval())
	}

	// Relative sqlite paths resolve next to the config file.
	want := filepath.Join(filepath.Dir(path), "state.db")
	if got := cfg.Databases["sqlite3"].DSN; got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
}

func TestLoadRequiresGateway(t *testing.T) {
	path := writeConfig(t, `{"basic_config": {"server_address": ":8080"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error without a gateway and without the embedded backend")
	}
}

func TestLoadEmbeddedBackendNeedsNoGateway(t *testing.T) {
	path := writeConfig(t, `{"basic_config": {"server_address": ":8080", "serve_backend": true}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.BasicConfig.ServeBackend {
		t.Fatal("serve_backend not parsed")
	}
}

func TestStatusIntervalDefault(t *testing.T) {
	cfg := &Config{}
	if cfg.StatusInterval() != 2 {
		t.Fatalf("default StatusInterval = %d, want 2", cfg.StatusInterval())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
