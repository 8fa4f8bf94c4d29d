package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != DefaultPort || cfg.Workers != DefaultWorkers || cfg.MaxEventsKept != DefaultMaxEventsKept {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.ListenAddr() != ":7777" {
		t.Fatalf("listen = %s", cfg.ListenAddr())
	}
}

func TestYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engined.yaml")
	body := `
port: 9999
workers: 2
ops_addr: "127.0.0.1:8080"
journal:
  driver: sqlite3
  dsn: "file:events.db"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9999 || cfg.Workers != 2 || cfg.OpsAddr != "127.0.0.1:8080" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Journal.Driver != "sqlite3" || cfg.Journal.DSN != "file:events.db" {
		t.Fatalf("journal = %+v", cfg.Journal)
	}
	// unset fields keep defaults
	if cfg.MaxEventsKept != DefaultMaxEventsKept {
		t.Fatalf("max_events_kept = %d", cfg.MaxEventsKept)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engined.yaml")
	if err := os.WriteFile(path, []byte("port: 9999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENGINE_PORT", "7001")
	t.Setenv("ENGINE_JOURNAL_DSN", "file:j.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 7001 {
		t.Fatalf("port = %d", cfg.Port)
	}
	// a DSN with no driver defaults to sqlite3
	if cfg.Journal.Driver != "sqlite3" {
		t.Fatalf("driver = %q", cfg.Journal.Driver)
	}
}

func TestInvalidRejected(t *testing.T) {
	t.Setenv("ENGINE_PORT", "70000")
	if _, err := Load(""); err == nil {
		t.Fatal("expected invalid port error")
	}
}
