package masconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "mas.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FillsDefaultsForUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "master_agent: orchestrator\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MasterAgent != "orchestrator" {
		t.Fatalf("expected explicit value to win, got %q", cfg.MasterAgent)
	}
	if cfg.Store.Driver != "fs" {
		t.Fatalf("expected default store driver, got %q", cfg.Store.Driver)
	}
	if cfg.CompactionCron != "0 3 * * *" {
		t.Fatalf("expected default compaction cron, got %q", cfg.CompactionCron)
	}
}

func TestLoad_DecodesNestedSections(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
master_agent: orchestrator
store:
  driver: sqlite
  dsn: "./data.db"
peers:
  - name: peer-a
    base_url: "https://peer-a.example"
    transport: sse
mcp_servers:
  - id: files
    transport: stdio
    command: mcp-fs
    args: ["--root", "/tmp"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "./data.db" {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if len(cfg.Peers) != 1 || cfg.Peers[0].Name != "peer-a" {
		t.Fatalf("unexpected peers: %+v", cfg.Peers)
	}
	if len(cfg.MCPServers) != 1 || cfg.MCPServers[0].Command != "mcp-fs" {
		t.Fatalf("unexpected mcp servers: %+v", cfg.MCPServers)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestNewWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "master_agent: v1\n")

	reloaded := make(chan Config, 1)
	w, closeFn, err := NewWatcher(path, func(c Config) { reloaded <- c })
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	if w.Current().MasterAgent != "v1" {
		t.Fatalf("expected initial load, got %q", w.Current().MasterAgent)
	}

	writeConfig(t, dir, "master_agent: v2\n")

	select {
	case cfg := <-reloaded:
		if cfg.MasterAgent != "v2" {
			t.Fatalf("expected reloaded config to reflect the write, got %q", cfg.MasterAgent)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload notification")
	}

	if w.Current().MasterAgent != "v2" {
		t.Fatalf("expected Current() to reflect the reload, got %q", w.Current().MasterAgent)
	}
}
