package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canvasd.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(body)), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.ConfigVersion != CurrentVersion {
		t.Fatalf("expected version %d, got %d", CurrentVersion, cfg.ConfigVersion)
	}
	if cfg.Collab.DebounceMS != 500 || cfg.Collab.SendBuffer != 64 {
		t.Errorf("unexpected collab defaults: %+v", cfg.Collab)
	}
	if cfg.Records.Backend != "file" {
		t.Errorf("expected file backend, got %q", cfg.Records.Backend)
	}
	if !cfg.MCP.Enabled || !cfg.Export.WatchConception {
		t.Errorf("expected mcp and watcher enabled by default")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Addr != Defaults().Server.Addr {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: :9000
storage:
  db_path: data/canvas.db
collab:
  sequence_guard: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("expected :9000, got %q", cfg.Server.Addr)
	}
	if !cfg.Collab.SequenceGuard {
		t.Errorf("expected sequence guard on")
	}
	if cfg.Collab.DebounceMS != 500 {
		t.Errorf("absent keys should keep defaults, got debounce %d", cfg.Collab.DebounceMS)
	}
	want := filepath.Join(filepath.Dir(path), "data", "canvas.db")
	if cfg.Storage.DBPath != want {
		t.Errorf("expected db path %q, got %q", want, cfg.Storage.DBPath)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown backend": "records:\n  backend: s3\n",
		"mysql no dsn":    "records:\n  backend: mysql\n",
		"mongo no db":     "records:\n  backend: mongo\n  mongo_uri: mongodb://localhost\n",
		"negative buffer": "collab:\n  send_buffer: -1\n",
		"bad yaml":        "server: [unterminated\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: :9000\n")
	t.Setenv("CANVAS_ADDR", ":9100")
	t.Setenv("CANVAS_COLLAB_DEBOUNCE_MS", "250")
	t.Setenv("CANVAS_MCP_ENABLED", "false")
	t.Setenv("CANVAS_RECORDS_BACKEND", "SQLITE")
	t.Setenv("CANVAS_RECORDS_DSN", "/tmp/records.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Addr != ":9100" {
		t.Errorf("env should win over file, got %q", cfg.Server.Addr)
	}
	if cfg.Collab.DebounceMS != 250 {
		t.Errorf("expected debounce 250, got %d", cfg.Collab.DebounceMS)
	}
	if cfg.MCP.Enabled {
		t.Errorf("expected mcp disabled")
	}
	if cfg.Records.Backend != "sqlite" {
		t.Errorf("expected lowercased backend, got %q", cfg.Records.Backend)
	}
}

func TestEnvOverrideBadNumber(t *testing.T) {
	t.Setenv("CANVAS_COLLAB_SEND_BUFFER", "lots")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric override")
	}
}

func TestEnvOverrideFor(t *testing.T) {
	if got := EnvOverrideFor("Logging.Level"); got != "CANVAS_LOG_LEVEL" {
		t.Errorf("expected CANVAS_LOG_LEVEL, got %q", got)
	}
	if got := EnvOverrideFor("config_version"); got != "" {
		t.Errorf("expected no override, got %q", got)
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "canvasd.yaml")
	cfg := Defaults()
	cfg.Export.AutoExportCron = "*/15 * * * *"
	cfg.Storage.DBPath = "/var/lib/canvasd/canvas.db"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got.Export.AutoExportCron != cfg.Export.AutoExportCron {
		t.Errorf("expected cron %q, got %q", cfg.Export.AutoExportCron, got.Export.AutoExportCron)
	}
	if got.Storage.DBPath != cfg.Storage.DBPath {
		t.Errorf("expected db path %q, got %q", cfg.Storage.DBPath, got.Storage.DBPath)
	}
}
