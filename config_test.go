package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steward.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(configEnvVar, "")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadConfig with missing file: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:5000" || cfg.Store.Path != "steward.db" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Match.OutroDuration() != 15*time.Second {
		t.Errorf("outro = %v", cfg.Match.OutroDuration())
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = "10.0.0.2:5001"
login = "SuperAdmin"
password = "hunter2"

[store]
path = "/var/lib/steward/steward.db"

[match]
outro_seconds = 20
time_limit_factor = 4.5
`)
	t.Setenv(configEnvVar, "")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != "10.0.0.2:5001" || cfg.Server.Password != "hunter2" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Match.OutroSeconds != 20 || cfg.Match.TimeLimitFactor != 4.5 {
		t.Errorf("match = %+v", cfg.Match)
	}
	// Unset fields keep their defaults.
	if cfg.API.Addr != ":8080" {
		t.Errorf("api = %+v", cfg.API)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = "env-wins:5000"
`)
	t.Setenv(configEnvVar, path)
	cfg, err := LoadConfig("does-not-exist.toml")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != "env-wins:5000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadConfigExplicitMissingFileFails(t *testing.T) {
	t.Setenv(configEnvVar, filepath.Join(t.TempDir(), "nope.toml"))
	if _, err := LoadConfig(""); err == nil {
		t.Error("explicitly named missing file accepted")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	bad := []string{
		"[server]\naddr = \"\"\n",
		"[match]\ntime_limit_factor = -1.0\n",
		"[match]\ntime_limit_min_seconds = 600\ntime_limit_max_seconds = 60\n",
	}
	t.Setenv(configEnvVar, "")
	for _, content := range bad {
		path := writeConfig(t, content)
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("config accepted:\n%s", content)
		}
	}
}
