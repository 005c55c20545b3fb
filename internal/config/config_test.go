package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidate_Default(t *testing.T) {
	cfg := Default()
	warnings := cfg.Validate()
	if len(warnings) != 0 {
		t.Errorf("default config should have no warnings, got %v", warnings)
	}
}

func TestValidate_BadgerWithoutPath(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "badger"
	warnings := cfg.Validate()
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "store.path") {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected warning about missing store.path")
	}
}

func TestValidate_Numbers(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative_workers", func(c *Config) { c.Workers = -1 }, "workers"},
		{"negative_ttl", func(c *Config) { c.Cache.TTL = -time.Second }, "ttl"},
		{"negative_age", func(c *Config) { c.Reanalysis.MaxAgeDays = -2 }, "max_age_days"},
		{"unknown_backend", func(c *Config) { c.Store.Backend = "sqlite" }, "unknown store backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			warnings := cfg.Validate()
			hasWarn := false
			for _, w := range warnings {
				if strings.Contains(w, tt.want) {
					hasWarn = true
				}
			}
			if !hasWarn {
				t.Errorf("expected warning containing %q, got %v", tt.want, warnings)
			}
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rackscan.yaml")
	content := `
store:
  backend: badger
  path: /tmp/racks
cache:
  ttl: 30m
workers: 8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RACKSCAN_SERVER_ADDR", ":9999")
	t.Setenv("RACKSCAN_SERVER_IMPORT_ROOT", "/srv/racks")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != "badger" || cfg.Store.Path != "/tmp/racks" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("cache ttl = %s, want 30m", cfg.Cache.TTL)
	}
	if cfg.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Workers)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("server addr = %q, want env override", cfg.Server.Addr)
	}
	if cfg.Server.ImportRoot != "/srv/racks" {
		t.Errorf("import root = %q, want env override", cfg.Server.ImportRoot)
	}
	if cfg.Reanalysis.MaxAgeDays != 30 {
		t.Errorf("max_age_days default = %d", cfg.Reanalysis.MaxAgeDays)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestReanalysisMaxAge(t *testing.T) {
	r := ReanalysisConfig{MaxAgeDays: 2}
	if r.MaxAge() != 48*time.Hour {
		t.Errorf("MaxAge = %s", r.MaxAge())
	}
}
