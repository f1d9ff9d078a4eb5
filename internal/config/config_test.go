package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileAbsent(t *testing.T) {
	t.Setenv("PIPELINE_CONFIG", "")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Geocode.BatchSize != 100 || cfg.Geocode.Workers != 10 || len(cfg.Geocode.Passes) != 2 {
		t.Errorf("unexpected defaults: %+v", cfg.Geocode)
	}
	if cfg.CombinedPath() != filepath.Join("data", "processed", "leeds_street_combined.csv") {
		t.Errorf("CombinedPath = %s", cfg.CombinedPath())
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	body := `data_dir: /srv/crime
geocode:
  workers: 4
  batch_timeout: 5s
  passes:
    - name: initial
      radius: 100
    - name: patch
      radius: 1000
    - name: wide
      radius: 5000
police:
  from: "2023-01"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEOCODE_WORKERS", "6")
	t.Setenv("EXPORT_POSTGRES", "true")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/srv/crime" || cfg.Police.From != "2023-01" || cfg.Police.To != "2025-12" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Geocode.Workers != 6 || !cfg.ExportPostgres {
		t.Errorf("env overrides not applied: workers=%d export=%v", cfg.Geocode.Workers, cfg.ExportPostgres)
	}
	if cfg.Geocode.BatchTimeout != 5*time.Second || cfg.Geocode.BatchSize != 100 {
		t.Errorf("geocode = %+v", cfg.Geocode)
	}
	if p, ok := cfg.PassByName("wide"); !ok || p.Radius != 5000 {
		t.Errorf("PassByName(wide) = %+v, %v", p, ok)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero batch", func(c *Config) { c.Geocode.BatchSize = 0 }, "batch_size"},
		{"batch over limit", func(c *Config) { c.Geocode.BatchSize = 101 }, "batch_size"},
		{"no workers", func(c *Config) { c.Geocode.Workers = 0 }, "workers"},
		{"no passes", func(c *Config) { c.Geocode.Passes = nil }, "passes"},
		{"shrinking radius", func(c *Config) { c.Geocode.Passes = []Pass{{"a", 2000}, {"b", 200}} }, "must exceed"},
		{"bad month", func(c *Config) { c.Archive.To = "2022-13" }, "archive.to"},
		{"bad cache", func(c *Config) { c.Geocode.Cache = "memcached" }, "geocode.cache"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
