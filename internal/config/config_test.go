package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points HOME at an empty directory so a developer's own config
// file does not leak into tests.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	if cfg.Listen != "127.0.0.1:7466" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.State.Backend != "file" || cfg.State.Dir != filepath.Join(home, ".conductor", "workflows") {
		t.Errorf("unexpected state config: %+v", cfg.State)
	}
	if cfg.Classifier.MinScore != 3 || cfg.Bus.MaxDepth != 5 || cfg.Bus.DefaultTimeout != 30*time.Second {
		t.Errorf("unexpected routing defaults: %+v %+v", cfg.Classifier, cfg.Bus)
	}
	if cfg.Orchestrator.DefaultAgent != "general-purpose" {
		t.Errorf("default agent = %q", cfg.Orchestrator.DefaultAgent)
	}
}

func TestLoadUserConfig(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".conductor")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := "state:\n  backend: sqlite\nbus:\n  default_timeout: 5s\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.State.Backend != "sqlite" || cfg.Bus.DefaultTimeout != 5*time.Second {
		t.Errorf("user config not applied: %+v %+v", cfg.State, cfg.Bus)
	}
	// Unset keys keep their defaults.
	if cfg.Bus.MaxDepth != 5 {
		t.Errorf("max depth = %d", cfg.Bus.MaxDepth)
	}
}

func TestLoadExplicitFileAndEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	yaml := `
listen: 0.0.0.0:9000
classifier:
  min_score: 4
templates:
  path: ~/templates.yaml
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONDUCTOR_CLASSIFIER_MIN_SCORE", "6")
	t.Setenv("CONDUCTOR_REDIS_URL", "redis://localhost:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Classifier.MinScore != 6 {
		t.Errorf("env should win over file, got min score %d", cfg.Classifier.MinScore)
	}
	if cfg.Redis.URL != "redis://localhost:6379" {
		t.Errorf("redis url = %q", cfg.Redis.URL)
	}
	if strings.HasPrefix(cfg.Templates.Path, "~") {
		t.Errorf("home not expanded: %q", cfg.Templates.Path)
	}

	opts := cfg.RuntimeOptions(nil)
	if opts.MinScore != 6 || opts.RedisURL != cfg.Redis.URL || opts.TemplatesPath != cfg.Templates.Path {
		t.Errorf("runtime options not carried over: %+v", opts)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestValidate(t *testing.T) {
	isolate(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.State.Backend = "etcd" }, "state.backend"},
		{"sqlite without path", func(c *Config) { c.State.Backend = "sqlite"; c.State.DBPath = "" }, "db_path"},
		{"min score", func(c *Config) { c.Classifier.MinScore = 0 }, "min_score"},
		{"max depth", func(c *Config) { c.Bus.MaxDepth = 0 }, "max_depth"},
		{"timeout", func(c *Config) { c.Bus.DefaultTimeout = 0 }, "default_timeout"},
		{"in flight", func(c *Config) { c.Executor.MaxInFlight = -1 }, "max_in_flight"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"listen", func(c *Config) { c.Listen = "" }, "listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
