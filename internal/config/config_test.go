package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Quorum.MinVotes != 3 || cfg.Quorum.Managers != 3 {
		t.Fatalf("unexpected quorum defaults: %+v", cfg.Quorum)
	}
	if cfg.Gate.MinSampleSize != 100 || cfg.Gate.MinSharpe != 1.5 || cfg.Gate.MaxDrawdown != 0.10 {
		t.Fatalf("unexpected gate defaults: %+v", cfg.Gate)
	}
	if cfg.Persistence.Driver != "sqlite" || cfg.Episodic.Driver != "flat" {
		t.Fatalf("unexpected driver defaults: %+v", cfg)
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
quorum:
  managers: 5
  window: 5s
persistence:
  driver: postgres
  postgres_dsn: postgres://db/patterncore
metrics:
  enabled: false
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Quorum.Managers != 5 || cfg.Quorum.Window != 5*time.Second {
		t.Fatalf("file values not applied: %+v", cfg.Quorum)
	}
	// Untouched keys keep their defaults.
	if cfg.Quorum.MinVotes != 3 {
		t.Fatalf("min_votes default lost: %d", cfg.Quorum.MinVotes)
	}
	if cfg.Persistence.Driver != "postgres" || cfg.Persistence.PostgresDSN != "postgres://db/patterncore" {
		t.Fatalf("persistence overlay failed: %+v", cfg.Persistence)
	}
	if cfg.Metrics.Enabled {
		t.Fatalf("metrics.enabled override failed")
	}
	if cfg.Gate.MinSharpe != 1.5 {
		t.Fatalf("gate default lost: %+v", cfg.Gate)
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("empty path must return defaults")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("missing file must error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"min votes below three", func(c *Config) { c.Quorum.MinVotes = 2 }},
		{"managers below quorum", func(c *Config) { c.Quorum.Managers = 2 }},
		{"non-positive window", func(c *Config) { c.Quorum.Window = 0 }},
		{"non-positive embedding dim", func(c *Config) { c.Episodic.EmbeddingDim = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("quorum:\n  min_votes: 1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("a config below the vote floor must be rejected")
	}
}
