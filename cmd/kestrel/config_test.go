package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := loadConfig(envFrom(nil))
		if err != nil {
			t.Fatalf("loadConfig failed: %v", err)
		}
		if cfg.Tier != domain.TierCommunity || cfg.Repository.Driver != "sqlite" {
			t.Errorf("unexpected defaults %+v", cfg)
		}
		if cfg.Model.OverrideThreshold != 2 {
			t.Errorf("expected threshold 2, got %d", cfg.Model.OverrideThreshold)
		}
	})

	t.Run("ProTier", func(t *testing.T) {
		cfg, err := loadConfig(envFrom(map[string]string{"KESTREL_TIER": "pro"}))
		if err != nil {
			t.Fatalf("loadConfig failed: %v", err)
		}
		if cfg.Repository.Driver != "postgres" || cfg.EventBus.Type != "nats" || !cfg.Cache.EnableTwoPhase {
			t.Errorf("unexpected pro config %+v", cfg)
		}
	})

	t.Run("YAMLFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kestrel.yaml")
		data := `
server:
  port: 9090
model:
  artifactPath: /srv/models/risk.yaml
  overrideThreshold: 3
cache:
  type: none
  scoreTtl: 30m
worker:
  enabled: true
  tenantIds: [mfi-a, mfi-b]
`
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}

		cfg, err := loadConfig(envFrom(map[string]string{"KESTREL_CONFIG": path}))
		if err != nil {
			t.Fatalf("loadConfig failed: %v", err)
		}
		if cfg.Server.Port != 9090 || cfg.Server.Host != "0.0.0.0" {
			t.Errorf("unexpected server config %+v", cfg.Server)
		}
		if cfg.Model.ArtifactPath != "/srv/models/risk.yaml" || cfg.Model.OverrideThreshold != 3 {
			t.Errorf("unexpected model config %+v", cfg.Model)
		}
		if cfg.Cache.Type != "none" || cfg.Cache.ScoreTTL != 30*time.Minute {
			t.Errorf("unexpected cache config %+v", cfg.Cache)
		}
		if !cfg.Worker.Enabled || len(cfg.Worker.TenantIDs) != 2 {
			t.Errorf("unexpected worker config %+v", cfg.Worker)
		}
	})

	t.Run("EnvOverridesFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kestrel.yaml")
		os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600)

		cfg, err := loadConfig(envFrom(map[string]string{
			"KESTREL_CONFIG":         path,
			"KESTREL_PORT":           "7070",
			"KESTREL_TENANTS":        "mfi-a, mfi-b,,",
			"KESTREL_AUTH":           "false",
			"KESTREL_RATE_LIMIT_RPS": "2.5",
		}))
		if err != nil {
			t.Fatalf("loadConfig failed: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("expected port 7070, got %d", cfg.Server.Port)
		}
		if len(cfg.Worker.TenantIDs) != 2 || cfg.Worker.TenantIDs[1] != "mfi-b" {
			t.Errorf("unexpected tenants %v", cfg.Worker.TenantIDs)
		}
		if cfg.Auth.Enabled {
			t.Error("expected auth disabled")
		}
		if cfg.RateLimit.RequestsPerSecond != 2.5 {
			t.Errorf("expected 2.5 rps, got %v", cfg.RateLimit.RequestsPerSecond)
		}
	})

	t.Run("InvalidValues", func(t *testing.T) {
		cases := map[string]map[string]string{
			"port":      {"KESTREL_PORT": "eighty"},
			"bool":      {"KESTREL_AUTH": "sometimes"},
			"threshold": {"KESTREL_OVERRIDE_THRESHOLD": "0"},
			"file":      {"KESTREL_CONFIG": filepath.Join(t.TempDir(), "missing.yaml")},
		}
		for name, env := range cases {
			if _, err := loadConfig(envFrom(env)); err == nil {
				t.Errorf("%s: expected error", name)
			}
		}
	})
}
