package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// loadConfig builds the configuration from the tier defaults, an optional
// YAML file named by KESTREL_CONFIG and KESTREL_* overrides, in that order.
func loadConfig(getenv func(string) string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if strings.EqualFold(getenv("KESTREL_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if path := getenv("KESTREL_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *domain.Config, getenv func(string) string) error {
	if v := getenv("KESTREL_MODEL_PATH"); v != "" {
		cfg.Model.ArtifactPath = v
	}
	if v := getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := getenv("KESTREL_DB_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := getenv("KESTREL_DB_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := getenv("KESTREL_DB_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := getenv("KESTREL_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := getenv("KESTREL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("KESTREL_TENANTS"); v != "" {
		cfg.Worker.TenantIDs = splitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"KESTREL_PORT", &cfg.Server.Port},
		{"KESTREL_OVERRIDE_THRESHOLD", &cfg.Model.OverrideThreshold},
		{"KESTREL_RATE_LIMIT_BURST", &cfg.RateLimit.Burst},
	}
	for _, e := range ints {
		v := getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.key, err)
		}
		*e.dst = n
	}

	if v := getenv("KESTREL_RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid KESTREL_RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimit.RequestsPerSecond = rps
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"KESTREL_AUTH", &cfg.Auth.Enabled},
		{"KESTREL_RATE_LIMIT", &cfg.RateLimit.Enabled},
		{"KESTREL_ASYNC_WORKER", &cfg.Worker.Enabled},
		{"KESTREL_METRICS", &cfg.Metrics.Enabled},
		{"KESTREL_TRACING", &cfg.Tracing.Enabled},
	}
	for _, e := range bools {
		v := getenv(e.key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.key, err)
		}
		*e.dst = b
	}

	if cfg.Model.OverrideThreshold < 1 {
		return fmt.Errorf("override threshold must be at least 1, got %d", cfg.Model.OverrideThreshold)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// newLogger returns the process logger. KESTREL_DEBUG=true forces debug level.
func newLogger(cfg domain.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
