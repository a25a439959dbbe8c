// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =====================================================
// Defaults
// =====================================================

func TestLoad_Defaults(t *testing.T) {
	// An empty config file leaves every default in place.
	t.Setenv(ConfigPathEnvVar, writeConfigFile(t, "{}\n"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("server.port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Database.Path != "data/tapline.db" {
		t.Errorf("database.path = %q, want data/tapline.db", cfg.Database.Path)
	}
	if cfg.Pool.Min != 1 || cfg.Pool.Max != 4 {
		t.Errorf("pool = %d/%d, want 1/4", cfg.Pool.Min, cfg.Pool.Max)
	}
	if cfg.Ledger.BeginAttempts != 5 {
		t.Errorf("ledger.begin_attempts = %d, want 5", cfg.Ledger.BeginAttempts)
	}
	if cfg.Ledger.BeginBackoff != 100*time.Millisecond {
		t.Errorf("ledger.begin_backoff = %s, want 100ms", cfg.Ledger.BeginBackoff)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %s/%s, want info/json", cfg.Logging.Level, cfg.Logging.Format)
	}
}

// =====================================================
// File and Environment Layering
// =====================================================

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoad_ConfigFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 8080
pool:
  max: 2
catalog:
  feed_url: "https://feed.example.com/products.json"
`)
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Pool.Max != 2 {
		t.Errorf("pool.max = %d, want 2", cfg.Pool.Max)
	}
	if cfg.Catalog.FeedURL != "https://feed.example.com/products.json" {
		t.Errorf("catalog.feed_url = %q", cfg.Catalog.FeedURL)
	}
	// Untouched keys keep their defaults.
	if cfg.Pool.Min != 1 {
		t.Errorf("pool.min = %d, want default 1", cfg.Pool.Min)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 8080
`)
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("LEDGER_BEGIN_BACKOFF", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090 (env beats file)", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("database.path = %q, want /tmp/env.db", cfg.Database.Path)
	}
	if cfg.Ledger.BeginBackoff != 250*time.Millisecond {
		t.Errorf("ledger.begin_backoff = %s, want 250ms", cfg.Ledger.BeginBackoff)
	}
}

func TestEnvTransformFunc_UnknownVariablesDropped(t *testing.T) {
	if got := envTransformFunc("PATH"); got != "" {
		t.Errorf("envTransformFunc(PATH) = %q, want empty", got)
	}
	if got := envTransformFunc("HTTP_PORT"); got != "server.port" {
		t.Errorf("envTransformFunc(HTTP_PORT) = %q, want server.port", got)
	}
}

// =====================================================
// Validation
// =====================================================

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"pool max zero", func(c *Config) { c.Pool.Max = 0 }, "pool.max"},
		{"pool min above max", func(c *Config) { c.Pool.Min = 9 }, "pool.min"},
		{"zero acquire timeout", func(c *Config) { c.Pool.AcquireTimeout = 0 }, "acquire_timeout"},
		{"zero begin attempts", func(c *Config) { c.Ledger.BeginAttempts = 0 }, "begin_attempts"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitPerMinute = -1 }, "rate_limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("defaults failed validation: %v", err)
	}
}

func TestLoad_InvalidConfigFails(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: -1
`)
	t.Setenv(ConfigPathEnvVar, path)

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a config with a negative port")
	}
}
