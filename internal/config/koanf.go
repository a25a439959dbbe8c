// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where a config file is searched, in
// priority order. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tapline/config.yaml",
	"/etc/tapline/config.yml",
}

// ConfigPathEnvVar overrides the config file search entirely.
const ConfigPathEnvVar = "TAPLINE_CONFIG"

// Load builds the configuration from layered sources, lowest priority
// first: built-in defaults, an optional YAML config file, environment
// variables. The result is validated before it is returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the config file to load, or "" for none.
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings translates environment variable names to config paths.
// Variables not listed here are ignored, which keeps unrelated process
// environment out of the configuration.
var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"shutdown_timeout":      "server.shutdown_timeout",
	"cors_origins":          "server.cors_origins",
	"rate_limit_per_minute": "server.rate_limit_per_minute",

	"db_path": "database.path",

	"pool_min":             "pool.min",
	"pool_max":             "pool.max",
	"pool_acquire_timeout": "pool.acquire_timeout",
	"pool_idle_timeout":    "pool.idle_timeout",

	"ledger_begin_attempts": "ledger.begin_attempts",
	"ledger_begin_backoff":  "ledger.begin_backoff",

	"catalog_feed_url":         "catalog.feed_url",
	"catalog_refresh_interval": "catalog.refresh_interval",
	"catalog_fetch_timeout":    "catalog.fetch_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_output": "logging.output",
}

// envTransformFunc maps an environment variable name to its koanf path.
// Returning "" drops the variable.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
