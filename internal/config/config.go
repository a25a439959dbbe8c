// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

// Package config defines Tapline's configuration model and loads it via
// Koanf v2 with layered sources: built-in defaults, then an optional YAML
// file, then environment variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Tapline server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Pool     PoolConfig     `koanf:"pool"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Catalog  CatalogConfig  `koanf:"catalog"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// CORSOrigins is a comma-separated list of allowed origins. The web
	// client is typically served from a different origin than the API.
	CORSOrigins string `koanf:"cors_origins"`
	// RateLimitPerMinute caps rating submissions per client IP. 0 disables
	// the limiter.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" is only usable in
	// tests that hold a single handle.
	Path string `koanf:"path"`
}

// PoolConfig bounds the write-handle pool. The store admits one writer
// transaction at a time, so Max exists to absorb bursts of waiting
// writers, not to add write concurrency.
type PoolConfig struct {
	Min            int           `koanf:"min"`
	Max            int           `koanf:"max"`
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`
	IdleTimeout    time.Duration `koanf:"idle_timeout"`
}

// LedgerConfig tunes the write-transaction contention retry.
type LedgerConfig struct {
	// BeginAttempts is the total number of BEGIN IMMEDIATE attempts
	// before a write is surfaced as contention.
	BeginAttempts int `koanf:"begin_attempts"`
	// BeginBackoff is the fixed pause between attempts.
	BeginBackoff time.Duration `koanf:"begin_backoff"`
}

// CatalogConfig points at the external catalog feed.
type CatalogConfig struct {
	// FeedURL is the festival feed endpoint. Empty disables catalog
	// loading (items must then be loaded through the API or a previous
	// run's database).
	FeedURL         string        `koanf:"feed_url"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	FetchTimeout    time.Duration `koanf:"fetch_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// Output is "stderr", "stdout", or a file path.
	Output string `koanf:"output"`
}

// defaultConfig returns a Config with all defaults applied. These are
// layered under the config file and environment overrides.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               3000,
			ShutdownTimeout:    10 * time.Second,
			CORSOrigins:        "*",
			RateLimitPerMinute: 120,
		},
		Database: DatabaseConfig{
			Path: "data/tapline.db",
		},
		Pool: PoolConfig{
			Min:            1,
			Max:            4,
			AcquireTimeout: 5 * time.Second,
			IdleTimeout:    5 * time.Second,
		},
		Ledger: LedgerConfig{
			BeginAttempts: 5,
			BeginBackoff:  100 * time.Millisecond,
		},
		Catalog: CatalogConfig{
			FeedURL:         "",
			RefreshInterval: time.Hour,
			FetchTimeout:    30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Pool.Min < 0 {
		return fmt.Errorf("pool.min must be >= 0, got %d", c.Pool.Min)
	}
	if c.Pool.Max < 1 {
		return fmt.Errorf("pool.max must be >= 1, got %d", c.Pool.Max)
	}
	if c.Pool.Min > c.Pool.Max {
		return fmt.Errorf("pool.min (%d) must not exceed pool.max (%d)", c.Pool.Min, c.Pool.Max)
	}
	if c.Pool.AcquireTimeout <= 0 {
		return fmt.Errorf("pool.acquire_timeout must be positive, got %s", c.Pool.AcquireTimeout)
	}
	if c.Pool.IdleTimeout <= 0 {
		return fmt.Errorf("pool.idle_timeout must be positive, got %s", c.Pool.IdleTimeout)
	}
	if c.Ledger.BeginAttempts < 1 {
		return fmt.Errorf("ledger.begin_attempts must be >= 1, got %d", c.Ledger.BeginAttempts)
	}
	if c.Ledger.BeginBackoff < 0 {
		return fmt.Errorf("ledger.begin_backoff must not be negative, got %s", c.Ledger.BeginBackoff)
	}
	if c.Catalog.FeedURL != "" && c.Catalog.RefreshInterval <= 0 {
		return fmt.Errorf("catalog.refresh_interval must be positive when a feed is configured, got %s", c.Catalog.RefreshInterval)
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server.rate_limit_per_minute must not be negative, got %d", c.Server.RateLimitPerMinute)
	}
	return nil
}
