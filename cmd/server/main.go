// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

// Command server runs the Tapline rating service: a single-writer
// SQLite ledger behind an HTTP API, with a supervised catalog refresher.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tapline/tapline/internal/api"
	"github.com/tapline/tapline/internal/catalog"
	"github.com/tapline/tapline/internal/config"
	"github.com/tapline/tapline/internal/ledger"
	"github.com/tapline/tapline/internal/logging"
	"github.com/tapline/tapline/internal/pool"
	"github.com/tapline/tapline/internal/store"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOut, err := logOutput(cfg.Logging.Output)
	if err != nil {
		return fmt.Errorf("open log output: %w", err)
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logOut,
	})
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int("port", cfg.Server.Port).
		Msg("Starting Tapline")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.EnsureSchema(ctx, cfg.Database.Path); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	reader, err := store.OpenReader(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open reader: %w", err)
	}
	defer closeQuietly("reader", reader)

	writers, err := pool.New(pool.Config{
		Min:            cfg.Pool.Min,
		Max:            cfg.Pool.Max,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		IdleTimeout:    cfg.Pool.IdleTimeout,
	}, func() (*store.Handle, error) {
		return store.Open(cfg.Database.Path)
	})
	if err != nil {
		return fmt.Errorf("open writer pool: %w", err)
	}
	defer writers.Close()

	ldg, err := ledger.New(ctx, writers, reader, ledger.Config{
		BeginAttempts: cfg.Ledger.BeginAttempts,
		BeginBackoff:  cfg.Ledger.BeginBackoff,
	})
	if err != nil {
		return fmt.Errorf("initialize ledger: %w", err)
	}

	handler := api.NewHandler(ldg)
	router := api.NewRouter(handler, cfg.Server)

	supervisor := suture.New("tapline", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: logging.NewSlogLogger()}).MustHook(),
	})
	supervisor.Add(newHTTPService(cfg.Server, router))

	if cfg.Catalog.FeedURL != "" {
		feed := catalog.NewClient(cfg.Catalog.FeedURL, cfg.Catalog.FetchTimeout)
		if err := seedCatalog(ctx, ldg, feed); err != nil {
			return err
		}
		supervisor.Add(catalog.NewRefresher(feed, ldg, cfg.Catalog.RefreshInterval))
	} else {
		logging.Warn().Msg("No catalog feed configured, relying on the existing item catalog")
	}

	err = supervisor.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}

	logging.Info().Msg("Server stopped")
	return nil
}

// seedCatalog fetches the product feed once at startup. A failed fetch
// is fatal only when the store holds no items yet; with an existing
// catalog the refresher will catch up later.
func seedCatalog(ctx context.Context, ldg *ledger.Ledger, feed *catalog.Client) error {
	entries, err := feed.Fetch(ctx)
	if err != nil {
		count, countErr := ldg.ItemCount(ctx)
		if countErr != nil {
			return fmt.Errorf("count items: %w", countErr)
		}
		if count == 0 {
			return fmt.Errorf("initial catalog fetch: %w", err)
		}
		logging.Warn().Err(err).Int64("items", count).
			Msg("Initial catalog fetch failed, serving existing catalog")
		return nil
	}

	added, err := ldg.LoadCatalog(ctx, entries)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	logging.Info().Int("fetched", len(entries)).Int("added", added).
		Msg("Catalog loaded")
	return nil
}

// logOutput resolves the configured log output name ("stderr", "stdout",
// or a file path) to a writer.
func logOutput(name string) (io.Writer, error) {
	switch name {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	default:
		return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
}

func closeQuietly(name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		logging.Warn().Err(err).Str("component", name).Msg("Close failed")
	}
}
