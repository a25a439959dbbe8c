// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

package catalog

import (
	"context"
	"time"

	"github.com/tapline/tapline/internal/logging"
	"github.com/tapline/tapline/internal/models"
)

// Loader is the slice of the ledger the refresher needs.
type Loader interface {
	LoadCatalog(ctx context.Context, entries []models.CatalogEntry) (int, error)
}

// Fetcher is the slice of the feed client the refresher needs.
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.CatalogEntry, error)
}

// Refresher keeps the item catalog in sync with the feed. It implements
// suture.Service: Serve runs until the context is cancelled, fetching and
// loading at startup and then on every interval tick. A failed fetch is
// logged and retried on the next tick; it never brings the service down.
type Refresher struct {
	fetcher  Fetcher
	loader   Loader
	interval time.Duration
}

// NewRefresher creates a refresher ticking at the given interval.
func NewRefresher(fetcher Fetcher, loader Loader, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Refresher{fetcher: fetcher, loader: loader, interval: interval}
}

// Serve implements suture.Service.
func (r *Refresher) Serve(ctx context.Context) error {
	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refresh(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// refresh performs one fetch-and-load cycle.
func (r *Refresher) refresh(ctx context.Context) {
	entries, err := r.fetcher.Fetch(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Catalog fetch failed, keeping current catalog")
		return
	}

	added, err := r.loader.LoadCatalog(ctx, entries)
	if err != nil {
		logging.Error().Err(err).Msg("Catalog load failed")
		return
	}
	logging.Debug().Int("entries", len(entries)).Int("added", added).Msg("Catalog refresh complete")
}

// String names the service in supervisor logs.
func (r *Refresher) String() string {
	return "catalog-refresher"
}
