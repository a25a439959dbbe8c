// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

package ledger

import (
	"context"
	"fmt"

	"github.com/tapline/tapline/internal/metrics"
	"github.com/tapline/tapline/internal/models"
	"github.com/tapline/tapline/internal/store"
)

// Read paths run on the dedicated read handle, outside the write pool,
// so pollers never compete with writers for the single write slot.

// JournalSince returns every journal entry at or after the given
// watermark plus the watermark to present on the next poll.
func (l *Ledger) JournalSince(ctx context.Context, watermark int64) (*models.JournalPage, error) {
	if watermark < 0 {
		return nil, fmt.Errorf("%w: watermark must be >= 0, got %d", ErrInvalidInput, watermark)
	}

	entries, lastSeq, err := l.reader.JournalSince(ctx, watermark)
	if err != nil {
		return nil, &StorageError{Op: "read journal", Err: err}
	}

	// The cached watermark can trail a commit that the read already
	// observed; take whichever is further along so the client never
	// steps backwards.
	next := l.Watermark()
	if lastSeq+1 > next {
		next = lastSeq + 1
	}

	return &models.JournalPage{NewWatermark: next, Entries: entries}, nil
}

// Snapshot returns the full current aggregate state, one row per item,
// plus the watermark to resume incremental sync from.
func (l *Ledger) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	items, err := l.reader.SnapshotItems(ctx)
	if err != nil {
		return nil, &StorageError{Op: "read snapshot", Err: err}
	}
	return &models.Snapshot{NewWatermark: l.Watermark(), Items: items}, nil
}

// UserRatings returns all live ratings held by one user.
func (l *Ledger) UserRatings(ctx context.Context, userID string) ([]models.UserRating, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	ratings, err := l.reader.UserRatings(ctx, userID)
	if err != nil {
		return nil, &StorageError{Op: "read user ratings", Err: err}
	}
	return ratings, nil
}

// LoadCatalog inserts the given catalog entries, skipping ones already
// present. Existing items keep their counters untouched; loading is
// idempotent and only ever adds. Returns the number of items added.
func (l *Ledger) LoadCatalog(ctx context.Context, entries []models.CatalogEntry) (int, error) {
	added := 0
	err := l.runInTxn(ctx, func(ctx context.Context, h *store.Handle) error {
		for _, e := range entries {
			if e.ItemID == "" {
				l.log.Warn().Str("name", e.Name).Msg("Skipping catalog entry without item id")
				continue
			}
			inserted, err := h.InsertItem(ctx, e)
			if err != nil {
				return &StorageError{Op: "insert catalog item", Err: err}
			}
			if inserted {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if added > 0 {
		metrics.CatalogItemsAdded.Add(float64(added))
		l.log.Info().Int("added", added).Int("total_entries", len(entries)).Msg("Catalog loaded")
	}
	return added, nil
}

// ItemCount returns the number of items currently in the catalog.
func (l *Ledger) ItemCount(ctx context.Context) (int64, error) {
	n, err := l.reader.ItemCount(ctx)
	if err != nil {
		return 0, &StorageError{Op: "count items", Err: err}
	}
	return n, nil
}

// Ready reports whether the ledger's read handle can reach the store.
// Used by the readiness probe.
func (l *Ledger) Ready(ctx context.Context) error {
	return l.reader.Ping(ctx)
}
