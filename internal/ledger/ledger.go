// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

// Package ledger implements the rating ledger: the transactional business
// logic that turns a rating submission into journal entries and histogram
// deltas, the orchestrator that serializes writers through the handle
// pool with contention retry, and the watermark-sync read paths.
//
// One Ledger is constructed per process. It owns the pool, the dedicated
// read handle and the current watermark; no mutation path bypasses it.
package ledger

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapline/tapline/internal/logging"
	"github.com/tapline/tapline/internal/pool"
	"github.com/tapline/tapline/internal/store"
)

// Config tunes the write-transaction contention retry.
type Config struct {
	// BeginAttempts is the total number of BEGIN IMMEDIATE attempts
	// before the write fails with ErrContention. Default 5.
	BeginAttempts int
	// BeginBackoff is the fixed pause between attempts. Default 100ms.
	BeginBackoff time.Duration
}

// Ledger coordinates all reads and writes of rating state.
type Ledger struct {
	pool   *pool.Pool
	reader *store.Reader
	cfg    Config
	log    zerolog.Logger

	// watermark is the next journal sequence number to expect. Seeded
	// from the store at construction, advanced only after a successful
	// commit, never decreased.
	watermark atomic.Int64
}

// New constructs the process-wide ledger, seeding the watermark from the
// journal's current tail.
func New(ctx context.Context, p *pool.Pool, r *store.Reader, cfg Config) (*Ledger, error) {
	if cfg.BeginAttempts <= 0 {
		cfg.BeginAttempts = 5
	}
	if cfg.BeginBackoff <= 0 {
		cfg.BeginBackoff = 100 * time.Millisecond
	}

	l := &Ledger{
		pool:   p,
		reader: r,
		cfg:    cfg,
		log:    logging.With().Str("component", "ledger").Logger(),
	}

	next, err := r.NextSeq(ctx)
	if err != nil {
		return nil, &StorageError{Op: "seed watermark", Err: err}
	}
	l.watermark.Store(next)

	l.log.Info().Int64("watermark", next).Msg("Ledger initialized")
	return l, nil
}

// Watermark returns the next journal sequence number a client should
// expect.
func (l *Ledger) Watermark() int64 {
	return l.watermark.Load()
}

// advanceWatermark raises the cached watermark to wm. Concurrent writers
// commit in store order, not call order, so a CAS loop keeps the cache
// monotonic regardless of which caller gets here first.
func (l *Ledger) advanceWatermark(wm int64) {
	for {
		cur := l.watermark.Load()
		if wm <= cur || l.watermark.CompareAndSwap(cur, wm) {
			return
		}
	}
}
