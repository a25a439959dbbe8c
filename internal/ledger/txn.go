// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tapline/tapline/internal/metrics"
	"github.com/tapline/tapline/internal/pool"
	"github.com/tapline/tapline/internal/store"
)

// runInTxn runs fn inside one write transaction: acquire a handle from
// the pool, BEGIN IMMEDIATE with bounded retry under contention, then
// commit if fn succeeds or roll back if it fails. The handle is released
// exactly once on every exit path, including a panicking fn.
//
// The engine serializes writers, so contention on begin is an expected
// condition absorbed here, not a failure surfaced to callers until the
// retry budget is spent.
func (l *Ledger) runInTxn(ctx context.Context, fn func(ctx context.Context, h *store.Handle) error) error {
	waitStart := time.Now()
	h, err := l.pool.Acquire(ctx)
	metrics.PoolAcquireWait.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, pool.ErrExhausted):
			return fmt.Errorf("%w: %v", ErrPoolExhausted, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Nothing was acquired; nothing to clean up.
			return err
		default:
			return &StorageError{Op: "acquire handle", Err: err}
		}
	}

	stats := l.pool.Stats()
	metrics.RecordPoolStats(stats.InUse, stats.Idle)

	began := false
	defer func() {
		if p := recover(); p != nil {
			if began {
				if rbErr := h.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
					l.log.Error().Err(rbErr).Msg("Rollback after panic failed")
				}
			}
			l.pool.Release(h)
			panic(p)
		}
		l.pool.Release(h)
	}()

	txnStart := time.Now()
	if err := l.beginWithRetry(ctx, h); err != nil {
		return err
	}
	began = true

	// Once begun, the transaction runs to commit or rollback; commit and
	// rollback use a detached context so caller cancellation cannot
	// strand an open transaction on the handle.
	if err := fn(ctx, h); err != nil {
		if rbErr := h.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			l.log.Error().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}

	if err := h.Commit(context.WithoutCancel(ctx)); err != nil {
		return &StorageError{Op: "commit", Err: err}
	}

	metrics.TxnDuration.Observe(time.Since(txnStart).Seconds())
	return nil
}

// beginWithRetry issues BEGIN IMMEDIATE, retrying busy failures with a
// fixed backoff up to the configured attempt budget.
func (l *Ledger) beginWithRetry(ctx context.Context, h *store.Handle) error {
	attempt := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(l.cfg.BeginBackoff), uint64(l.cfg.BeginAttempts-1)),
		ctx,
	)

	err := backoff.Retry(func() error {
		err := h.BeginImmediate(ctx)
		if err == nil {
			return nil
		}
		if !store.IsBusy(err) {
			return backoff.Permanent(err)
		}
		attempt++
		if remaining := l.cfg.BeginAttempts - attempt; remaining > 0 {
			metrics.TxnBeginRetries.Inc()
			l.log.Warn().Int("remaining_attempts", remaining).Msg("Write lock busy, retrying begin")
		}
		return err
	}, policy)

	switch {
	case err == nil:
		return nil
	case store.IsBusy(err):
		return fmt.Errorf("%w: begin failed after %d attempts", ErrContention, l.cfg.BeginAttempts)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &StorageError{Op: "begin", Err: err}
	}
}
