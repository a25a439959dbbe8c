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

	"github.com/tapline/tapline/internal/metrics"
	"github.com/tapline/tapline/internal/store"
)

// SubmitRating records one user's rating for one item and returns the
// resulting watermark.
//
// A fresh rating appends one journal entry (+rating); a revision appends
// two (-prior, +rating) so consumers replaying the journal net the old
// value out. Resubmitting an identical rating is a no-op returning the
// current watermark unchanged: client retries must not produce journal
// noise or histogram churn. All writes of one submission commit or roll
// back together.
func (l *Ledger) SubmitRating(ctx context.Context, userID, itemID string, rating int) (int64, error) {
	if userID == "" {
		metrics.RatingsSubmitted.WithLabelValues("invalid").Inc()
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if itemID == "" {
		metrics.RatingsSubmitted.WithLabelValues("invalid").Inc()
		return 0, fmt.Errorf("%w: item id is required", ErrInvalidInput)
	}
	if rating < 1 || rating > 5 {
		metrics.RatingsSubmitted.WithLabelValues("invalid").Inc()
		return 0, fmt.Errorf("%w: rating %d outside 1..5", ErrInvalidInput, rating)
	}

	var (
		wm       int64
		appended int
	)
	err := l.runInTxn(ctx, func(ctx context.Context, h *store.Handle) error {
		exists, err := h.ItemExists(ctx, itemID)
		if err != nil {
			return &StorageError{Op: "look up item", Err: err}
		}
		if !exists {
			return fmt.Errorf("%w: %q is not in the catalog", ErrUnknownItem, itemID)
		}

		prior, rated, err := h.PriorRating(ctx, userID, itemID)
		if err != nil {
			return &StorageError{Op: "look up prior rating", Err: err}
		}
		if rated && prior == rating {
			wm = l.Watermark()
			return nil
		}

		// Delta vector: net out the superseded value, count the new one.
		var delta [5]int
		if rated {
			delta[prior-1]--
		}
		delta[rating-1]++

		if err := h.UpsertUserRating(ctx, userID, itemID, rating); err != nil {
			return &StorageError{Op: "upsert user rating", Err: err}
		}
		if err := h.ApplyHistogramDelta(ctx, itemID, delta); err != nil {
			return &StorageError{Op: "update histogram", Err: err}
		}

		now := time.Now()
		var lastSeq int64
		if rated {
			if lastSeq, err = h.AppendJournal(ctx, userID, itemID, -prior, now); err != nil {
				return &StorageError{Op: "append journal", Err: err}
			}
			appended++
		}
		if lastSeq, err = h.AppendJournal(ctx, userID, itemID, rating, now); err != nil {
			return &StorageError{Op: "append journal", Err: err}
		}
		appended++

		wm = lastSeq + 1
		return nil
	})
	if err != nil {
		metrics.RatingsSubmitted.WithLabelValues(submitOutcome(err)).Inc()
		return 0, err
	}

	if appended > 0 {
		// Advance only after the commit has made the rows durable.
		l.advanceWatermark(wm)
		metrics.JournalAppends.Add(float64(appended))
		metrics.RatingsSubmitted.WithLabelValues("applied").Inc()
		l.log.Debug().
			Str("user", userID).
			Str("item", itemID).
			Int("rating", rating).
			Int64("watermark", wm).
			Msg("Rating applied")
	} else {
		metrics.RatingsSubmitted.WithLabelValues("unchanged").Inc()
	}

	return wm, nil
}

// submitOutcome maps an error to its metrics label.
func submitOutcome(err error) string {
	switch {
	case errors.Is(err, ErrUnknownItem):
		return "unknown_item"
	case errors.Is(err, ErrContention):
		return "contention"
	case errors.Is(err, ErrPoolExhausted):
		return "pool_exhausted"
	default:
		return "storage_error"
	}
}
