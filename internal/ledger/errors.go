// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

package ledger

import (
	"errors"
	"fmt"
)

// Error taxonomy of the ledger. Every error the ledger returns matches
// exactly one of these classes via errors.Is/errors.As, so callers can
// tell "nothing happened, retrying is safe" apart from "outcome
// uncertain, do not blindly retry".
var (
	// ErrInvalidInput marks a malformed request, rejected before any
	// transaction is opened. No side effects.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownItem marks a rating for an item not present in the
	// catalog. The transaction is rolled back; nothing is created.
	ErrUnknownItem = errors.New("unknown item")

	// ErrContention means the begin-transaction retries were exhausted
	// while another writer held the lock. Transient; nothing happened.
	ErrContention = errors.New("write lock contention")

	// ErrPoolExhausted means no write handle became free within the
	// acquire timeout. Transient; nothing was attempted.
	ErrPoolExhausted = errors.New("write pool exhausted")
)

// StorageError wraps a failure reported by the storage engine itself.
// It is never retried automatically: a failed commit in particular leaves
// the transaction's fate ambiguous and must be surfaced as-is.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error is from a class that guarantees no
// state was changed, making an immediate retry safe. Storage failures are
// excluded: after a failed commit the write may or may not have landed.
func Retryable(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrContention) ||
		errors.Is(err, ErrPoolExhausted)
}
