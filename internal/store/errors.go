// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

package store

import (
	"errors"
	"io"

	"modernc.org/sqlite"
)

// Primary SQLite result codes this package classifies.
const (
	sqliteBusy   = 5 // SQLITE_BUSY: another connection holds the write lock
	sqliteLocked = 6 // SQLITE_LOCKED: a conflicting lock within this connection
)

// IsBusy reports whether err is lock contention from the engine, i.e. a
// failure that is safe to retry once the competing writer commits.
// Extended result codes keep the primary code in the low byte.
func IsBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqliteBusy, sqliteLocked:
		return true
	}
	return false
}

// closeQuietly closes a resource and explicitly ignores any error.
// Used in cleanup paths where Close() errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
