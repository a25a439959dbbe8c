// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

// Package store owns all SQL against the SQLite database: the exclusive
// write handles the pool manages, the long-lived read handle, the schema,
// and the classification of driver errors.
//
// SQLite admits a single writer transaction at a time. Write handles are
// opened with busy_timeout=0 so BEGIN IMMEDIATE fails fast with
// SQLITE_BUSY instead of blocking inside the driver; the ledger's
// orchestrator owns the retry policy.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tapline/tapline/internal/models"
)

// Handle is one exclusive connection to the store, holding the prepared
// write-path statements and an in-use flag. Handles are never shared
// between concurrent callers; the pool enforces exclusivity through the
// flag.
type Handle struct {
	db    *sql.DB
	inUse atomic.Bool

	priorRating   *sql.Stmt
	itemExists    *sql.Stmt
	upsertRating  *sql.Stmt
	applyDelta    *sql.Stmt
	appendJournal *sql.Stmt
	insertItem    *sql.Stmt
}

// Open opens a new exclusive write handle on the database at path.
// The parent directory is created if missing.
func Open(path string) (*Handle, error) {
	db, err := openSQLite(path, writerPragmas)
	if err != nil {
		return nil, err
	}

	h := &Handle{db: db}
	for _, p := range []struct {
		stmt **sql.Stmt
		sql  string
	}{
		{&h.priorRating, `SELECT rating FROM user_ratings WHERE user_id = ? AND item_id = ?`},
		{&h.itemExists, `SELECT 1 FROM items WHERE item_id = ?`},
		{&h.upsertRating, `INSERT OR REPLACE INTO user_ratings (user_id, item_id, rating) VALUES (?, ?, ?)`},
		{&h.applyDelta, `UPDATE items SET r1 = r1 + ?, r2 = r2 + ?, r3 = r3 + ?, r4 = r4 + ?, r5 = r5 + ? WHERE item_id = ?`},
		{&h.appendJournal, `INSERT INTO journal (user_id, item_id, delta, created_at) VALUES (?, ?, ?, ?)`},
		{&h.insertItem, `INSERT INTO items (item_id, name, group_name) VALUES (?, ?, ?) ON CONFLICT(item_id) DO NOTHING`},
	} {
		*p.stmt, err = db.Prepare(p.sql)
		if err != nil {
			closeQuietly(db)
			return nil, fmt.Errorf("failed to prepare statement: %w", err)
		}
	}

	return h, nil
}

// openSQLite opens a database capped to one underlying connection and
// applies the given pragmas. One *sql.DB per handle keeps prepared
// statements, transaction state and the connection itself together.
func openSQLite(path string, pragmas []string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			closeQuietly(db)
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

var writerPragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	// Fail BEGIN IMMEDIATE immediately under contention; the transaction
	// orchestrator retries with its own backoff.
	"PRAGMA busy_timeout = 0",
}

// MarkInUse atomically claims the handle. It reports false if the handle
// was already claimed, which the pool treats as a validation failure.
func (h *Handle) MarkInUse() bool {
	return h.inUse.CompareAndSwap(false, true)
}

// ClearInUse releases the claim on the handle.
func (h *Handle) ClearInUse() {
	h.inUse.Store(false)
}

// InUse reports whether the handle is currently claimed.
func (h *Handle) InUse() bool {
	return h.inUse.Load()
}

// BeginImmediate starts a write transaction, taking the write lock up
// front. Under contention it fails with SQLITE_BUSY rather than waiting;
// classify with IsBusy.
func (h *Handle) BeginImmediate(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, "BEGIN IMMEDIATE TRANSACTION")
	return err
}

// Commit commits the open transaction.
func (h *Handle) Commit(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, "COMMIT TRANSACTION")
	return err
}

// Rollback aborts the open transaction.
func (h *Handle) Rollback(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, "ROLLBACK TRANSACTION")
	return err
}

// PriorRating returns the user's current live rating for the item, with
// ok=false when the user has not rated it.
func (h *Handle) PriorRating(ctx context.Context, userID, itemID string) (rating int, ok bool, err error) {
	err = h.priorRating.QueryRowContext(ctx, userID, itemID).Scan(&rating)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rating, true, nil
}

// ItemExists reports whether the item is present in the catalog.
func (h *Handle) ItemExists(ctx context.Context, itemID string) (bool, error) {
	var one int
	err := h.itemExists.QueryRowContext(ctx, itemID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpsertUserRating records the user's live rating for the item,
// overwriting any previous value.
func (h *Handle) UpsertUserRating(ctx context.Context, userID, itemID string, rating int) error {
	_, err := h.upsertRating.ExecContext(ctx, userID, itemID, rating)
	return err
}

// ApplyHistogramDelta applies the per-star delta vector to the item's
// counters in a single update. delta[0] adjusts r1 through delta[4] for r5.
func (h *Handle) ApplyHistogramDelta(ctx context.Context, itemID string, delta [5]int) error {
	_, err := h.applyDelta.ExecContext(ctx, delta[0], delta[1], delta[2], delta[3], delta[4], itemID)
	return err
}

// AppendJournal appends one journal row and returns its sequence number.
func (h *Handle) AppendJournal(ctx context.Context, userID, itemID string, delta int, at time.Time) (int64, error) {
	res, err := h.appendJournal.ExecContext(ctx, userID, itemID, delta, at.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertItem adds a catalog item if it is not already present. It reports
// whether a row was actually inserted; existing rows, including their
// rating counters, are left untouched.
func (h *Handle) InsertItem(ctx context.Context, entry models.CatalogEntry) (bool, error) {
	res, err := h.insertItem.ExecContext(ctx, entry.ItemID, entry.Name, entry.Group)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close finalizes the prepared statements and closes the connection.
func (h *Handle) Close() error {
	for _, stmt := range []*sql.Stmt{
		h.priorRating, h.itemExists, h.upsertRating,
		h.applyDelta, h.appendJournal, h.insertItem,
	} {
		if stmt != nil {
			closeQuietly(stmt)
		}
	}
	return h.db.Close()
}
