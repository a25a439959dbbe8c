// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tapline/tapline/internal/models"
)

// Reader is the long-lived read handle. Sync and snapshot queries run
// here, outside the write pool, so they never contend for the single
// write slot. With WAL journaling a reader observes the last committed
// state and never a partially applied transaction.
type Reader struct {
	db *sql.DB

	journalSince *sql.Stmt
	snapshot     *sql.Stmt
	userRatings  *sql.Stmt
}

var readerPragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	// Reads only ever wait on a checkpoint, not on writers; a generous
	// budget here beats surfacing SQLITE_BUSY to pollers.
	"PRAGMA busy_timeout = 5000",
	"PRAGMA query_only = ON",
}

// OpenReader opens the dedicated read handle on the database at path.
func OpenReader(path string) (*Reader, error) {
	db, err := openSQLite(path, readerPragmas)
	if err != nil {
		return nil, err
	}

	r := &Reader{db: db}
	for _, p := range []struct {
		stmt **sql.Stmt
		sql  string
	}{
		{&r.journalSince, `SELECT rowid, item_id, delta FROM journal WHERE rowid >= ? ORDER BY rowid ASC`},
		{&r.snapshot, `SELECT item_id, name, group_name, r1, r2, r3, r4, r5 FROM items ORDER BY item_id ASC`},
		{&r.userRatings, `SELECT item_id, rating FROM user_ratings WHERE user_id = ? ORDER BY item_id ASC`},
	} {
		*p.stmt, err = db.Prepare(p.sql)
		if err != nil {
			closeQuietly(db)
			return nil, fmt.Errorf("failed to prepare read statement: %w", err)
		}
	}

	return r, nil
}

// JournalSince returns every journal entry with sequence number >= since,
// in ascending sequence order, together with the highest sequence number
// read (0 when no rows matched). Ascending order matters: later entries
// can depend on earlier ones when a consumer replays deltas.
func (r *Reader) JournalSince(ctx context.Context, since int64) ([]models.JournalDelta, int64, error) {
	rows, err := r.journalSince.QueryContext(ctx, since)
	if err != nil {
		return nil, 0, err
	}
	defer closeQuietly(rows)

	entries := []models.JournalDelta{}
	var lastSeq int64
	for rows.Next() {
		var e models.JournalDelta
		if err := rows.Scan(&lastSeq, &e.ItemID, &e.Delta); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, lastSeq, rows.Err()
}

// SnapshotItems returns the full current aggregate state, one row per
// catalog item.
func (r *Reader) SnapshotItems(ctx context.Context) ([]models.Item, error) {
	rows, err := r.snapshot.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	items := []models.Item{}
	for rows.Next() {
		var it models.Item
		if err := rows.Scan(&it.ItemID, &it.Name, &it.Group, &it.R1, &it.R2, &it.R3, &it.R4, &it.R5); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UserRatings returns all live ratings held by one user.
func (r *Reader) UserRatings(ctx context.Context, userID string) ([]models.UserRating, error) {
	rows, err := r.userRatings.QueryContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	ratings := []models.UserRating{}
	for rows.Next() {
		var ur models.UserRating
		if err := rows.Scan(&ur.ItemID, &ur.Rating); err != nil {
			return nil, err
		}
		ratings = append(ratings, ur)
	}
	return ratings, rows.Err()
}

// NextSeq returns the sequence number the next journal append will
// receive: one past the highest committed row, 1 for an empty journal.
// Used to seed the ledger's watermark at startup.
func (r *Reader) NextSeq(ctx context.Context) (int64, error) {
	var maxSeq int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(rowid), 0) FROM journal`).Scan(&maxSeq)
	if err != nil {
		return 0, err
	}
	return maxSeq + 1, nil
}

// ItemCount returns the number of catalog items.
func (r *Reader) ItemCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n)
	return n, err
}

// Ping checks that the read handle is alive.
func (r *Reader) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close finalizes the prepared statements and closes the connection.
func (r *Reader) Close() error {
	for _, stmt := range []*sql.Stmt{r.journalSince, r.snapshot, r.userRatings} {
		if stmt != nil {
			closeQuietly(stmt)
		}
	}
	return r.db.Close()
}
