// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

package store

import (
	"context"
	"fmt"
)

// Schema. The journal's implicit rowid is the sequence number of the
// watermark protocol; journal rows are append-only and never deleted, so
// rowids are never reused and the sequence is strictly increasing.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS items (
		item_id    TEXT NOT NULL PRIMARY KEY ON CONFLICT IGNORE,
		name       TEXT NOT NULL,
		group_name TEXT NOT NULL,
		r1 INTEGER NOT NULL DEFAULT 0,
		r2 INTEGER NOT NULL DEFAULT 0,
		r3 INTEGER NOT NULL DEFAULT 0,
		r4 INTEGER NOT NULL DEFAULT 0,
		r5 INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS user_ratings (
		user_id TEXT    NOT NULL,
		item_id TEXT    NOT NULL REFERENCES items(item_id),
		rating  INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
		PRIMARY KEY (user_id, item_id) ON CONFLICT REPLACE
	)`,
	`CREATE TABLE IF NOT EXISTS journal (
		user_id    TEXT    NOT NULL,
		item_id    TEXT    NOT NULL REFERENCES items(item_id),
		delta      INTEGER NOT NULL CHECK (delta BETWEEN -5 AND 5 AND delta != 0),
		created_at TEXT    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_ratings_user ON user_ratings(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_item ON journal(item_id)`,
}

// EnsureSchema creates the tables and indexes if they do not exist. It
// opens its own short-lived connection so it can run before any handle or
// reader is constructed.
func EnsureSchema(ctx context.Context, path string) error {
	db, err := openSQLite(path, writerPragmas)
	if err != nil {
		return err
	}
	defer closeQuietly(db)

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
