// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

// Package models defines the data structures shared across the Tapline
// application: catalog items, user ratings, journal entries and the
// watermark-sync payloads returned to polling clients.
package models

import "time"

// Item is one rateable catalog entry together with its current rating
// histogram. The five counters track how many users currently hold a live
// rating at each star value; superseded ratings are netted out, so
// R1+R2+R3+R4+R5 always equals the number of distinct users with a live
// rating for the item.
type Item struct {
	ItemID string `json:"itemId"`
	Name   string `json:"name"`
	Group  string `json:"group"`
	R1     int64  `json:"r1"`
	R2     int64  `json:"r2"`
	R3     int64  `json:"r3"`
	R4     int64  `json:"r4"`
	R5     int64  `json:"r5"`
}

// UserRating is one user's current live rating for one item. There is at
// most one per (user, item) pair; re-rating overwrites it in place.
type UserRating struct {
	ItemID string `json:"itemId"`
	Rating int    `json:"rating"`
}

// JournalEntry is one immutable row of the append-only change journal.
// Seq is assigned by the store at commit time and is strictly increasing.
// Delta is a signed star value: +n when a rating at n stars becomes live,
// -n when it is superseded.
type JournalEntry struct {
	Seq       int64     `json:"seq"`
	UserID    string    `json:"user"`
	ItemID    string    `json:"itemId"`
	Delta     int       `json:"delta"`
	CreatedAt time.Time `json:"createdAt"`
}

// JournalPage is the incremental-sync payload: every journal entry at or
// after the requested watermark, in sequence order, plus the watermark the
// client should present on its next poll.
type JournalPage struct {
	NewWatermark int64          `json:"newWatermark"`
	Entries      []JournalDelta `json:"entries"`
}

// JournalDelta is the client-facing projection of a journal entry. The
// user is deliberately omitted: sync consumers replay histogram deltas,
// they do not audit who produced them.
type JournalDelta struct {
	ItemID string `json:"itemId"`
	Delta  int    `json:"delta"`
}

// Snapshot is the full current aggregate state, one row per catalog item,
// plus the watermark to resume incremental sync from.
type Snapshot struct {
	NewWatermark int64  `json:"newWatermark"`
	Items        []Item `json:"items"`
}

// CatalogEntry is one item as supplied by the external catalog feed.
// Catalog loads only ever add items; counters of existing rows are never
// touched.
type CatalogEntry struct {
	ItemID string `json:"itemId"`
	Name   string `json:"name"`
	Group  string `json:"group"`
}
