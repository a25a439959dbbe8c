// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tapline/tapline/internal/models"
	"github.com/tapline/tapline/internal/pool"
	"github.com/tapline/tapline/internal/store"
)

type fixture struct {
	ledger *Ledger
	pool   *pool.Pool
	path   string
}

func newFixture(t *testing.T, cfg Config, poolCfg pool.Config) *fixture {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	if err := store.EnsureSchema(ctx, path); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	p, err := pool.New(poolCfg, func() (*store.Handle, error) {
		return store.Open(path)
	})
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	t.Cleanup(p.Close)

	r, err := store.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })

	l, err := New(ctx, p, r, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{ledger: l, pool: p, path: path}
}

func defaultFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t,
		Config{BeginAttempts: 5, BeginBackoff: 10 * time.Millisecond},
		pool.Config{Min: 1, Max: 2, AcquireTimeout: 2 * time.Second})
	f.loadCatalog(t,
		models.CatalogEntry{ItemID: "ale-1", Name: "Gold Ale", Group: "Northbrew"},
		models.CatalogEntry{ItemID: "stout-1", Name: "Dark Stout", Group: "Southcask"},
	)
	return f
}

func (f *fixture) loadCatalog(t *testing.T, entries ...models.CatalogEntry) int {
	t.Helper()
	added, err := f.ledger.LoadCatalog(context.Background(), entries)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	return added
}

func (f *fixture) snapshotItem(t *testing.T, itemID string) models.Item {
	t.Helper()
	snap, err := f.ledger.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for _, item := range snap.Items {
		if item.ItemID == itemID {
			return item
		}
	}
	t.Fatalf("item %q not in snapshot", itemID)
	return models.Item{}
}

// =====================================================
// Submission Semantics
// =====================================================

func TestSubmitRating_FreshRating(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	before := f.ledger.Watermark()
	wm, err := f.ledger.SubmitRating(ctx, "alice", "ale-1", 4)
	if err != nil {
		t.Fatalf("SubmitRating: %v", err)
	}
	if wm != before+1 {
		t.Errorf("watermark = %d, want %d", wm, before+1)
	}

	item := f.snapshotItem(t, "ale-1")
	if item.R4 != 1 {
		t.Errorf("r4 = %d, want 1", item.R4)
	}
	if item.R1+item.R2+item.R3+item.R5 != 0 {
		t.Errorf("other buckets touched: %+v", item)
	}

	page, err := f.ledger.JournalSince(ctx, before)
	if err != nil {
		t.Fatalf("JournalSince: %v", err)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(page.Entries))
	}
	if page.Entries[0].ItemID != "ale-1" || page.Entries[0].Delta != 4 {
		t.Errorf("journal entry = %+v, want {ale-1 4}", page.Entries[0])
	}
	if page.NewWatermark != wm {
		t.Errorf("NewWatermark = %d, want %d", page.NewWatermark, wm)
	}
}

func TestSubmitRating_RevisionNetsOutPrior(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	if _, err := f.ledger.SubmitRating(ctx, "alice", "ale-1", 2); err != nil {
		t.Fatalf("first SubmitRating: %v", err)
	}
	start := f.ledger.Watermark()
	wm, err := f.ledger.SubmitRating(ctx, "alice", "ale-1", 5)
	if err != nil {
		t.Fatalf("revision SubmitRating: %v", err)
	}
	if wm != start+2 {
		t.Errorf("watermark after revision = %d, want %d (two journal rows)", wm, start+2)
	}

	item := f.snapshotItem(t, "ale-1")
	if item.R2 != 0 {
		t.Errorf("r2 = %d, want 0 (prior netted out)", item.R2)
	}
	if item.R5 != 1 {
		t.Errorf("r5 = %d, want 1", item.R5)
	}

	page, err := f.ledger.JournalSince(ctx, start)
	if err != nil {
		t.Fatalf("JournalSince: %v", err)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("revision journal entries = %d, want 2", len(page.Entries))
	}
	if page.Entries[0].Delta != -2 || page.Entries[1].Delta != 5 {
		t.Errorf("revision deltas = %d,%d, want -2,5", page.Entries[0].Delta, page.Entries[1].Delta)
	}
}

func TestSubmitRating_IdenticalResubmitIsNoop(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	wm1, err := f.ledger.SubmitRating(ctx, "alice", "ale-1", 3)
	if err != nil {
		t.Fatalf("first SubmitRating: %v", err)
	}
	wm2, err := f.ledger.SubmitRating(ctx, "alice", "ale-1", 3)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if wm2 != wm1 {
		t.Errorf("resubmit watermark = %d, want %d unchanged", wm2, wm1)
	}

	item := f.snapshotItem(t, "ale-1")
	if item.R3 != 1 {
		t.Errorf("r3 = %d, want 1 (no double count)", item.R3)
	}

	page, err := f.ledger.JournalSince(ctx, wm1)
	if err != nil {
		t.Fatalf("JournalSince: %v", err)
	}
	if len(page.Entries) != 0 {
		t.Errorf("journal rows after no-op resubmit = %d, want 0", len(page.Entries))
	}
}

func TestSubmitRating_InvalidInput(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		user   string
		item   string
		rating int
	}{
		{"empty user", "", "ale-1", 3},
		{"empty item", "alice", "", 3},
		{"rating too low", "alice", "ale-1", 0},
		{"rating too high", "alice", "ale-1", 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ledger.SubmitRating(ctx, tc.user, tc.item, tc.rating)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestSubmitRating_UnknownItem(t *testing.T) {
	f := defaultFixture(t)

	before := f.ledger.Watermark()
	_, err := f.ledger.SubmitRating(context.Background(), "alice", "mystery", 3)
	if !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("error = %v, want ErrUnknownItem", err)
	}
	if f.ledger.Watermark() != before {
		t.Error("watermark moved on a rejected submission")
	}
}

// =====================================================
// Contention and Pool Exhaustion
// =====================================================

func TestSubmitRating_ContentionAfterRetries(t *testing.T) {
	f := newFixture(t,
		Config{BeginAttempts: 2, BeginBackoff: 10 * time.Millisecond},
		pool.Config{Min: 1, Max: 2, AcquireTimeout: 2 * time.Second})
	f.loadCatalog(t, models.CatalogEntry{ItemID: "ale-1", Name: "Gold Ale", Group: "Northbrew"})
	ctx := context.Background()

	// An outside writer holds the database write lock for the duration.
	blocker, err := store.Open(f.path)
	if err != nil {
		t.Fatalf("Open blocker: %v", err)
	}
	defer func() { _ = blocker.Close() }()
	if err := blocker.BeginImmediate(ctx); err != nil {
		t.Fatalf("blocker BeginImmediate: %v", err)
	}
	defer func() { _ = blocker.Rollback(ctx) }()

	_, err = f.ledger.SubmitRating(ctx, "alice", "ale-1", 4)
	if !errors.Is(err, ErrContention) {
		t.Fatalf("error = %v, want ErrContention", err)
	}
	if !Retryable(err) {
		t.Error("contention should be retryable")
	}

	stats := f.pool.Stats()
	if stats.InUse != 0 {
		t.Errorf("pool InUse after failure = %d, want 0", stats.InUse)
	}
}

func TestSubmitRating_ContentionClearsAfterBlockerCommits(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	blocker, err := store.Open(f.path)
	if err != nil {
		t.Fatalf("Open blocker: %v", err)
	}
	defer func() { _ = blocker.Close() }()
	if err := blocker.BeginImmediate(ctx); err != nil {
		t.Fatalf("blocker BeginImmediate: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = blocker.Rollback(context.Background())
	}()

	// Five attempts at 10ms spacing outlast the 20ms hold.
	wm, err := f.ledger.SubmitRating(ctx, "alice", "ale-1", 4)
	if err != nil {
		t.Fatalf("SubmitRating during transient contention: %v", err)
	}
	if wm == 0 {
		t.Error("watermark should advance once the lock clears")
	}
}

func TestSubmitRating_PoolExhausted(t *testing.T) {
	f := newFixture(t,
		Config{BeginAttempts: 5, BeginBackoff: 10 * time.Millisecond},
		pool.Config{Min: 1, Max: 1, AcquireTimeout: 50 * time.Millisecond})
	f.loadCatalog(t, models.CatalogEntry{ItemID: "ale-1", Name: "Gold Ale", Group: "Northbrew"})
	ctx := context.Background()

	h, err := f.pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer f.pool.Release(h)

	_, err = f.ledger.SubmitRating(ctx, "alice", "ale-1", 4)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("error = %v, want ErrPoolExhausted", err)
	}
	if !Retryable(err) {
		t.Error("pool exhaustion should be retryable")
	}
}

func TestRunInTxn_ReleasesHandleOnPanic(t *testing.T) {
	f := defaultFixture(t)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the panic to propagate")
			}
		}()
		_ = f.ledger.runInTxn(context.Background(), func(context.Context, *store.Handle) error {
			panic("boom")
		})
	}()

	stats := f.pool.Stats()
	if stats.InUse != 0 {
		t.Errorf("pool InUse after panic = %d, want 0", stats.InUse)
	}
}

// =====================================================
// Watermark Sync
// =====================================================

func TestWatermark_MonotonicAcrossSubmissions(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	last := f.ledger.Watermark()
	submissions := []struct {
		user   string
		item   string
		rating int
	}{
		{"alice", "ale-1", 3},
		{"bob", "ale-1", 5},
		{"alice", "ale-1", 3}, // no-op
		{"alice", "stout-1", 1},
		{"alice", "ale-1", 4}, // revision
	}
	for _, s := range submissions {
		wm, err := f.ledger.SubmitRating(ctx, s.user, s.item, s.rating)
		if err != nil {
			t.Fatalf("SubmitRating(%s,%s,%d): %v", s.user, s.item, s.rating, err)
		}
		if wm < last {
			t.Errorf("watermark went backwards: %d after %d", wm, last)
		}
		last = wm
	}
}

func TestJournalSince_EmptyJournal(t *testing.T) {
	f := defaultFixture(t)

	page, err := f.ledger.JournalSince(context.Background(), 0)
	if err != nil {
		t.Fatalf("JournalSince: %v", err)
	}
	if len(page.Entries) != 0 {
		t.Errorf("entries = %d, want 0", len(page.Entries))
	}
	if page.NewWatermark != 1 {
		t.Errorf("NewWatermark on empty journal = %d, want 1", page.NewWatermark)
	}
}

func TestJournalSince_NegativeWatermark(t *testing.T) {
	f := defaultFixture(t)

	_, err := f.ledger.JournalSince(context.Background(), -1)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}

func TestJournalSince_IncrementalPolling(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	watermark := f.ledger.Watermark()
	if _, err := f.ledger.SubmitRating(ctx, "alice", "ale-1", 3); err != nil {
		t.Fatalf("SubmitRating: %v", err)
	}

	page, err := f.ledger.JournalSince(ctx, watermark)
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("first poll entries = %d, want 1", len(page.Entries))
	}
	watermark = page.NewWatermark

	// Nothing new: same watermark comes back, no entries.
	page, err = f.ledger.JournalSince(ctx, watermark)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(page.Entries) != 0 {
		t.Errorf("second poll entries = %d, want 0", len(page.Entries))
	}
	if page.NewWatermark != watermark {
		t.Errorf("idle poll watermark = %d, want %d", page.NewWatermark, watermark)
	}

	if _, err := f.ledger.SubmitRating(ctx, "bob", "stout-1", 5); err != nil {
		t.Fatalf("SubmitRating: %v", err)
	}
	page, err = f.ledger.JournalSince(ctx, watermark)
	if err != nil {
		t.Fatalf("third poll: %v", err)
	}
	if len(page.Entries) != 1 || page.Entries[0].ItemID != "stout-1" {
		t.Errorf("third poll entries = %+v, want single stout-1 row", page.Entries)
	}
}

func TestReplayConsistency_JournalFoldMatchesSnapshot(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	submissions := []struct {
		user   string
		item   string
		rating int
	}{
		{"alice", "ale-1", 2},
		{"bob", "ale-1", 4},
		{"alice", "ale-1", 5},
		{"carol", "stout-1", 3},
		{"bob", "ale-1", 4}, // no-op
		{"carol", "stout-1", 1},
		{"dave", "ale-1", 5},
	}
	for _, s := range submissions {
		if _, err := f.ledger.SubmitRating(ctx, s.user, s.item, s.rating); err != nil {
			t.Fatalf("SubmitRating(%s,%s,%d): %v", s.user, s.item, s.rating, err)
		}
	}

	page, err := f.ledger.JournalSince(ctx, 1)
	if err != nil {
		t.Fatalf("JournalSince: %v", err)
	}

	// Fold the journal into histograms from scratch.
	folded := map[string]*[5]int64{}
	for _, e := range page.Entries {
		h := folded[e.ItemID]
		if h == nil {
			h = &[5]int64{}
			folded[e.ItemID] = h
		}
		if e.Delta > 0 {
			h[e.Delta-1]++
		} else {
			h[-e.Delta-1]--
		}
	}

	snap, err := f.ledger.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for _, item := range snap.Items {
		h := folded[item.ItemID]
		if h == nil {
			h = &[5]int64{}
		}
		got := [5]int64{item.R1, item.R2, item.R3, item.R4, item.R5}
		if got != *h {
			t.Errorf("item %s: snapshot %v != journal fold %v", item.ItemID, got, *h)
		}
	}
	if snap.NewWatermark != page.NewWatermark {
		t.Errorf("snapshot watermark %d != journal watermark %d", snap.NewWatermark, page.NewWatermark)
	}
}

// =====================================================
// Reads
// =====================================================

func TestUserRatings(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	if _, err := f.ledger.SubmitRating(ctx, "alice", "ale-1", 4); err != nil {
		t.Fatalf("SubmitRating: %v", err)
	}
	if _, err := f.ledger.SubmitRating(ctx, "alice", "stout-1", 2); err != nil {
		t.Fatalf("SubmitRating: %v", err)
	}

	ratings, err := f.ledger.UserRatings(ctx, "alice")
	if err != nil {
		t.Fatalf("UserRatings: %v", err)
	}
	if len(ratings) != 2 {
		t.Fatalf("ratings = %d, want 2", len(ratings))
	}

	_, err = f.ledger.UserRatings(ctx, "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty user error = %v, want ErrInvalidInput", err)
	}
}

func TestLoadCatalog_Idempotent(t *testing.T) {
	f := defaultFixture(t)

	added := f.loadCatalog(t,
		models.CatalogEntry{ItemID: "ale-1", Name: "Gold Ale", Group: "Northbrew"},
		models.CatalogEntry{ItemID: "porter-1", Name: "Night Porter", Group: "Northbrew"},
	)
	if added != 1 {
		t.Errorf("added = %d, want 1 (ale-1 already present)", added)
	}

	count, err := f.ledger.ItemCount(context.Background())
	if err != nil {
		t.Fatalf("ItemCount: %v", err)
	}
	if count != 3 {
		t.Errorf("item count = %d, want 3", count)
	}
}

func TestLoadCatalog_PreservesCountersForExistingItems(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	if _, err := f.ledger.SubmitRating(ctx, "alice", "ale-1", 5); err != nil {
		t.Fatalf("SubmitRating: %v", err)
	}
	f.loadCatalog(t, models.CatalogEntry{ItemID: "ale-1", Name: "Gold Ale", Group: "Northbrew"})

	item := f.snapshotItem(t, "ale-1")
	if item.R5 != 1 {
		t.Errorf("r5 after catalog reload = %d, want 1", item.R5)
	}
}

// =====================================================
// Concurrency
// =====================================================

func TestSubmitRating_ConcurrentUsers(t *testing.T) {
	f := newFixture(t,
		Config{BeginAttempts: 20, BeginBackoff: 10 * time.Millisecond},
		pool.Config{Min: 1, Max: 4, AcquireTimeout: 5 * time.Second})
	f.loadCatalog(t, models.CatalogEntry{ItemID: "ale-1", Name: "Gold Ale", Group: "Northbrew"})
	ctx := context.Background()

	users := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
	var wg sync.WaitGroup
	errCh := make(chan error, len(users))
	for i, u := range users {
		wg.Add(1)
		go func(user string, rating int) {
			defer wg.Done()
			if _, err := f.ledger.SubmitRating(ctx, user, "ale-1", rating); err != nil {
				errCh <- err
			}
		}(u, i%5+1)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent SubmitRating: %v", err)
	}

	item := f.snapshotItem(t, "ale-1")
	total := item.R1 + item.R2 + item.R3 + item.R4 + item.R5
	if total != int64(len(users)) {
		t.Errorf("total ratings = %d, want %d", total, len(users))
	}

	if f.ledger.Watermark() != int64(len(users))+1 {
		t.Errorf("watermark = %d, want %d", f.ledger.Watermark(), len(users)+1)
	}
}
