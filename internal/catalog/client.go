// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

// Package catalog talks to the external festival feed that defines which
// items exist. The feed is the only source of item identity; catalog
// loads may add items but never touch the rating counters of existing
// ones.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tapline/tapline/internal/logging"
	"github.com/tapline/tapline/internal/metrics"
	"github.com/tapline/tapline/internal/models"
)

// maxFeedBytes caps how much feed we are willing to read; the feed is a
// few hundred KB in practice.
const maxFeedBytes = 16 << 20

// feedDocument mirrors the festival feed payload: producers each carrying
// their products.
type feedDocument struct {
	Producers []feedProducer `json:"producers"`
}

type feedProducer struct {
	Name     string        `json:"name"`
	Products []feedProduct `json:"products"`
}

type feedProduct struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client fetches and flattens the catalog feed. Calls go through a
// circuit breaker so a festival website melting down under load does not
// tie up refresh cycles in timeouts.
type Client struct {
	url  string
	http *http.Client
	cb   *gobreaker.CircuitBreaker[[]models.CatalogEntry]
}

// NewClient creates a feed client for the given URL.
func NewClient(feedURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cbName := "catalog-feed"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]models.CatalogEntry](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Catalog breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &Client{
		url:  feedURL,
		http: &http.Client{Timeout: timeout},
		cb:   cb,
	}
}

// Fetch retrieves the feed and flattens it to catalog entries, one per
// product, with the producer name as the item's group.
func (c *Client) Fetch(ctx context.Context) ([]models.CatalogEntry, error) {
	entries, err := c.cb.Execute(func() ([]models.CatalogEntry, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			metrics.CatalogFetches.WithLabelValues("rejected").Inc()
		} else {
			metrics.CatalogFetches.WithLabelValues("failure").Inc()
		}
		return nil, err
	}
	metrics.CatalogFetches.WithLabelValues("success").Inc()
	return entries, nil
}

func (c *Client) fetch(ctx context.Context) ([]models.CatalogEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}

	var doc feedDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	entries := make([]models.CatalogEntry, 0, 256)
	for _, producer := range doc.Producers {
		for _, product := range producer.Products {
			entries = append(entries, models.CatalogEntry{
				ItemID: product.ID,
				Name:   product.Name,
				Group:  producer.Name,
			})
		}
	}
	return entries, nil
}

// breakerStateValue maps a gobreaker state to its gauge value.
func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
