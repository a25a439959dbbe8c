// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

// Package pool implements the bounded pool of exclusive write handles.
//
// The store serializes writer transactions, so the pool is deliberately
// small: extra handles absorb short bursts of waiting writers, they do
// not add write concurrency. Acquire blocks the calling goroutine only;
// when no handle frees up within the acquire timeout it fails with
// ErrExhausted rather than hanging.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tapline/tapline/internal/logging"
	"github.com/tapline/tapline/internal/store"
)

var (
	// ErrExhausted means no handle became free within the acquire
	// timeout. Nothing was attempted; the caller may safely retry.
	ErrExhausted = errors.New("connection pool exhausted")

	// ErrClosed means the pool has been shut down.
	ErrClosed = errors.New("connection pool is closed")
)

// Factory opens a new write handle. Called while the pool grows toward
// its maximum and when a recycled handle is replaced.
type Factory func() (*store.Handle, error)

// Config bounds the pool.
type Config struct {
	// Min handles are opened eagerly and kept past idle recycling.
	Min int
	// Max caps handles open at once, checked out or idle.
	Max int
	// AcquireTimeout bounds how long Acquire waits for a free handle.
	AcquireTimeout time.Duration
	// IdleTimeout makes handles idle longer than this eligible for
	// recycling. Recycling only ever touches idle handles, never one
	// that is checked out.
	IdleTimeout time.Duration
}

type idleHandle struct {
	h     *store.Handle
	since time.Time
}

// Pool is a bounded set of exclusive store handles.
type Pool struct {
	cfg     Config
	factory Factory

	mu      sync.Mutex
	idle    []idleHandle // LIFO: most recently used first
	waiters []chan *store.Handle
	numOpen int
	closed  bool
}

// New creates a pool and eagerly opens cfg.Min handles.
func New(cfg Config, factory Factory) (*Pool, error) {
	p := &Pool{cfg: cfg, factory: factory}
	for i := 0; i < cfg.Min; i++ {
		h, err := factory()
		if err != nil {
			p.Close()
			return nil, err
		}
		p.numOpen++
		p.idle = append(p.idle, idleHandle{h: h, since: time.Now()})
	}
	return p, nil
}

// Acquire returns an exclusive handle, opening a new one while under the
// maximum, otherwise waiting until a handle is released, the context is
// done, or the acquire timeout fires (ErrExhausted).
func (p *Pool) Acquire(ctx context.Context) (*store.Handle, error) {
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	// Prefer an idle handle, recycling any that sat too long. The idle
	// list is LIFO so the stale ones accumulate at the bottom.
	for len(p.idle) > 0 {
		ih := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		if p.cfg.IdleTimeout > 0 && time.Since(ih.since) > p.cfg.IdleTimeout && p.numOpen > p.cfg.Min {
			p.numOpen--
			p.mu.Unlock()
			if err := ih.h.Close(); err != nil {
				logging.Warn().Err(err).Msg("Failed to close recycled handle")
			}
			p.mu.Lock()
			continue
		}
		if !ih.h.MarkInUse() {
			// Validation failed: somebody still claims this handle.
			// Drop it rather than hand out shared state.
			p.numOpen--
			p.mu.Unlock()
			logging.Error().Msg("Idle handle unexpectedly in use, discarding")
			if err := ih.h.Close(); err != nil {
				logging.Warn().Err(err).Msg("Failed to close discarded handle")
			}
			p.mu.Lock()
			continue
		}
		p.mu.Unlock()
		return ih.h, nil
	}

	if p.numOpen < p.cfg.Max {
		p.numOpen++
		p.mu.Unlock()
		h, err := p.factory()
		if err != nil {
			p.mu.Lock()
			p.numOpen--
			p.mu.Unlock()
			return nil, err
		}
		h.MarkInUse()
		return h, nil
	}

	// At capacity: queue up and wait for a release.
	ch := make(chan *store.Handle, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case h, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return h, nil
	case <-ctx.Done():
		if h := p.detachWaiter(ch); h != nil {
			// A release beat the cancellation; hand the handle back.
			p.Release(h)
		}
		return nil, ctx.Err()
	case <-timer.C:
		if h := p.detachWaiter(ch); h != nil {
			return h, nil
		}
		return nil, ErrExhausted
	}
}

// detachWaiter removes ch from the waiter queue. If the channel is no
// longer queued a release has already delivered to it (delivery happens
// under the pool lock), so the handle is received and returned.
func (p *Pool) detachWaiter(ch chan *store.Handle) *store.Handle {
	p.mu.Lock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return nil
		}
	}
	p.mu.Unlock()

	select {
	case h, ok := <-ch:
		if !ok {
			return nil
		}
		return h
	default:
		return nil
	}
}

// Release returns a handle to the pool, waking a waiter if one is
// queued. It must be called exactly once per successful Acquire.
func (p *Pool) Release(h *store.Handle) {
	h.ClearInUse()

	p.mu.Lock()
	if p.closed {
		p.numOpen--
		p.mu.Unlock()
		if err := h.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close handle released after pool shutdown")
		}
		return
	}

	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		h.MarkInUse()
		ch <- h // buffered; sent under the lock so detachWaiter can rely on it
		p.mu.Unlock()
		return
	}

	p.idle = append(p.idle, idleHandle{h: h, since: time.Now()})
	p.mu.Unlock()
}

// Stats is a point-in-time view of pool occupancy, exported for metrics.
type Stats struct {
	InUse   int
	Idle    int
	Waiters int
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		InUse:   p.numOpen - len(p.idle),
		Idle:    len(p.idle),
		Waiters: len(p.waiters),
	}
}

// Close shuts the pool down: idle handles are closed, queued waiters fail
// with ErrClosed, and handles still checked out are closed as they are
// released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	idle := p.idle
	p.idle = nil
	p.numOpen -= len(idle)
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	for _, ih := range idle {
		if err := ih.h.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close pooled handle on shutdown")
		}
	}
}
