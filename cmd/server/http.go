// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tapline/tapline/internal/config"
	"github.com/tapline/tapline/internal/logging"
)

// httpService runs the HTTP listener under the supervision tree. A
// listener failure surfaces as a service error and the supervisor
// restarts it.
type httpService struct {
	cfg    config.ServerConfig
	server *http.Server
}

func newHTTPService(cfg config.ServerConfig, handler http.Handler) *httpService {
	return &httpService{
		cfg: cfg,
		server: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Serve implements suture.Service.
func (s *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
		closeQuietly("http server", s.server)
	}
	return ctx.Err()
}

func (s *httpService) String() string { return "http-server" }
