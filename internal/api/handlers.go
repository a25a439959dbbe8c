// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

// Package api provides the HTTP boundary over the rating ledger: Chi
// routing, request validation, and the mapping from the ledger's error
// taxonomy to status codes.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tapline/tapline/internal/ledger"
	"github.com/tapline/tapline/internal/logging"
	"github.com/tapline/tapline/internal/models"
)

// Handler carries the ledger and request validation state for all
// endpoints.
type Handler struct {
	ledger   *ledger.Ledger
	validate *validator.Validate
}

// NewHandler creates the API handler set.
func NewHandler(l *ledger.Ledger) *Handler {
	return &Handler{
		ledger:   l,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// submitRequest is the rating submission payload. The user identifier is
// trusted as-is; there is no authentication at this boundary.
type submitRequest struct {
	User   string `json:"user" validate:"required"`
	ItemID string `json:"itemId" validate:"required"`
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
}

type submitResponse struct {
	ItemID    string `json:"itemId"`
	Rating    int    `json:"rating"`
	Watermark int64  `json:"watermark"`
}

// SubmitRating handles POST /api/v1/ratings.
func (h *Handler) SubmitRating(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	wm, err := h.ledger.SubmitRating(r.Context(), req.User, req.ItemID, req.Rating)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, submitResponse{
		ItemID:    req.ItemID,
		Rating:    req.Rating,
		Watermark: wm,
	})
}

// journalResponse carries journal entries as parallel arrays, the shape
// the sync clients consume.
type journalResponse struct {
	NewWatermark int64          `json:"newWatermark"`
	Journal      journalColumns `json:"journal"`
}

type journalColumns struct {
	ItemIDs []string `json:"itemIds"`
	Deltas  []int    `json:"deltas"`
}

// Journal handles GET /api/v1/ratings/journal?watermark=N.
func (h *Handler) Journal(w http.ResponseWriter, r *http.Request) {
	watermark := int64(0)
	if raw := r.URL.Query().Get("watermark"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "INVALID_WATERMARK", "watermark must be a non-negative integer")
			return
		}
		watermark = parsed
	}

	page, err := h.ledger.JournalSince(r.Context(), watermark)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	resp := journalResponse{
		NewWatermark: page.NewWatermark,
		Journal: journalColumns{
			ItemIDs: make([]string, len(page.Entries)),
			Deltas:  make([]int, len(page.Entries)),
		},
	}
	for i, e := range page.Entries {
		resp.Journal.ItemIDs[i] = e.ItemID
		resp.Journal.Deltas[i] = e.Delta
	}
	respondJSON(w, http.StatusOK, resp)
}

// Snapshot handles GET /api/v1/ratings/snapshot.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ledger.Snapshot(r.Context())
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// UserRatings handles GET /api/v1/ratings/user?user=U.
func (h *Handler) UserRatings(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	ratings, err := h.ledger.UserRatings(r.Context(), userID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	if ratings == nil {
		ratings = []models.UserRating{}
	}
	respondJSON(w, http.StatusOK, ratings)
}

// HealthLive handles GET /api/v1/health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /api/v1/health/ready: the process is ready
// once the store answers on the read handle.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Ready(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// apiError is the error response body.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError writes a structured error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, apiError{Error: apiErrorBody{Code: code, Message: message}})
}

// respondLedgerError maps the ledger's error taxonomy onto HTTP status
// codes. The transient classes carry Retry-After so well-behaved clients
// back off instead of hammering the write slot.
func respondLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, ledger.ErrUnknownItem):
		respondError(w, http.StatusNotFound, "UNKNOWN_ITEM", err.Error())
	case errors.Is(err, ledger.ErrContention):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "CONTENTION", "the ledger is busy, retry shortly")
	case errors.Is(err, ledger.ErrPoolExhausted):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "POOL_EXHAUSTED", "no write capacity available, retry shortly")
	default:
		logging.Error().Err(err).Msg("Storage failure")
		respondError(w, http.StatusInternalServerError, "STORAGE_FAILURE", "the write could not be confirmed")
	}
}
