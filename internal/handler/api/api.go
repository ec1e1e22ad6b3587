// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package api provides the JSON REST API for the content workflow.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/ocms-workflow/internal/lock"
	"github.com/olegiv/ocms-workflow/internal/middleware"
	"github.com/olegiv/ocms-workflow/internal/scheduler"
	"github.com/olegiv/ocms-workflow/internal/service"
	"github.com/olegiv/ocms-workflow/internal/webhook"
	"github.com/olegiv/ocms-workflow/internal/workflow"
)

// maxBodyBytes limits JSON request bodies.
const maxBodyBytes = 1 << 20

// Deps are the services the API exposes.
type Deps struct {
	DB       *sql.DB
	Engine   *workflow.Engine
	Locks    *lock.Manager
	Registry *scheduler.Registry
	Events   *service.EventService
	Webhooks *webhook.Subscriptions
	// Dispatcher sends on-demand test deliveries. Nil disables the test route.
	Dispatcher *webhook.Dispatcher
	Logger     *slog.Logger
}

// Handler holds shared dependencies for all API handlers.
type Handler struct {
	db         *sql.DB
	engine     *workflow.Engine
	locks      *lock.Manager
	registry   *scheduler.Registry
	events     *service.EventService
	webhooks   *webhook.Subscriptions
	dispatcher *webhook.Dispatcher
	logger     *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		db:         d.DB,
		engine:     d.Engine,
		locks:      d.Locks,
		registry:   d.Registry,
		events:     d.Events,
		webhooks:   d.Webhooks,
		dispatcher: d.Dispatcher,
		logger:     logger,
	}
}

// Response is the standard API response wrapper.
type Response struct {
	Data any   `json:"data,omitempty"`
	Meta *Meta `json:"meta,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Total  int64 `json:"total,omitempty"`
	Limit  int64 `json:"limit,omitempty"`
	Offset int64 `json:"offset,omitempty"`
}

// ErrorResponse is the standard API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful JSON response.
func WriteSuccess(w http.ResponseWriter, data any, meta *Meta) {
	WriteJSON(w, http.StatusOK, Response{Data: data, Meta: meta})
}

// WriteCreated writes a 201 Created JSON response.
func WriteCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, Response{Data: data})
}

// WriteError writes an error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details map[string]string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// WriteBadRequest writes a 400 Bad Request response.
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message, details)
}

// WriteNotFound writes a 404 Not Found response.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message, nil)
}

// WriteInternalError writes a 500 Internal Server Error response.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message, nil)
}

// writeServiceError maps domain errors to HTTP responses. Unknown errors
// are logged and reported as 500 without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var held *lock.HeldError
	switch {
	case errors.As(err, &held):
		WriteError(w, http.StatusLocked, "locked", err.Error(), map[string]string{
			"holder_id":  strconv.FormatInt(held.HolderID, 10),
			"expires_at": held.ExpiresAt.UTC().Format(timeFormat),
		})
	case errors.Is(err, lock.ErrLockHeld):
		WriteError(w, http.StatusLocked, "locked", err.Error(), nil)
	case errors.Is(err, lock.ErrNotLockOwner):
		WriteError(w, http.StatusForbidden, "not_lock_owner", err.Error(), nil)
	case errors.Is(err, lock.ErrInvalidTTL):
		WriteBadRequest(w, err.Error(), nil)
	case errors.Is(err, workflow.ErrNotFound):
		WriteNotFound(w, err.Error())
	case errors.Is(err, workflow.ErrPermissionDenied):
		WriteError(w, http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, workflow.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, workflow.ErrConcurrentModification):
		WriteError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, workflow.ErrPreconditionFailed):
		WriteError(w, http.StatusUnprocessableEntity, "precondition_failed", err.Error(), nil)
	case errors.Is(err, workflow.ErrInvalidInput),
		errors.Is(err, webhook.ErrInvalidSubscription),
		errors.Is(err, webhook.ErrUnsafeURL),
		errors.Is(err, scheduler.ErrInvalidSchedule):
		WriteBadRequest(w, err.Error(), nil)
	case errors.Is(err, scheduler.ErrJobNotFound), errors.Is(err, webhook.ErrNotFound):
		WriteNotFound(w, err.Error())
	case errors.Is(err, scheduler.ErrNotTriggerable):
		WriteError(w, http.StatusConflict, "not_triggerable", err.Error(), nil)
	default:
		h.logger.Error("api request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		WriteInternalError(w, "Internal server error")
	}
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, fmt.Sprintf("Invalid JSON body: %v", err), nil)
		return false
	}
	return true
}

// parseIDParam parses a positive int64 URL parameter.
func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		WriteBadRequest(w, "Invalid "+name, nil)
		return 0, false
	}
	return id, true
}

// parseLimitOffset reads limit and offset query parameters.
func parseLimitOffset(w http.ResponseWriter, r *http.Request, defLimit, maxLimit int64) (int64, int64, bool) {
	limit, offset := defLimit, int64(0)
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			WriteBadRequest(w, "Invalid limit", nil)
			return 0, 0, false
		}
		limit = min(n, maxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			WriteBadRequest(w, "Invalid offset", nil)
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// requireActor returns the authenticated actor. Routes are always mounted
// behind the authenticator, so a missing actor is a 401.
func requireActor(w http.ResponseWriter, r *http.Request) (middleware.Actor, bool) {
	actor, ok := middleware.GetActor(r)
	if !ok {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "API key required", nil)
	}
	return actor, ok
}
