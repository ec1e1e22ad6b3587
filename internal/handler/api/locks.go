// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"context"
	"math"
	"net/http"
	"time"
)

// maxTTLSeconds is the largest TTL that converts to a time.Duration without overflow.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

// LockRequest is the optional body of POST /api/v1/content/{id}/lock.
type LockRequest struct {
	// TTLSeconds of zero uses the configured default.
	TTLSeconds int64 `json:"ttl_seconds,omitempty"`
}

// GetLock handles GET /api/v1/content/{id}/lock.
func (h *Handler) GetLock(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.engine.Content(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteSuccess(w, h.locks.Check(r.Context(), id), nil)
}

// AcquireLock handles POST /api/v1/content/{id}/lock. Acquiring a lock the
// caller already holds extends it.
func (h *Handler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	var req LockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.engine.Content(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	l, err := h.locks.Acquire(r.Context(), id, actor.UserID, requestedTTL(req.TTLSeconds))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logLockEvent(r.Context(), "Content lock acquired", actor.UserID, id)
	WriteSuccess(w, l, nil)
}

// ReleaseLock handles DELETE /api/v1/content/{id}/lock.
func (h *Handler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.locks.Release(r.Context(), id, actor.UserID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logLockEvent(r.Context(), "Content lock released", actor.UserID, id)
	w.WriteHeader(http.StatusNoContent)
}

// requestedTTL converts ttl_seconds to a duration. Values too large to
// represent saturate; the lock manager then clamps them to its maximum.
func requestedTTL(seconds int64) time.Duration {
	return time.Duration(min(seconds, maxTTLSeconds)) * time.Second
}

func (h *Handler) logLockEvent(ctx context.Context, msg string, userID, contentID int64) {
	if h.events == nil {
		return
	}
	if err := h.events.LogLockEvent(ctx, msg, userID, contentID); err != nil {
		h.logger.Warn("failed to record lock event", "content_id", contentID, "user_id", userID, "error", err)
	}
}
