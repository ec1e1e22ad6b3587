// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/olegiv/ocms-workflow/internal/store"
	"github.com/olegiv/ocms-workflow/internal/version"
)

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status      string           `json:"status"`
	Timestamp   time.Time        `json:"timestamp"`
	Uptime      string           `json:"uptime"`
	Version     string           `json:"version"`
	LockBackend string           `json:"lock_backend,omitempty"`
	Checks      map[string]Check `json:"checks"`
}

// Check represents a single health check result.
type Check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	h         *Handler
	startTime time.Time
}

// NewHealthHandler creates a health handler; uptime counts from now.
func NewHealthHandler(h *Handler) *HealthHandler {
	return &HealthHandler{h: h, startTime: time.Now()}
}

func (hh *HealthHandler) checkDatabase(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := store.Ping(ctx, hh.h.db); err != nil {
		hh.h.logger.Warn("health check: database unreachable", "error", err)
		return Check{Status: "unhealthy"}
	}
	return Check{Status: "healthy", Latency: time.Since(start).Round(time.Microsecond).String()}
}

// Health handles GET /health. It answers 503 when the database is unreachable.
func (hh *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	db := hh.checkDatabase(r.Context())

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(hh.startTime).Round(time.Second).String(),
		Version:   version.Get().Version,
		Checks:    map[string]Check{"database": db},
	}
	if hh.h.locks != nil {
		status.LockBackend = hh.h.locks.Backend()
	}

	code := http.StatusOK
	if db.Status != "healthy" {
		status.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// Liveness handles GET /health/live.
func (hh *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
