// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/olegiv/ocms-workflow/internal/middleware"
	"github.com/olegiv/ocms-workflow/internal/model"
)

// RouterConfig configures the HTTP surface.
type RouterConfig struct {
	// RateLimit and RateBurst apply per API key. Zero disables limiting.
	RateLimit float64
	RateBurst int
	// PublicRateLimit and PublicRateBurst apply per client IP before authentication.
	PublicRateLimit float64
	PublicRateBurst int
	// RequestTimeout bounds each API request. Zero uses 30s.
	RequestTimeout time.Duration
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// LogRequests enables the chi request logger.
	LogRequests bool
	// Development disables HSTS.
	Development bool
}

// NewRouter builds the chi router for the API.
func NewRouter(h *Handler, auth *middleware.Authenticator, cfg RouterConfig) chi.Router {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	health := NewHealthHandler(h)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if cfg.LogRequests {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.GetHead)
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig(cfg.Development)))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteNotFound(w, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
	})

	r.Get("/health", health.Health)
	r.Get("/health/live", health.Liveness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.IPRateLimit(cfg.PublicRateLimit, cfg.PublicRateBurst))
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(auth.Middleware)
		r.Use(middleware.APIRateLimit(cfg.RateLimit, cfg.RateBurst))

		r.Get("/content", h.ListContent)
		r.Post("/content", h.CreateContent)
		r.Route("/content/{id}", func(r chi.Router) {
			r.Get("/", h.GetContent)
			r.Get("/transitions", h.ListTransitions)
			r.Post("/transitions", h.ApplyTransition)
			r.Get("/lock", h.GetLock)
			r.Post("/lock", h.AcquireLock)
			r.Delete("/lock", h.ReleaseLock)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))

			r.Get("/scheduler/jobs", h.ListJobs)
			r.Post("/scheduler/jobs/{source}/{name}/trigger", h.TriggerJob)
			r.Put("/scheduler/jobs/{source}/{name}/schedule", h.UpdateJobSchedule)
			r.Delete("/scheduler/jobs/{source}/{name}/schedule", h.ResetJobSchedule)

			r.Get("/webhooks", h.ListWebhooks)
			r.Post("/webhooks", h.CreateWebhook)
			r.Delete("/webhooks/{id}", h.DeleteWebhook)
			r.Get("/webhooks/{id}/deliveries", h.ListDeliveries)
			r.Post("/webhooks/{id}/test", h.TestWebhook)

			r.Get("/events", h.ListEvents)
		})
	})

	return r
}
