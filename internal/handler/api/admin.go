// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/store"
	"github.com/olegiv/ocms-workflow/internal/webhook"
)

// ListJobs handles GET /api/v1/scheduler/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := h.registry.List()
	WriteSuccess(w, jobs, &Meta{Total: int64(len(jobs))})
}

// TriggerJob handles POST /api/v1/scheduler/jobs/{source}/{name}/trigger.
// The job runs synchronously on the request context.
func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	source, name := chi.URLParam(r, "source"), chi.URLParam(r, "name")
	start := time.Now()
	if err := h.registry.TriggerNow(r.Context(), source, name); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteSuccess(w, map[string]string{
		"status":   "completed",
		"duration": time.Since(start).String(),
	}, nil)
}

// ScheduleRequest is the body of PUT /api/v1/scheduler/jobs/{source}/{name}/schedule.
type ScheduleRequest struct {
	Schedule string `json:"schedule"`
}

// UpdateJobSchedule handles PUT /api/v1/scheduler/jobs/{source}/{name}/schedule.
func (h *Handler) UpdateJobSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Schedule == "" {
		WriteBadRequest(w, "schedule is required", nil)
		return
	}
	if err := h.registry.UpdateSchedule(r.Context(), chi.URLParam(r, "source"), chi.URLParam(r, "name"), req.Schedule); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.ListJobs(w, r)
}

// ResetJobSchedule handles DELETE /api/v1/scheduler/jobs/{source}/{name}/schedule.
func (h *Handler) ResetJobSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.ResetSchedule(r.Context(), chi.URLParam(r, "source"), chi.URLParam(r, "name")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.ListJobs(w, r)
}

// WebhookResponse represents a webhook in API responses.
type WebhookResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	// Secret is only returned when the webhook is created.
	Secret string `json:"secret,omitempty"`
}

func webhookToResponse(wh *model.Webhook) WebhookResponse {
	events := wh.GetEvents()
	if events == nil {
		events = []string{}
	}
	return WebhookResponse{
		ID:        wh.ID,
		Name:      wh.Name,
		URL:       wh.URL,
		Events:    events,
		IsActive:  wh.IsActive,
		CreatedAt: wh.CreatedAt,
	}
}

// ListWebhooks handles GET /api/v1/webhooks.
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.webhooks.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]WebhookResponse, 0, len(hooks))
	for _, wh := range hooks {
		out = append(out, webhookToResponse(wh))
	}
	WriteSuccess(w, out, &Meta{Total: int64(len(out))})
}

// CreateWebhook handles POST /api/v1/webhooks.
func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req webhook.SubscriptionInput
	if !decodeJSON(w, r, &req) {
		return
	}
	wh, err := h.webhooks.Create(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if h.events != nil {
		_ = h.events.LogInfo(r.Context(), model.EventCategoryWebhook, "Webhook created", &actor.UserID, map[string]any{
			"webhook_id": wh.ID,
			"url":        wh.URL,
		})
	}

	resp := webhookToResponse(wh)
	resp.Secret = wh.Secret
	WriteCreated(w, resp)
}

// DeleteWebhook handles DELETE /api/v1/webhooks/{id}.
func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.webhooks.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestWebhook handles POST /api/v1/webhooks/{id}/test.
func (h *Handler) TestWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	if h.dispatcher == nil {
		WriteError(w, http.StatusServiceUnavailable, "unavailable", "Webhook delivery is not running", nil)
		return
	}
	deliveryID, err := h.dispatcher.SendTest(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, Response{Data: map[string]int64{"delivery_id": deliveryID}})
}

// DeliveryResponse represents one webhook delivery in API responses.
type DeliveryResponse struct {
	ID           int64      `json:"id"`
	Event        string     `json:"event"`
	Status       string     `json:"status"`
	Attempts     int64      `json:"attempts"`
	ResponseCode *int64     `json:"response_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func deliveryToResponse(d store.WebhookDelivery) DeliveryResponse {
	resp := DeliveryResponse{
		ID:           d.ID,
		Event:        d.Event,
		Status:       d.Status,
		Attempts:     d.Attempts,
		ErrorMessage: d.ErrorMessage.String,
		NextRetryAt:  timePtr(d.NextRetryAt),
		DeliveredAt:  timePtr(d.DeliveredAt),
		CreatedAt:    d.CreatedAt,
	}
	if d.ResponseCode.Valid {
		code := d.ResponseCode.Int64
		resp.ResponseCode = &code
	}
	return resp
}

// ListDeliveries handles GET /api/v1/webhooks/{id}/deliveries.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	limit, _, ok := parseLimitOffset(w, r, 50, 500)
	if !ok {
		return
	}
	rows, err := h.webhooks.Deliveries(r.Context(), id, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]DeliveryResponse, 0, len(rows))
	for _, d := range rows {
		out = append(out, deliveryToResponse(d))
	}
	WriteSuccess(w, out, &Meta{Total: int64(len(out)), Limit: limit})
}

// ListEvents handles GET /api/v1/events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := parseLimitOffset(w, r, 50, 500)
	if !ok {
		return
	}
	events, err := h.events.ListEvents(r.Context(), r.URL.Query().Get("category"), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteSuccess(w, events, &Meta{Limit: limit, Offset: offset})
}
