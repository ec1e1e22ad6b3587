// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/workflow"
)

const timeFormat = time.RFC3339

// ContentResponse represents a content item in API responses.
type ContentResponse struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	State       model.State       `json:"state"`
	Version     int64             `json:"version"`
	AccessLevel model.AccessLevel `json:"access_level"`
	AuthorID    int64             `json:"author_id"`
	PublishAt   *time.Time        `json:"publish_at,omitempty"`
	UnpublishAt *time.Time        `json:"unpublish_at,omitempty"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	// AvailableActions is only set on single-item reads.
	AvailableActions []model.Action `json:"available_actions,omitempty"`
}

// CreateContentRequest represents the request body for creating content.
type CreateContentRequest struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	AccessLevel model.AccessLevel `json:"access_level,omitempty"`
}

// TransitionRequest represents the request body for applying a transition.
type TransitionRequest struct {
	Action          model.Action `json:"action"`
	ExpectedVersion int64        `json:"expected_version,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	PublishAt       *time.Time   `json:"publish_at,omitempty"`
	UnpublishAt     *time.Time   `json:"unpublish_at,omitempty"`
	Title           *string      `json:"title,omitempty"`
	Body            *string      `json:"body,omitempty"`
}

// TransitionResponse is returned after a committed transition.
type TransitionResponse struct {
	Content    ContentResponse  `json:"content"`
	Transition model.Transition `json:"transition"`
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func contentToResponse(c *model.Content) ContentResponse {
	return ContentResponse{
		ID:          c.ID,
		Title:       c.Title,
		Body:        c.Body,
		State:       c.State,
		Version:     c.Version,
		AccessLevel: c.AccessLevel,
		AuthorID:    c.AuthorID,
		PublishAt:   timePtr(c.PublishAt),
		UnpublishAt: timePtr(c.UnpublishAt),
		PublishedAt: timePtr(c.PublishedAt),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// CreateContent handles POST /api/v1/content.
func (h *Handler) CreateContent(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req CreateContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.engine.CreateContent(r.Context(), actor.UserID, workflow.NewContent{
		Title:       req.Title,
		Body:        req.Body,
		AccessLevel: req.AccessLevel,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteCreated(w, contentToResponse(c))
}

// ListContent handles GET /api/v1/content.
func (h *Handler) ListContent(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := parseLimitOffset(w, r, 50, 500)
	if !ok {
		return
	}
	items, total, err := h.engine.ListContent(r.Context(), model.State(r.URL.Query().Get("state")), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := make([]ContentResponse, 0, len(items))
	for _, c := range items {
		resp = append(resp, contentToResponse(c))
	}
	WriteSuccess(w, resp, &Meta{Total: total, Limit: limit, Offset: offset})
}

// GetContent handles GET /api/v1/content/{id}.
func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	c, err := h.engine.Content(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	actions, err := h.engine.AvailableActions(r.Context(), id, actor.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := contentToResponse(c)
	resp.AvailableActions = actions
	WriteSuccess(w, resp, nil)
}

// ApplyTransition handles POST /api/v1/content/{id}/transitions.
func (h *Handler) ApplyTransition(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	var req TransitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Action.Valid() {
		WriteBadRequest(w, "Unknown action", map[string]string{"action": string(req.Action)})
		return
	}
	if req.ExpectedVersion < 0 {
		WriteBadRequest(w, "expected_version must not be negative", nil)
		return
	}

	res, err := h.engine.ApplyTransition(r.Context(), id, req.Action, actor.UserID, workflow.TransitionContext{
		ExpectedVersion: req.ExpectedVersion,
		Reason:          req.Reason,
		PublishAt:       req.PublishAt,
		UnpublishAt:     req.UnpublishAt,
		Title:           req.Title,
		Body:            req.Body,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteSuccess(w, TransitionResponse{
		Content:    contentToResponse(res.Content),
		Transition: res.Transition,
	}, nil)
}

// ListTransitions handles GET /api/v1/content/{id}/transitions.
func (h *Handler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	history, err := h.engine.History(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []model.Transition{}
	}
	WriteSuccess(w, history, &Meta{Total: int64(len(history))})
}
