// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package webhook delivers workflow events to subscribed HTTP endpoints.
package webhook

import (
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/ocms-workflow/internal/model"
)

// Event is the JSON envelope POSTed to subscribers.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEvent creates an event with a fresh ID.
func NewEvent(eventType string, data any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ContentEventData describes a committed workflow transition.
type ContentEventData struct {
	ContentID int64        `json:"content_id"`
	Title     string       `json:"title"`
	Action    model.Action `json:"action"`
	FromState model.State  `json:"from_state"`
	ToState   model.State  `json:"to_state"`
	ActorID   int64        `json:"actor_id"`
	System    bool         `json:"system"`
	Reason    string       `json:"reason,omitempty"`
	Version   int64        `json:"version"`
}

// NewContentEvent maps a transition event to its webhook envelope. The
// envelope reuses the transition event ID so receivers can deduplicate.
func NewContentEvent(ev model.TransitionEvent) *Event {
	tr := ev.Transition
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Event{
		ID:        id,
		Type:      model.WebhookEventForState(tr.ToState),
		Timestamp: ev.OccurredAt.UTC(),
		Data: ContentEventData{
			ContentID: tr.ContentID,
			Title:     ev.Title,
			Action:    tr.Action,
			FromState: tr.FromState,
			ToState:   tr.ToState,
			ActorID:   tr.ActorID,
			System:    tr.ActorID == model.SystemActorID,
			Reason:    tr.Reason,
			Version:   tr.Version,
		},
	}
}

// TestEventData is the payload of a webhook.test delivery.
type TestEventData struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
