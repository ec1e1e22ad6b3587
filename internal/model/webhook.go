// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"slices"
	"time"
)

// Webhook event types, one per state a transition can enter.
const (
	EventContentSubmitted   = "content.submitted"
	EventContentApproved    = "content.approved"
	EventContentRejected    = "content.rejected"
	EventContentPublished   = "content.published"
	EventContentScheduled   = "content.scheduled"
	EventContentUnpublished = "content.unpublished"
	EventContentDraftSaved  = "content.draft_saved"

	// EventWebhookTest is sent on demand to check an endpoint.
	EventWebhookTest = "webhook.test"
)

// Delivery statuses. A failed delivery is retried until it is dead.
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusDead      = "dead"
)

// WebhookEventForState returns the webhook event type announced when content enters state.
func WebhookEventForState(s State) string {
	switch s {
	case StateSubmitted:
		return EventContentSubmitted
	case StateApproved:
		return EventContentApproved
	case StateRejected:
		return EventContentRejected
	case StatePublished:
		return EventContentPublished
	case StateScheduled:
		return EventContentScheduled
	case StateUnpublished:
		return EventContentUnpublished
	default:
		return EventContentDraftSaved
	}
}

// Webhook is a subscription to workflow events. Events and Headers hold the
// JSON text stored in the webhooks table.
type Webhook struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    string    `json:"-"`
	Headers   string    `json:"-"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GenerateWebhookSecret returns 32 random bytes, hex encoded, for HMAC signing.
func GenerateWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// decodeJSONColumn unmarshals a JSON text column into dst. Empty or malformed
// text leaves dst unchanged.
func decodeJSONColumn(raw string, dst any) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), dst)
}

// GetEvents returns the subscribed event types.
func (w *Webhook) GetEvents() []string {
	var events []string
	decodeJSONColumn(w.Events, &events)
	return events
}

// HasEvent reports whether the webhook subscribes to event.
func (w *Webhook) HasEvent(event string) bool {
	return slices.Contains(w.GetEvents(), event)
}

// GetHeaders returns the extra request headers. The map is never nil.
func (w *Webhook) GetHeaders() map[string]string {
	headers := make(map[string]string)
	decodeJSONColumn(w.Headers, &headers)
	return headers
}
