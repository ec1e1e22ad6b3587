// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/store"
)

var (
	// ErrInvalidSubscription is returned for malformed webhook input.
	ErrInvalidSubscription = errors.New("webhook: invalid subscription")
	// ErrNotFound is returned when a webhook does not exist.
	ErrNotFound = errors.New("webhook: not found")
)

// EventTypes lists every event a webhook can subscribe to.
var EventTypes = []string{
	model.EventContentSubmitted,
	model.EventContentApproved,
	model.EventContentRejected,
	model.EventContentPublished,
	model.EventContentScheduled,
	model.EventContentUnpublished,
	model.EventContentDraftSaved,
}

// SubscriptionInput describes a new webhook.
type SubscriptionInput struct {
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Events  []string          `json:"events"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Subscriptions manages webhook registrations.
type Subscriptions struct {
	queries      *store.Queries
	allowPrivate bool
}

// NewSubscriptions creates a subscription manager. allowPrivate skips the
// URL address check and must match the dispatcher's setting.
func NewSubscriptions(db *sql.DB, allowPrivate bool) *Subscriptions {
	return &Subscriptions{queries: store.New(db), allowPrivate: allowPrivate}
}

// Create validates in and stores an active webhook with a generated secret.
// The secret is returned once on the result and never listed again.
func (s *Subscriptions) Create(ctx context.Context, in SubscriptionInput) (*model.Webhook, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidSubscription)
	}
	if len(in.Events) == 0 {
		return nil, fmt.Errorf("%w: at least one event is required", ErrInvalidSubscription)
	}
	for _, ev := range in.Events {
		if !slices.Contains(EventTypes, ev) {
			return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidSubscription, ev)
		}
	}
	if s.allowPrivate {
		if !strings.HasPrefix(in.URL, "http://") && !strings.HasPrefix(in.URL, "https://") {
			return nil, fmt.Errorf("%w: scheme must be http or https", ErrUnsafeURL)
		}
	} else if err := ValidateURL(ctx, in.URL); err != nil {
		return nil, err
	}

	secret, err := model.GenerateWebhookSecret()
	if err != nil {
		return nil, fmt.Errorf("generating webhook secret: %w", err)
	}
	events, err := json.Marshal(in.Events)
	if err != nil {
		return nil, err
	}
	headers := []byte("{}")
	if len(in.Headers) > 0 {
		if headers, err = json.Marshal(in.Headers); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	wh, err := s.queries.CreateWebhook(ctx, store.CreateWebhookParams{
		Name:      in.Name,
		Url:       in.URL,
		Secret:    secret,
		Events:    string(events),
		Headers:   string(headers),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("creating webhook: %w", err)
	}
	return webhookToModel(wh), nil
}

// List returns all webhooks.
func (s *Subscriptions) List(ctx context.Context) ([]*model.Webhook, error) {
	rows, err := s.queries.ListWebhooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	out := make([]*model.Webhook, 0, len(rows))
	for _, wh := range rows {
		out = append(out, webhookToModel(wh))
	}
	return out, nil
}

// Delete removes a webhook and its delivery history.
func (s *Subscriptions) Delete(ctx context.Context, id int64) error {
	n, err := s.queries.DeleteWebhook(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting webhook %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Deliveries returns the most recent deliveries for a webhook.
func (s *Subscriptions) Deliveries(ctx context.Context, id int64, limit int64) ([]store.WebhookDelivery, error) {
	if _, err := s.queries.GetWebhook(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.queries.ListDeliveriesForWebhook(ctx, store.ListDeliveriesForWebhookParams{WebhookID: id, Limit: limit})
}
