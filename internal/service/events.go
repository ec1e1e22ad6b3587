// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package service provides the event log used for audit trails.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/store"
)

// EventService writes and reads the events table. It implements
// workflow.Sink, recording every committed transition as a workflow event.
type EventService struct {
	queries *store.Queries
	logger  *slog.Logger
	now     func() time.Time
}

// NewEventService creates a new EventService.
func NewEventService(db *sql.DB, logger *slog.Logger) *EventService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventService{
		queries: store.New(db),
		logger:  logger,
		now:     time.Now,
	}
}

// LogEvent creates a new event log entry.
func (s *EventService) LogEvent(ctx context.Context, level, category, message string, userID *int64, metadata map[string]any) error {
	var nullUserID sql.NullInt64
	if userID != nil {
		nullUserID = sql.NullInt64{Int64: *userID, Valid: true}
	}

	metadataJSON := "{}"
	if metadata != nil {
		jsonBytes, err := json.Marshal(metadata)
		if err == nil {
			metadataJSON = string(jsonBytes)
		}
	}

	_, err := s.queries.CreateEvent(ctx, store.CreateEventParams{
		Level:     level,
		Category:  category,
		Message:   message,
		UserID:    nullUserID,
		Metadata:  metadataJSON,
		CreatedAt: s.now(),
	})
	if err != nil {
		// Debug only: WARN+ would be mirrored back into the events table.
		s.logger.Debug("failed to log event", "category", category, "error", err)
		return fmt.Errorf("logging event: %w", err)
	}
	return nil
}

// LogInfo logs an info-level event.
func (s *EventService) LogInfo(ctx context.Context, category, message string, userID *int64, metadata map[string]any) error {
	return s.LogEvent(ctx, model.EventLevelInfo, category, message, userID, metadata)
}

// LogLockEvent logs an edit-lock event.
func (s *EventService) LogLockEvent(ctx context.Context, message string, userID int64, contentID int64) error {
	return s.LogEvent(ctx, model.EventLevelInfo, model.EventCategoryLock, message, &userID, map[string]any{
		"content_id": contentID,
	})
}

// Emit implements workflow.Sink. System transitions are stored without a user.
func (s *EventService) Emit(ctx context.Context, ev model.TransitionEvent) error {
	tr := ev.Transition
	var userID *int64
	if tr.ActorID != model.SystemActorID {
		id := tr.ActorID
		userID = &id
	}

	meta := map[string]any{
		"event_id":   ev.ID,
		"content_id": tr.ContentID,
		"action":     tr.Action,
		"from_state": tr.FromState,
		"to_state":   tr.ToState,
		"version":    tr.Version,
		"system":     userID == nil,
	}
	if tr.Reason != "" {
		meta["reason"] = tr.Reason
	}

	msg := fmt.Sprintf("Content %d %s: %s -> %s", tr.ContentID, tr.Action, tr.FromState, tr.ToState)
	return s.LogEvent(ctx, model.EventLevelInfo, model.EventCategoryWorkflow, msg, userID, meta)
}

// ListEvents returns events newest first, optionally filtered by category.
func (s *EventService) ListEvents(ctx context.Context, category string, limit, offset int64) ([]model.Event, error) {
	var (
		rows []store.Event
		err  error
	)
	if category != "" {
		rows, err = s.queries.ListEventsByCategory(ctx, store.ListEventsByCategoryParams{Category: category, Limit: limit, Offset: offset})
	} else {
		rows, err = s.queries.ListEvents(ctx, store.ListEventsParams{Limit: limit, Offset: offset})
	}
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	out := make([]model.Event, 0, len(rows))
	for _, e := range rows {
		var userID *int64
		if e.UserID.Valid {
			id := e.UserID.Int64
			userID = &id
		}
		out = append(out, model.Event{
			ID:        e.ID,
			Level:     e.Level,
			Category:  e.Category,
			Message:   e.Message,
			UserID:    userID,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	return out, nil
}

// DeleteOldEvents removes events older than the specified duration and
// returns how many were deleted.
func (s *EventService) DeleteOldEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	n, err := s.queries.DeleteOldEvents(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		s.logger.Info("deleted old events", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
