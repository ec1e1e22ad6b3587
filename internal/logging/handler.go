// Package logging provides a slog handler that mirrors warnings and errors
// into the database-backed event log.
package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/store"
)

// EventLogHandler is a slog.Handler that wraps another handler and also writes
// records at or above its level to the events table.
type EventLogHandler struct {
	inner   slog.Handler
	queries *store.Queries
	level   slog.Level // Minimum level to forward to the event log (default: WARN)
	attrs   []slog.Attr
	group   string
}

// NewEventLogHandler creates a handler that mirrors WARN and above.
func NewEventLogHandler(inner slog.Handler, db *sql.DB) *EventLogHandler {
	return NewEventLogHandlerWithLevel(inner, db, slog.LevelWarn)
}

// NewEventLogHandlerWithLevel creates a handler with a custom minimum level.
func NewEventLogHandlerWithLevel(inner slog.Handler, db *sql.DB, level slog.Level) *EventLogHandler {
	return &EventLogHandler{
		inner:   inner,
		queries: store.New(db),
		level:   level,
	}
}

// Enabled implements slog.Handler.
func (h *EventLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *EventLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level >= h.level {
		h.writeToEventLog(r)
	}
	return nil
}

// WithAttrs implements slog.Handler. The attrs are also kept for event metadata.
func (h *EventLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), h.qualify(attrs)...)
	return &clone
}

// WithGroup implements slog.Handler.
func (h *EventLogHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithGroup(name)
	if name != "" {
		if clone.group != "" {
			clone.group += "." + name
		} else {
			clone.group = name
		}
	}
	return &clone
}

func (h *EventLogHandler) qualify(attrs []slog.Attr) []slog.Attr {
	if h.group == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: h.group + "." + a.Key, Value: a.Value}
	}
	return out
}

// writeToEventLog stores r using a background context so cancelled
// requests still leave a trace. Write failures are dropped.
func (h *EventLogHandler) writeToEventLog(r slog.Record) {
	all := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	all = append(all, h.attrs...)
	var recAttrs []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		recAttrs = append(recAttrs, a)
		return true
	})
	all = append(all, h.qualify(recAttrs)...)

	category, userID, metadata := extractFields(r.Message, all)

	_, _ = h.queries.CreateEvent(context.Background(), store.CreateEventParams{
		Level:     slogLevelToEventLevel(r.Level),
		Category:  category,
		Message:   r.Message,
		UserID:    userID,
		Metadata:  metadata,
		CreatedAt: r.Time,
	})
}

// slogLevelToEventLevel converts a slog.Level to an event log level.
func slogLevelToEventLevel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return model.EventLevelError
	case level >= slog.LevelWarn:
		return model.EventLevelWarning
	default:
		return model.EventLevelInfo
	}
}

// extractFields pulls the category and acting user out of attrs and encodes
// the rest as a JSON object.
func extractFields(msg string, attrs []slog.Attr) (string, sql.NullInt64, string) {
	var (
		category string
		userID   sql.NullInt64
	)
	meta := make(map[string]any, len(attrs))
	for _, a := range attrs {
		v := a.Value.Resolve()
		switch a.Key {
		case "category":
			category = v.String()
			continue
		case "actor_id", "user_id":
			if v.Kind() == slog.KindInt64 && v.Int64() != model.SystemActorID {
				userID = sql.NullInt64{Int64: v.Int64(), Valid: true}
			}
		}
		if v.Kind() == slog.KindAny {
			if err, ok := v.Any().(error); ok {
				meta[a.Key] = err.Error()
				continue
			}
		}
		meta[a.Key] = v.Any()
	}
	if category == "" {
		category = inferCategory(msg, meta)
	}

	metadata := "{}"
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			metadata = string(b)
		} else {
			fallback := make(map[string]string, len(meta))
			for k, v := range meta {
				fallback[k] = slog.AnyValue(v).String()
			}
			if b, err := json.Marshal(fallback); err == nil {
				metadata = string(b)
			}
		}
	}
	return category, userID, metadata
}

// inferCategory guesses a category from the message and well-known attrs.
func inferCategory(msg string, meta map[string]any) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "webhook") || strings.Contains(m, "delivery"):
		return model.EventCategoryWebhook
	case strings.Contains(m, "lock"):
		return model.EventCategoryLock
	case strings.Contains(m, "sweep") || strings.Contains(m, "schedule") || strings.Contains(m, "cron"):
		return model.EventCategoryScheduler
	case strings.Contains(m, "transition") || strings.Contains(m, "content") || strings.Contains(m, "workflow"):
		return model.EventCategoryWorkflow
	case strings.Contains(m, "auth") || strings.Contains(m, "api key"):
		return model.EventCategoryAuth
	case strings.Contains(m, "config"):
		return model.EventCategoryConfig
	}
	if _, ok := meta["content_id"]; ok {
		return model.EventCategoryWorkflow
	}
	return model.EventCategorySystem
}
