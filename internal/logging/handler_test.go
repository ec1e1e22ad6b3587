package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/store"
	"github.com/olegiv/ocms-workflow/internal/testutil"
)

// discardHandler is a slog.Handler that discards all logs.
type discardHandler struct{}

func (h discardHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (h discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h discardHandler) WithGroup(string) slog.Handler             { return h }

func newTestLogger(t *testing.T) (*slog.Logger, *sql.DB) {
	t.Helper()
	db := testutil.TestMemoryDB(t)
	return slog.New(NewEventLogHandler(discardHandler{}, db)), db
}

func listEvents(t *testing.T, db *sql.DB) []store.Event {
	t.Helper()
	events, err := store.New(db).ListEvents(context.Background(), store.ListEventsParams{Limit: 50})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	return events
}

func TestEventLogHandler_Levels(t *testing.T) {
	tests := []struct {
		name      string
		log       func(*slog.Logger)
		wantLevel string
		captured  bool
	}{
		{"error", func(l *slog.Logger) { l.Error("db failed") }, model.EventLevelError, true},
		{"warn", func(l *slog.Logger) { l.Warn("slow query") }, model.EventLevelWarning, true},
		{"info", func(l *slog.Logger) { l.Info("started") }, "", false},
		{"debug", func(l *slog.Logger) { l.Debug("details") }, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, db := newTestLogger(t)
			tt.log(logger)

			events := listEvents(t, db)
			if !tt.captured {
				if len(events) != 0 {
					t.Errorf("expected no events, got %d", len(events))
				}
				return
			}
			if len(events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(events))
			}
			if events[0].Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", events[0].Level, tt.wantLevel)
			}
		})
	}
}

func TestEventLogHandler_CustomLevel(t *testing.T) {
	db := testutil.TestMemoryDB(t)
	logger := slog.New(NewEventLogHandlerWithLevel(discardHandler{}, db, slog.LevelInfo))

	logger.Info("content transition applied", "content_id", int64(4))

	events := listEvents(t, db)
	if len(events) != 1 || events[0].Level != model.EventLevelInfo {
		t.Fatalf("events = %+v", events)
	}
}

func TestEventLogHandler_CategoryInference(t *testing.T) {
	tests := []struct {
		msg  string
		args []any
		want string
	}{
		{"webhook delivery marked as dead", nil, model.EventCategoryWebhook},
		{"lock backend unavailable", nil, model.EventCategoryLock},
		{"sweep transition failed", nil, model.EventCategoryScheduler},
		{"emitting transition event", nil, model.EventCategoryWorkflow},
		{"invalid API key presented", nil, model.EventCategoryAuth},
		{"config reload failed", nil, model.EventCategoryConfig},
		{"something odd", []any{"content_id", int64(1)}, model.EventCategoryWorkflow},
		{"something odd", nil, model.EventCategorySystem},
		{"webhook failure", []any{"category", model.EventCategoryAuth}, model.EventCategoryAuth},
	}

	for _, tt := range tests {
		t.Run(tt.msg+"/"+tt.want, func(t *testing.T) {
			logger, db := newTestLogger(t)
			logger.Warn(tt.msg, tt.args...)

			events := listEvents(t, db)
			if len(events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(events))
			}
			if events[0].Category != tt.want {
				t.Errorf("Category = %q, want %q", events[0].Category, tt.want)
			}
		})
	}
}

func TestEventLogHandler_Metadata(t *testing.T) {
	logger, db := newTestLogger(t)

	logger.Error("sweep transition failed",
		"content_id", int64(42),
		"action", model.ActionPublish,
		"actor_id", int64(9),
		"error", errors.New(`disk "full"`),
		"duration", 1500*time.Millisecond,
	)

	events := listEvents(t, db)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if !ev.UserID.Valid || ev.UserID.Int64 != 9 {
		t.Errorf("UserID = %+v, want 9", ev.UserID)
	}

	var meta map[string]any
	if err := json.Unmarshal([]byte(ev.Metadata), &meta); err != nil {
		t.Fatalf("metadata is not valid JSON: %v (%s)", err, ev.Metadata)
	}
	if meta["content_id"] != float64(42) {
		t.Errorf("content_id = %v", meta["content_id"])
	}
	if meta["error"] != `disk "full"` {
		t.Errorf("error = %v", meta["error"])
	}
	if meta["action"] != "publish" {
		t.Errorf("action = %v", meta["action"])
	}
}

func TestEventLogHandler_SystemActorHasNoUser(t *testing.T) {
	logger, db := newTestLogger(t)
	logger.Warn("sweep skipped content", "actor_id", model.SystemActorID)

	events := listEvents(t, db)
	if len(events) != 1 || events[0].UserID.Valid {
		t.Errorf("events = %+v, want no user", events)
	}
}

func TestEventLogHandler_WithAttrsAndGroup(t *testing.T) {
	db := testutil.TestMemoryDB(t)
	base := NewEventLogHandler(discardHandler{}, db)

	logger := slog.New(base.WithAttrs([]slog.Attr{slog.String("component", "scheduler")}).WithGroup("job"))
	logger.Error("scheduled job failed", "name", "publish-sweep")

	events := listEvents(t, db)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(events[0].Metadata), &meta); err != nil {
		t.Fatal(err)
	}
	if meta["component"] != "scheduler" || meta["job.name"] != "publish-sweep" {
		t.Errorf("metadata = %v", meta)
	}

	// The parent handler is unaffected.
	slog.New(base).Error("plain")
	events = listEvents(t, db)
	if events[0].Metadata != "{}" {
		t.Errorf("parent metadata = %s, want {}", events[0].Metadata)
	}
}

func TestEventLogHandler_MultipleEvents(t *testing.T) {
	logger, db := newTestLogger(t)

	logger.Error("error 1")
	logger.Warn("warning 1")
	logger.Error("error 2")
	logger.Warn("warning 2")
	logger.Info("info 1")

	count, err := store.New(db).CountEvents(context.Background())
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if count != 4 {
		t.Errorf("expected 4 events (2 errors + 2 warnings), got %d", count)
	}
}

func TestSlogLevelToEventLevel(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, model.EventLevelInfo},
		{slog.LevelInfo, model.EventLevelInfo},
		{slog.LevelWarn, model.EventLevelWarning},
		{slog.LevelError, model.EventLevelError},
		{slog.LevelError + 4, model.EventLevelError},
	}
	for _, tt := range tests {
		if got := slogLevelToEventLevel(tt.level); got != tt.want {
			t.Errorf("slogLevelToEventLevel(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}
