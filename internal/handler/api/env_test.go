// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/olegiv/ocms-workflow/internal/lock"
	"github.com/olegiv/ocms-workflow/internal/metrics"
	"github.com/olegiv/ocms-workflow/internal/middleware"
	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/scheduler"
	"github.com/olegiv/ocms-workflow/internal/service"
	"github.com/olegiv/ocms-workflow/internal/store"
	"github.com/olegiv/ocms-workflow/internal/testutil"
	"github.com/olegiv/ocms-workflow/internal/webhook"
	"github.com/olegiv/ocms-workflow/internal/workflow"
)

// testEnv is a fully wired API backed by a temporary database.
type testEnv struct {
	db      *sql.DB
	router  http.Handler
	clock   *testutil.Clock
	metrics *metrics.Metrics
	keys    map[model.Role]string
	users   map[model.Role]int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, cleanup := testutil.TestDB(t)
	t.Cleanup(cleanup)

	logger := testutil.TestLoggerSilent()
	clock := testutil.NewClock(time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC))
	m := metrics.New()

	locks := lock.NewManager(lock.NewSQLStore(db), lock.DefaultConfig(), logger,
		lock.WithClock(clock.Now), lock.WithMetrics(m))
	events := service.NewEventService(db, logger)
	repo := store.NewContentRepository(db)
	engine := workflow.NewEngine(repo, store.NewUserRoles(db), logger,
		workflow.WithClock(clock.Now),
		workflow.WithLocks(locks),
		workflow.WithSink(events),
		workflow.WithMetrics(m),
	)

	registry := scheduler.NewRegistry(db, logger)
	sched := scheduler.New(engine, repo, logger, scheduler.WithClock(clock.Now), scheduler.WithMetrics(m))
	if err := sched.Register(registry, scheduler.DefaultSweepSchedule); err != nil {
		t.Fatalf("registering sweep: %v", err)
	}

	h := NewHandler(Deps{
		DB:         db,
		Engine:     engine,
		Locks:      locks,
		Registry:   registry,
		Events:     events,
		Webhooks:   webhook.NewSubscriptions(db, true),
		Dispatcher: webhook.NewDispatcher(db, logger, webhook.DefaultConfig()),
		Logger:     logger,
	})
	router := NewRouter(h, middleware.NewAuthenticator(db, logger), RouterConfig{
		Metrics: m.Handler(),
	})

	env := &testEnv{
		db:      db,
		router:  router,
		clock:   clock,
		metrics: m,
		keys:    make(map[model.Role]string),
		users:   make(map[model.Role]int64),
	}
	for _, role := range []model.Role{model.RoleAdmin, model.RoleEditor, model.RoleReviewer, model.RolePublisher} {
		id := testutil.CreateUser(t, db, role)
		env.users[role] = id
		env.keys[role] = testutil.CreateAPIKey(t, db, id)
	}
	return env
}

// do sends a request as role. An empty role sends no Authorization header.
func (env *testEnv) do(t *testing.T, role model.Role, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+env.keys[role])
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

// createContent creates a draft as the editor and returns it.
func (env *testEnv) createContent(t *testing.T, title string) ContentResponse {
	t.Helper()
	w := env.do(t, model.RoleEditor, http.MethodPost, "/api/v1/content", CreateContentRequest{Title: title, Body: "body"})
	requireStatus(t, w, http.StatusCreated)
	return unmarshalData[ContentResponse](t, w)
}

// transition applies action as role and returns the recorder.
func (env *testEnv) transition(t *testing.T, role model.Role, id int64, req TransitionRequest) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, role, http.MethodPost, contentPath(id)+"/transitions", req)
}

func contentPath(id int64) string {
	return "/api/v1/content/" + strconv.FormatInt(id, 10)
}

func requireStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, want, w.Body.String())
	}
}

// dataResponse is a generic wrapper for API responses with a "data" field.
type dataResponse[T any] struct {
	Data T     `json:"data"`
	Meta *Meta `json:"meta"`
}

// unmarshalData unmarshals a JSON response body into the specified type.
func unmarshalData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var resp dataResponse[T]
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return resp.Data
}

// errorCode returns the error code of an error response.
func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal error: %v (%s)", err, w.Body.String())
	}
	return resp.Error.Code
}
