// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/testutil"
)

// simpleOKHandler returns an http.Handler that writes 200 OK.
var simpleOKHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func executeAuthRequest(handler http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func executeWithActor(handler http.Handler, actor Actor) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req = req.WithContext(WithActor(req.Context(), actor))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var resp APIError
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error body %q: %v", w.Body.String(), err)
	}
	return resp
}

func newAuthenticator(t *testing.T) (*Authenticator, *sql.DB) {
	t.Helper()
	db := testutil.TestMemoryDB(t)
	return NewAuthenticator(db, testutil.TestLoggerSilent()), db
}

func TestWriteAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteAPIError(w, http.StatusBadRequest, "bad_request", "Invalid input", map[string]string{"field": "title"})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp := decodeAPIError(t, w)
	if resp.Error.Code != "bad_request" || resp.Error.Message != "Invalid input" {
		t.Errorf("error = %+v", resp.Error)
	}
	if resp.Error.Details["field"] != "title" {
		t.Errorf("details = %v", resp.Error.Details)
	}
}

func TestAuthenticator_Rejects(t *testing.T) {
	auth, db := newAuthenticator(t)
	ctx := context.Background()

	inactiveUser := testutil.CreateUser(t, db, model.RoleEditor)
	inactive := testutil.CreateAPIKey(t, db, inactiveUser)
	if _, err := db.ExecContext(ctx, `UPDATE api_keys SET is_active = 0 WHERE user_id = ?`, inactiveUser); err != nil {
		t.Fatal(err)
	}

	expiredUser := testutil.CreateUser(t, db, model.RoleEditor)
	expired := testutil.CreateAPIKey(t, db, expiredUser)
	if _, err := db.ExecContext(ctx, `UPDATE api_keys SET expires_at = ? WHERE user_id = ?`, time.Now().Add(-time.Hour).UTC(), expiredUser); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "Missing Authorization header"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "Invalid Authorization header format. Use: Bearer <api_key>"},
		{"no token", "Bearer", "Invalid Authorization header format. Use: Bearer <api_key>"},
		{"empty token", "Bearer  ", "API key is empty"},
		{"unknown key", "Bearer nope", "Invalid API key"},
		{"inactive key", "Bearer " + inactive, "API key is inactive"},
		{"expired key", "Bearer " + expired, "API key has expired"},
	}

	handler := auth.Middleware(simpleOKHandler)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := executeAuthRequest(handler, tt.header)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if msg := decodeAPIError(t, w).Error.Message; msg != tt.message {
				t.Errorf("message = %q, want %q", msg, tt.message)
			}
		})
	}
}

func TestAuthenticator_ResolvesActor(t *testing.T) {
	auth, db := newAuthenticator(t)
	userID := testutil.CreateUser(t, db, model.RoleReviewer)
	rawKey := testutil.CreateAPIKey(t, db, userID)

	var got Actor
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetActor(r)
		w.WriteHeader(http.StatusOK)
	}))

	w := executeAuthRequest(handler, "bearer "+rawKey)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got.UserID != userID || got.Role != model.RoleReviewer || got.KeyID == 0 {
		t.Errorf("actor = %+v", got)
	}
	if got.KeyPrefix != rawKey[:model.KeyPrefixLen] {
		t.Errorf("KeyPrefix = %q, want %q", got.KeyPrefix, rawKey[:model.KeyPrefixLen])
	}
}

func TestGetActor_NoActor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := GetActor(req); ok {
		t.Error("expected no actor")
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		role   model.Role
		want   model.Role
		status int
	}{
		{"exact role", model.RolePublisher, model.RolePublisher, http.StatusOK},
		{"admin satisfies human role", model.RoleAdmin, model.RolePublisher, http.StatusOK},
		{"other role", model.RoleEditor, model.RoleAdmin, http.StatusForbidden},
		{"admin is not system", model.RoleAdmin, model.RoleSystem, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireRole(tt.want)(simpleOKHandler)
			w := executeWithActor(handler, Actor{UserID: 1, Role: tt.role, KeyID: 1})
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}

	t.Run("no actor", func(t *testing.T) {
		w := executeAuthRequest(RequireRole(model.RoleEditor)(simpleOKHandler), "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}

func TestAPIRateLimit(t *testing.T) {
	handler := APIRateLimit(1, 2)(simpleOKHandler)
	first := Actor{UserID: 1, Role: model.RoleEditor, KeyID: 1}
	second := Actor{UserID: 2, Role: model.RoleEditor, KeyID: 2}

	for i := range 2 {
		if w := executeWithActor(handler, first); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := executeWithActor(handler, first)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if code := decodeAPIError(t, w).Error.Code; code != "rate_limit_exceeded" {
		t.Errorf("code = %q", code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	// Each key has its own bucket.
	if w := executeWithActor(handler, second); w.Code != http.StatusOK {
		t.Errorf("second key status = %d, want 200", w.Code)
	}

	// Requests without an actor are not limited here.
	for range 5 {
		if w := executeAuthRequest(handler, ""); w.Code != http.StatusOK {
			t.Fatalf("anonymous status = %d, want 200", w.Code)
		}
	}
}

func TestAPIRateLimit_Disabled(t *testing.T) {
	handler := APIRateLimit(0, 0)(simpleOKHandler)
	actor := Actor{KeyID: 1}
	for range 10 {
		if w := executeWithActor(handler, actor); w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
	}
}

func TestIPRateLimit(t *testing.T) {
	handler := IPRateLimit(1, 1)(simpleOKHandler)

	send := func(remote, realIP, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = remote
		if realIP != "" {
			req.Header.Set("X-Real-IP", realIP)
		}
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("10.0.0.1:1234", "", ""); code != http.StatusOK {
		t.Fatalf("first = %d", code)
	}
	if code := send("10.0.0.1:5678", "", ""); code != http.StatusTooManyRequests {
		t.Errorf("same host, new port = %d, want 429", code)
	}
	if code := send("10.0.0.2:1234", "", ""); code != http.StatusOK {
		t.Errorf("other host = %d, want 200", code)
	}
	if code := send("10.0.0.9:1", "", "203.0.113.7, 10.0.0.1"); code != http.StatusOK {
		t.Errorf("forwarded client = %d, want 200", code)
	}
	if code := send("10.0.0.9:1", "203.0.113.7", ""); code != http.StatusTooManyRequests {
		t.Errorf("same client via X-Real-IP = %d, want 429", code)
	}
}

func TestLimiterCache_Bounded(t *testing.T) {
	lc := newLimiterCache[int](1, 1)
	for i := range maxLimiters + 5 {
		lc.get(i)
	}
	lc.mu.RLock()
	n := len(lc.limiters)
	lc.mu.RUnlock()
	if n > maxLimiters {
		t.Errorf("cache size = %d, want <= %d", n, maxLimiters)
	}
}
