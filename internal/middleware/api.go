// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package middleware provides HTTP middleware for API key authentication,
// role checks, rate limiting and request timeouts.
package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/store"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

// ContextKeyActor is the context key for the authenticated Actor.
const ContextKeyActor ContextKey = "actor"

// maxLimiters bounds the per-key limiter cache.
const maxLimiters = 10000

// Actor is the user a request acts as, resolved from its API key.
type Actor struct {
	UserID    int64
	Role      model.Role
	KeyID     int64
	KeyPrefix string
}

// APIError represents a JSON error response for the API.
type APIError struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details,omitempty"`
	} `json:"error"`
}

// WriteAPIError writes a JSON error response.
func WriteAPIError(w http.ResponseWriter, statusCode int, code, message string, details map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	apiErr := APIError{}
	apiErr.Error.Code = code
	apiErr.Error.Message = message
	apiErr.Error.Details = details

	_ = json.NewEncoder(w).Encode(apiErr)
}

// Authenticator validates Bearer API keys and resolves them to an Actor.
type Authenticator struct {
	queries *store.Queries
	logger  *slog.Logger
	now     func() time.Time
}

// NewAuthenticator creates an Authenticator backed by db.
func NewAuthenticator(db *sql.DB, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		queries: store.New(db),
		logger:  logger,
		now:     time.Now,
	}
}

// authenticate parses the Authorization header and resolves the actor.
// On failure it writes the error response and returns false.
func (a *Authenticator) authenticate(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Missing Authorization header", nil)
		return Actor{}, false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Invalid Authorization header format. Use: Bearer <api_key>", nil)
		return Actor{}, false
	}

	rawKey := strings.TrimSpace(parts[1])
	if rawKey == "" {
		WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "API key is empty", nil)
		return Actor{}, false
	}

	apiKey, err := a.queries.GetAPIKeyByHash(r.Context(), model.HashAPIKey(rawKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key", nil)
		} else {
			a.logger.Error("failed to validate API key", "error", err)
			WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to validate API key", nil)
		}
		return Actor{}, false
	}

	if !apiKey.IsActive {
		WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "API key is inactive", nil)
		return Actor{}, false
	}
	if apiKey.ExpiresAt.Valid && a.now().After(apiKey.ExpiresAt.Time) {
		WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "API key has expired", nil)
		return Actor{}, false
	}

	role, err := a.queries.GetUserRole(r.Context(), apiKey.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "API key owner no longer exists", nil)
		} else {
			a.logger.Error("failed to resolve API key owner", "key_prefix", apiKey.KeyPrefix, "error", err)
			WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to validate API key", nil)
		}
		return Actor{}, false
	}

	a.touch(apiKey.ID)
	return Actor{
		UserID:    apiKey.UserID,
		Role:      model.Role(role),
		KeyID:     apiKey.ID,
		KeyPrefix: apiKey.KeyPrefix,
	}, true
}

// touch updates the last used timestamp in a background goroutine.
func (a *Authenticator) touch(keyID int64) {
	now := a.now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.queries.UpdateAPIKeyLastUsed(ctx, store.UpdateAPIKeyLastUsedParams{
			LastUsedAt: sql.NullTime{Time: now, Valid: true},
			ID:         keyID,
		})
	}()
}

// Middleware requires a valid API key and stores the Actor in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := a.authenticate(w, r)
		if !ok {
			return
		}
		ctx := context.WithValue(r.Context(), ContextKeyActor, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetActor retrieves the authenticated actor from the request context.
func GetActor(r *http.Request) (Actor, bool) {
	actor, ok := r.Context().Value(ContextKeyActor).(Actor)
	return actor, ok
}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// RequireRole creates middleware that requires the actor's role to satisfy role.
// This should be used after Authenticator.Middleware.
func RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := GetActor(r)
			if !ok {
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "API key required", nil)
				return
			}
			if !actor.Role.Satisfies(role) {
				WriteAPIError(w, http.StatusForbidden, "forbidden", "Role "+string(role)+" required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limiterCache is a generic rate limiter cache with double-check locking.
type limiterCache[K comparable] struct {
	limiters map[K]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func newLimiterCache[K comparable](rps float64, burst int) *limiterCache[K] {
	return &limiterCache[K]{
		limiters: make(map[K]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

// get returns the rate limiter for a specific key, creating one if needed.
func (lc *limiterCache[K]) get(key K) *rate.Limiter {
	lc.mu.RLock()
	limiter, exists := lc.limiters[key]
	lc.mu.RUnlock()

	if exists {
		return limiter
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = lc.limiters[key]; exists {
		return limiter
	}

	if len(lc.limiters) >= maxLimiters {
		lc.limiters = make(map[K]*rate.Limiter)
	}
	limiter = rate.NewLimiter(lc.rate, lc.burst)
	lc.limiters[key] = limiter
	return limiter
}

// APIRateLimit creates middleware that rate limits requests per API key.
// rps is requests per second, burst is the maximum burst size. A
// non-positive rps disables limiting.
func APIRateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	cache := newLimiterCache[int64](rps, burst)

	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := GetActor(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if !cache.get(actor.KeyID).Allow() {
				w.Header().Set("Retry-After", "1")
				WriteAPIError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit exceeded. Please slow down.", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPRateLimit limits requests per client address. It guards unauthenticated
// endpoints and failed key lookups.
func IPRateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	cache := newLimiterCache[string](rps, burst)

	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !cache.get(ip).Allow() {
				WriteAPIError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit exceeded. Please slow down.", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the first X-Forwarded-For hop, X-Real-IP or the remote host.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
