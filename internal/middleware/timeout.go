// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"context"
	"maps"
	"net/http"
	"sync"
	"time"
)

// Timeout bounds each request by d. When the handler has not started its
// response by then, the client gets a 503 JSON error and anything the
// handler writes afterwards is discarded with http.ErrHandlerTimeout.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			guard := newGuardedWriter(w)
			finished := make(chan struct{})
			go func() {
				defer close(finished)
				next.ServeHTTP(guard, r.WithContext(ctx))
			}()

			select {
			case <-finished:
			case <-ctx.Done():
				if guard.expire() {
					WriteAPIError(w, http.StatusServiceUnavailable, "timeout", "Request timed out", nil)
				}
			}
		})
	}
}

// guardedWriter buffers response headers until the handler commits a status
// and refuses any output once the request has expired.
type guardedWriter struct {
	w      http.ResponseWriter
	header http.Header

	mu        sync.Mutex
	committed bool
	expired   bool
}

func newGuardedWriter(w http.ResponseWriter) *guardedWriter {
	return &guardedWriter{w: w, header: make(http.Header)}
}

func (g *guardedWriter) Header() http.Header { return g.header }

func (g *guardedWriter) WriteHeader(code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commitLocked(code)
}

func (g *guardedWriter) Write(b []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.expired {
		return 0, http.ErrHandlerTimeout
	}
	g.commitLocked(http.StatusOK)
	return g.w.Write(b)
}

// commitLocked copies buffered headers and sends the status once.
func (g *guardedWriter) commitLocked(code int) {
	if g.expired || g.committed {
		return
	}
	g.committed = true
	maps.Copy(g.w.Header(), g.header)
	g.w.WriteHeader(code)
}

// expire marks the writer dead and reports whether the caller still owns
// the response.
func (g *guardedWriter) expire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expired = true
	return !g.committed
}
