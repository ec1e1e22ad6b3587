package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name        string
		isDev       bool
		path        string
		wantHSTS    string
		wantNoStore bool
	}{
		{
			name:        "production api path",
			path:        "/api/v1/content/1",
			wantHSTS:    "max-age=31536000; includeSubDomains",
			wantNoStore: true,
		},
		{
			name:        "development disables HSTS",
			isDev:       true,
			path:        "/api/v1/content/1",
			wantNoStore: true,
		},
		{
			name:     "health is cacheable",
			path:     "/health",
			wantHSTS: "max-age=31536000; includeSubDomains",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := SecurityHeaders(DefaultSecurityHeadersConfig(tt.isDev))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if got := rec.Header().Get("Strict-Transport-Security"); got != tt.wantHSTS {
				t.Errorf("HSTS = %q, want %q", got, tt.wantHSTS)
			}
			if got := rec.Header().Get("Cache-Control") == "no-store"; got != tt.wantNoStore {
				t.Errorf("no-store = %v, want %v", got, tt.wantNoStore)
			}
			if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
				t.Error("missing X-Content-Type-Options")
			}
			if rec.Header().Get("X-Frame-Options") != "DENY" {
				t.Error("missing X-Frame-Options")
			}
			if rec.Header().Get("Content-Security-Policy") != apiCSP {
				t.Errorf("CSP = %q", rec.Header().Get("Content-Security-Policy"))
			}
		})
	}
}

func TestSecurityHeaders_HSTSDisabled(t *testing.T) {
	cfg := DefaultSecurityHeadersConfig(false)
	cfg.HSTSMaxAge = 0

	handler := SecurityHeaders(cfg)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS = %q, want none", got)
	}
}
