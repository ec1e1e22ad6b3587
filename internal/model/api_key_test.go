// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"database/sql"
	"strings"
	"testing"
	"time"
)

func TestGenerateAPIKey(t *testing.T) {
	raw, prefix, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	if !strings.HasPrefix(raw, APIKeyScheme) {
		t.Errorf("key %q lacks scheme %q", raw, APIKeyScheme)
	}
	if len(raw) != len(APIKeyScheme)+43 {
		t.Errorf("key length = %d", len(raw))
	}
	if prefix != raw[:KeyPrefixLen] {
		t.Errorf("prefix = %q, want %q", prefix, raw[:KeyPrefixLen])
	}

	raw2, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() second call error = %v", err)
	}
	if raw == raw2 {
		t.Error("GenerateAPIKey() generated identical keys")
	}
}

func TestHashAPIKey(t *testing.T) {
	h1 := HashAPIKey("secret")
	h2 := HashAPIKey("secret")
	if h1 != h2 {
		t.Error("HashAPIKey() is not deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("HashAPIKey() length = %d, want 64", len(h1))
	}
	if HashAPIKey("other") == h1 {
		t.Error("HashAPIKey() produced the same hash for different keys")
	}
}

func TestAPIKeyIsValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		key  APIKey
		want bool
	}{
		{name: "active no expiry", key: APIKey{IsActive: true}, want: true},
		{name: "inactive", key: APIKey{IsActive: false}, want: false},
		{
			name: "expired",
			key:  APIKey{IsActive: true, ExpiresAt: sql.NullTime{Time: now.Add(-time.Hour), Valid: true}},
			want: false,
		},
		{
			name: "not yet expired",
			key:  APIKey{IsActive: true, ExpiresAt: sql.NullTime{Time: now.Add(time.Hour), Valid: true}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.IsValid(now); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}
