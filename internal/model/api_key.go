// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"time"
)

// APIKey represents an API authentication key. Requests made with a key act as its user.
type APIKey struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	KeyHash    string       `json:"-"` // Never expose hash in JSON
	KeyPrefix  string       `json:"key_prefix"`
	UserID     int64        `json:"user_id"`
	LastUsedAt sql.NullTime `json:"last_used_at,omitempty"`
	ExpiresAt  sql.NullTime `json:"expires_at,omitempty"`
	IsActive   bool         `json:"is_active"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// APIKeyScheme marks raw keys issued by this service.
const APIKeyScheme = "owf_"

// KeyPrefixLen is how much of a raw key is stored in clear for identification.
const KeyPrefixLen = 12

// GenerateAPIKey returns a new raw key, shown to its owner once, and the
// clear-text prefix stored next to its hash.
func GenerateAPIKey() (rawKey string, prefix string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	rawKey = APIKeyScheme + base64.RawURLEncoding.EncodeToString(buf)
	return rawKey, rawKey[:KeyPrefixLen], nil
}

// HashAPIKey returns the hex SHA-256 of key. Only hashes are stored.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// IsExpired reports whether the key's expiry is before now.
func (k *APIKey) IsExpired(now time.Time) bool {
	if !k.ExpiresAt.Valid {
		return false
	}
	return now.After(k.ExpiresAt.Time)
}

// IsValid checks if the API key is active and not expired at now.
func (k *APIKey) IsValid(now time.Time) bool {
	return k.IsActive && !k.IsExpired(now)
}
