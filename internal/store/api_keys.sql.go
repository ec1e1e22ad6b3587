// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"time"
)

const apiKeyColumns = `id, name, key_hash, key_prefix, user_id, is_active, last_used_at, expires_at, created_at, updated_at`

func scanAPIKey(row interface{ Scan(...any) error }) (ApiKey, error) {
	var i ApiKey
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.KeyHash,
		&i.KeyPrefix,
		&i.UserID,
		&i.IsActive,
		&i.LastUsedAt,
		&i.ExpiresAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createAPIKey = `-- name: CreateAPIKey :one
INSERT INTO api_keys (name, key_hash, key_prefix, user_id, is_active, expires_at, created_at, updated_at)
VALUES (?, ?, ?, ?, 1, ?, ?, ?)
RETURNING ` + apiKeyColumns

type CreateAPIKeyParams struct {
	Name      string       `json:"name"`
	KeyHash   string       `json:"key_hash"`
	KeyPrefix string       `json:"key_prefix"`
	UserID    int64        `json:"user_id"`
	ExpiresAt sql.NullTime `json:"expires_at"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (q *Queries) CreateAPIKey(ctx context.Context, arg CreateAPIKeyParams) (ApiKey, error) {
	row := q.db.QueryRowContext(ctx, createAPIKey,
		arg.Name,
		arg.KeyHash,
		arg.KeyPrefix,
		arg.UserID,
		nullUTC(arg.ExpiresAt),
		utc(arg.CreatedAt),
		utc(arg.UpdatedAt),
	)
	return scanAPIKey(row)
}

const getAPIKeyByHash = `-- name: GetAPIKeyByHash :one
SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = ?`

func (q *Queries) GetAPIKeyByHash(ctx context.Context, keyHash string) (ApiKey, error) {
	row := q.db.QueryRowContext(ctx, getAPIKeyByHash, keyHash)
	return scanAPIKey(row)
}

const updateAPIKeyLastUsed = `-- name: UpdateAPIKeyLastUsed :exec
UPDATE api_keys SET last_used_at = ? WHERE id = ?`

type UpdateAPIKeyLastUsedParams struct {
	LastUsedAt sql.NullTime `json:"last_used_at"`
	ID         int64        `json:"id"`
}

func (q *Queries) UpdateAPIKeyLastUsed(ctx context.Context, arg UpdateAPIKeyLastUsedParams) error {
	_, err := q.db.ExecContext(ctx, updateAPIKeyLastUsed, nullUTC(arg.LastUsedAt), arg.ID)
	return err
}

const countAPIKeysForUser = `-- name: CountAPIKeysForUser :one
SELECT COUNT(*) FROM api_keys WHERE user_id = ?`

func (q *Queries) CountAPIKeysForUser(ctx context.Context, userID int64) (int64, error) {
	row := q.db.QueryRowContext(ctx, countAPIKeysForUser, userID)
	var count int64
	err := row.Scan(&count)
	return count, err
}
