// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"time"
)

const upsertContentLock = `-- name: UpsertContentLock :execrows
INSERT INTO content_locks (content_id, owner_id, acquired_at, expires_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (content_id) DO UPDATE SET
    owner_id = excluded.owner_id,
    acquired_at = CASE
        WHEN content_locks.owner_id = excluded.owner_id AND content_locks.expires_at > ?
        THEN content_locks.acquired_at
        ELSE excluded.acquired_at
    END,
    expires_at = excluded.expires_at
WHERE content_locks.owner_id = excluded.owner_id OR content_locks.expires_at <= ?`

type UpsertContentLockParams struct {
	ContentID  int64     `json:"content_id"`
	OwnerID    int64     `json:"owner_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Now        time.Time `json:"now"`
}

// UpsertContentLock creates the lock, extends it for the same owner, or reclaims
// it when expired. It returns 0 when an unexpired lock belongs to another owner.
func (q *Queries) UpsertContentLock(ctx context.Context, arg UpsertContentLockParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, upsertContentLock,
		arg.ContentID,
		arg.OwnerID,
		utc(arg.AcquiredAt),
		utc(arg.ExpiresAt),
		utc(arg.Now),
		utc(arg.Now),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getContentLock = `-- name: GetContentLock :one
SELECT content_id, owner_id, acquired_at, expires_at FROM content_locks WHERE content_id = ?`

func (q *Queries) GetContentLock(ctx context.Context, contentID int64) (ContentLock, error) {
	row := q.db.QueryRowContext(ctx, getContentLock, contentID)
	var i ContentLock
	err := row.Scan(&i.ContentID, &i.OwnerID, &i.AcquiredAt, &i.ExpiresAt)
	return i, err
}

const deleteContentLock = `-- name: DeleteContentLock :execrows
DELETE FROM content_locks WHERE content_id = ? AND owner_id = ? AND expires_at > ?`

type DeleteContentLockParams struct {
	ContentID int64     `json:"content_id"`
	OwnerID   int64     `json:"owner_id"`
	Now       time.Time `json:"now"`
}

// DeleteContentLock removes the lock only if ownerID holds it unexpired.
func (q *Queries) DeleteContentLock(ctx context.Context, arg DeleteContentLockParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteContentLock, arg.ContentID, arg.OwnerID, utc(arg.Now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteExpiredContentLocks = `-- name: DeleteExpiredContentLocks :execrows
DELETE FROM content_locks WHERE expires_at <= ?`

func (q *Queries) DeleteExpiredContentLocks(ctx context.Context, now time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteExpiredContentLocks, utc(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
