// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"time"
)

const transitionColumns = `id, content_id, from_state, to_state, action, actor_id, reason, version, created_at`

func scanTransition(row interface{ Scan(...any) error }) (ContentTransition, error) {
	var i ContentTransition
	err := row.Scan(
		&i.ID,
		&i.ContentID,
		&i.FromState,
		&i.ToState,
		&i.Action,
		&i.ActorID,
		&i.Reason,
		&i.Version,
		&i.CreatedAt,
	)
	return i, err
}

const createContentTransition = `-- name: CreateContentTransition :one
INSERT INTO content_transitions (content_id, from_state, to_state, action, actor_id, reason, version, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + transitionColumns

type CreateContentTransitionParams struct {
	ContentID int64         `json:"content_id"`
	FromState string        `json:"from_state"`
	ToState   string        `json:"to_state"`
	Action    string        `json:"action"`
	ActorID   sql.NullInt64 `json:"actor_id"`
	Reason    string        `json:"reason"`
	Version   int64         `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
}

func (q *Queries) CreateContentTransition(ctx context.Context, arg CreateContentTransitionParams) (ContentTransition, error) {
	row := q.db.QueryRowContext(ctx, createContentTransition,
		arg.ContentID,
		arg.FromState,
		arg.ToState,
		arg.Action,
		arg.ActorID,
		arg.Reason,
		arg.Version,
		utc(arg.CreatedAt),
	)
	return scanTransition(row)
}

const listContentTransitions = `-- name: ListContentTransitions :many
SELECT ` + transitionColumns + ` FROM content_transitions
WHERE content_id = ?
ORDER BY created_at, id`

func (q *Queries) ListContentTransitions(ctx context.Context, contentID int64) ([]ContentTransition, error) {
	rows, err := q.db.QueryContext(ctx, listContentTransitions, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ContentTransition
	for rows.Next() {
		i, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
