// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"time"
)

const contentColumns = `id, title, body, state, version, access_level, author_id,
    publish_at, unpublish_at, published_at, created_at, updated_at`

func scanContent(row interface{ Scan(...any) error }) (Content, error) {
	var i Content
	err := row.Scan(
		&i.ID,
		&i.Title,
		&i.Body,
		&i.State,
		&i.Version,
		&i.AccessLevel,
		&i.AuthorID,
		&i.PublishAt,
		&i.UnpublishAt,
		&i.PublishedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createContent = `-- name: CreateContent :one
INSERT INTO contents (title, body, state, version, access_level, author_id, created_at, updated_at)
VALUES (?, ?, 'draft', 1, ?, ?, ?, ?)
RETURNING ` + contentColumns

type CreateContentParams struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	AccessLevel string    `json:"access_level"`
	AuthorID    int64     `json:"author_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateContent inserts a new content item in the draft state at version 1.
func (q *Queries) CreateContent(ctx context.Context, arg CreateContentParams) (Content, error) {
	row := q.db.QueryRowContext(ctx, createContent,
		arg.Title,
		arg.Body,
		arg.AccessLevel,
		arg.AuthorID,
		utc(arg.CreatedAt),
		utc(arg.UpdatedAt),
	)
	return scanContent(row)
}

const getContent = `-- name: GetContent :one
SELECT ` + contentColumns + ` FROM contents WHERE id = ?`

func (q *Queries) GetContent(ctx context.Context, id int64) (Content, error) {
	row := q.db.QueryRowContext(ctx, getContent, id)
	return scanContent(row)
}

const listContents = `-- name: ListContents :many
SELECT ` + contentColumns + ` FROM contents
WHERE (? = '' OR state = ?)
ORDER BY updated_at DESC, id DESC
LIMIT ? OFFSET ?`

type ListContentsParams struct {
	State  string `json:"state"`
	Limit  int64  `json:"limit"`
	Offset int64  `json:"offset"`
}

func (q *Queries) ListContents(ctx context.Context, arg ListContentsParams) ([]Content, error) {
	rows, err := q.db.QueryContext(ctx, listContents, arg.State, arg.State, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Content
	for rows.Next() {
		i, err := scanContent(rows)
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

const countContents = `-- name: CountContents :one
SELECT COUNT(*) FROM contents WHERE (? = '' OR state = ?)`

func (q *Queries) CountContents(ctx context.Context, state string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countContents, state, state)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const updateContentState = `-- name: UpdateContentState :execrows
UPDATE contents
SET state = ?,
    version = version + 1,
    title = ?,
    body = ?,
    publish_at = ?,
    unpublish_at = ?,
    published_at = ?,
    updated_at = ?
WHERE id = ? AND version = ?`

type UpdateContentStateParams struct {
	State           string       `json:"state"`
	Title           string       `json:"title"`
	Body            string       `json:"body"`
	PublishAt       sql.NullTime `json:"publish_at"`
	UnpublishAt     sql.NullTime `json:"unpublish_at"`
	PublishedAt     sql.NullTime `json:"published_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	ID              int64        `json:"id"`
	ExpectedVersion int64        `json:"expected_version"`
}

// UpdateContentState writes the new workflow state only if the row is still at
// ExpectedVersion. It returns the number of rows changed (0 on a version mismatch).
func (q *Queries) UpdateContentState(ctx context.Context, arg UpdateContentStateParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateContentState,
		arg.State,
		arg.Title,
		arg.Body,
		nullUTC(arg.PublishAt),
		nullUTC(arg.UnpublishAt),
		nullUTC(arg.PublishedAt),
		utc(arg.UpdatedAt),
		arg.ID,
		arg.ExpectedVersion,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listDueScheduledContentIDs = `-- name: ListDueScheduledContentIDs :many
SELECT id FROM contents
WHERE state = 'scheduled' AND publish_at IS NOT NULL AND publish_at <= ?
ORDER BY publish_at, id`

// ListDueScheduledContentIDs returns scheduled content whose publish time has passed.
func (q *Queries) ListDueScheduledContentIDs(ctx context.Context, now time.Time) ([]int64, error) {
	return q.listIDs(ctx, listDueScheduledContentIDs, utc(now))
}

const listDuePublishedContentIDs = `-- name: ListDuePublishedContentIDs :many
SELECT id FROM contents
WHERE state = 'published' AND unpublish_at IS NOT NULL AND unpublish_at <= ?
ORDER BY unpublish_at, id`

// ListDuePublishedContentIDs returns published content whose unpublish time has passed.
func (q *Queries) ListDuePublishedContentIDs(ctx context.Context, now time.Time) ([]int64, error) {
	return q.listIDs(ctx, listDuePublishedContentIDs, utc(now))
}

func (q *Queries) listIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
