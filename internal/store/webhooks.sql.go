// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"time"
)

const webhookColumns = `id, name, url, secret, events, headers, is_active, created_at, updated_at`

func scanWebhook(row interface{ Scan(...any) error }) (Webhook, error) {
	var i Webhook
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Url,
		&i.Secret,
		&i.Events,
		&i.Headers,
		&i.IsActive,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createWebhook = `-- name: CreateWebhook :one
INSERT INTO webhooks (name, url, secret, events, headers, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + webhookColumns

type CreateWebhookParams struct {
	Name      string    `json:"name"`
	Url       string    `json:"url"`
	Secret    string    `json:"secret"`
	Events    string    `json:"events"`
	Headers   string    `json:"headers"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (q *Queries) CreateWebhook(ctx context.Context, arg CreateWebhookParams) (Webhook, error) {
	row := q.db.QueryRowContext(ctx, createWebhook,
		arg.Name,
		arg.Url,
		arg.Secret,
		arg.Events,
		arg.Headers,
		arg.IsActive,
		utc(arg.CreatedAt),
		utc(arg.UpdatedAt),
	)
	return scanWebhook(row)
}

const listWebhooksForEvent = `-- name: ListWebhooksForEvent :many
SELECT ` + webhookColumns + ` FROM webhooks
WHERE is_active = 1 AND events LIKE '%' || ? || '%'
ORDER BY id`

// ListWebhooksForEvent returns active webhooks whose events list mentions event.
// The LIKE match is coarse; callers must re-check the parsed list.
func (q *Queries) ListWebhooksForEvent(ctx context.Context, event string) ([]Webhook, error) {
	rows, err := q.db.QueryContext(ctx, listWebhooksForEvent, event)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Webhook
	for rows.Next() {
		i, err := scanWebhook(rows)
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

const deliveryColumns = `id, webhook_id, event, payload, response_code, response_body, attempts,
    next_retry_at, delivered_at, status, error_message, created_at, updated_at`

func scanDelivery(row interface{ Scan(...any) error }) (WebhookDelivery, error) {
	var i WebhookDelivery
	err := row.Scan(
		&i.ID,
		&i.WebhookID,
		&i.Event,
		&i.Payload,
		&i.ResponseCode,
		&i.ResponseBody,
		&i.Attempts,
		&i.NextRetryAt,
		&i.DeliveredAt,
		&i.Status,
		&i.ErrorMessage,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createWebhookDelivery = `-- name: CreateWebhookDelivery :one
INSERT INTO webhook_deliveries (webhook_id, event, payload, status, created_at, updated_at)
VALUES (?, ?, ?, 'pending', ?, ?)
RETURNING ` + deliveryColumns

type CreateWebhookDeliveryParams struct {
	WebhookID int64     `json:"webhook_id"`
	Event     string    `json:"event"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (q *Queries) CreateWebhookDelivery(ctx context.Context, arg CreateWebhookDeliveryParams) (WebhookDelivery, error) {
	row := q.db.QueryRowContext(ctx, createWebhookDelivery,
		arg.WebhookID,
		arg.Event,
		arg.Payload,
		utc(arg.CreatedAt),
		utc(arg.UpdatedAt),
	)
	return scanDelivery(row)
}

const getWebhookDelivery = `-- name: GetWebhookDelivery :one
SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = ?`

func (q *Queries) GetWebhookDelivery(ctx context.Context, id int64) (WebhookDelivery, error) {
	row := q.db.QueryRowContext(ctx, getWebhookDelivery, id)
	return scanDelivery(row)
}

const updateDeliverySuccess = `-- name: UpdateDeliverySuccess :exec
UPDATE webhook_deliveries
SET status = 'delivered', attempts = attempts + 1, response_code = ?, response_body = ?,
    delivered_at = ?, next_retry_at = NULL, updated_at = ?
WHERE id = ?`

type UpdateDeliverySuccessParams struct {
	ResponseCode sql.NullInt64  `json:"response_code"`
	ResponseBody sql.NullString `json:"response_body"`
	DeliveredAt  sql.NullTime   `json:"delivered_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ID           int64          `json:"id"`
}

func (q *Queries) UpdateDeliverySuccess(ctx context.Context, arg UpdateDeliverySuccessParams) error {
	_, err := q.db.ExecContext(ctx, updateDeliverySuccess,
		arg.ResponseCode,
		arg.ResponseBody,
		nullUTC(arg.DeliveredAt),
		utc(arg.UpdatedAt),
		arg.ID,
	)
	return err
}

const updateDeliveryRetry = `-- name: UpdateDeliveryRetry :exec
UPDATE webhook_deliveries
SET status = 'failed', attempts = attempts + 1, response_code = ?, response_body = ?,
    error_message = ?, next_retry_at = ?, updated_at = ?
WHERE id = ?`

type UpdateDeliveryRetryParams struct {
	ResponseCode sql.NullInt64  `json:"response_code"`
	ResponseBody sql.NullString `json:"response_body"`
	ErrorMessage sql.NullString `json:"error_message"`
	NextRetryAt  sql.NullTime   `json:"next_retry_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ID           int64          `json:"id"`
}

func (q *Queries) UpdateDeliveryRetry(ctx context.Context, arg UpdateDeliveryRetryParams) error {
	_, err := q.db.ExecContext(ctx, updateDeliveryRetry,
		arg.ResponseCode,
		arg.ResponseBody,
		arg.ErrorMessage,
		nullUTC(arg.NextRetryAt),
		utc(arg.UpdatedAt),
		arg.ID,
	)
	return err
}

const updateDeliveryDead = `-- name: UpdateDeliveryDead :exec
UPDATE webhook_deliveries
SET status = 'dead', attempts = attempts + 1, error_message = ?, next_retry_at = NULL, updated_at = ?
WHERE id = ?`

type UpdateDeliveryDeadParams struct {
	ErrorMessage sql.NullString `json:"error_message"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ID           int64          `json:"id"`
}

func (q *Queries) UpdateDeliveryDead(ctx context.Context, arg UpdateDeliveryDeadParams) error {
	_, err := q.db.ExecContext(ctx, updateDeliveryDead, arg.ErrorMessage, utc(arg.UpdatedAt), arg.ID)
	return err
}

const listRetryableDeliveries = `-- name: ListRetryableDeliveries :many
SELECT d.id, d.webhook_id, d.event, d.payload, w.url, w.secret, w.headers
FROM webhook_deliveries d
JOIN webhooks w ON w.id = d.webhook_id
WHERE w.is_active = 1
  AND (d.status = 'pending' OR (d.status = 'failed' AND d.next_retry_at <= ?))
ORDER BY d.id
LIMIT ?`

type ListRetryableDeliveriesParams struct {
	Now   time.Time `json:"now"`
	Limit int64     `json:"limit"`
}

type ListRetryableDeliveriesRow struct {
	ID        int64  `json:"id"`
	WebhookID int64  `json:"webhook_id"`
	Event     string `json:"event"`
	Payload   string `json:"payload"`
	Url       string `json:"url"`
	Secret    string `json:"secret"`
	Headers   string `json:"headers"`
}

func (q *Queries) ListRetryableDeliveries(ctx context.Context, arg ListRetryableDeliveriesParams) ([]ListRetryableDeliveriesRow, error) {
	rows, err := q.db.QueryContext(ctx, listRetryableDeliveries, utc(arg.Now), arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListRetryableDeliveriesRow
	for rows.Next() {
		var i ListRetryableDeliveriesRow
		if err := rows.Scan(&i.ID, &i.WebhookID, &i.Event, &i.Payload, &i.Url, &i.Secret, &i.Headers); err != nil {
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

const listWebhooks = `-- name: ListWebhooks :many
SELECT ` + webhookColumns + ` FROM webhooks ORDER BY id`

func (q *Queries) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	rows, err := q.db.QueryContext(ctx, listWebhooks)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Webhook
	for rows.Next() {
		i, err := scanWebhook(rows)
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

const getWebhook = `-- name: GetWebhook :one
SELECT ` + webhookColumns + ` FROM webhooks WHERE id = ?`

func (q *Queries) GetWebhook(ctx context.Context, id int64) (Webhook, error) {
	row := q.db.QueryRowContext(ctx, getWebhook, id)
	return scanWebhook(row)
}

const deleteWebhook = `-- name: DeleteWebhook :execrows
DELETE FROM webhooks WHERE id = ?`

func (q *Queries) DeleteWebhook(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteWebhook, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listDeliveriesForWebhook = `-- name: ListDeliveriesForWebhook :many
SELECT ` + deliveryColumns + ` FROM webhook_deliveries
WHERE webhook_id = ?
ORDER BY id DESC
LIMIT ?`

type ListDeliveriesForWebhookParams struct {
	WebhookID int64 `json:"webhook_id"`
	Limit     int64 `json:"limit"`
}

func (q *Queries) ListDeliveriesForWebhook(ctx context.Context, arg ListDeliveriesForWebhookParams) ([]WebhookDelivery, error) {
	rows, err := q.db.QueryContext(ctx, listDeliveriesForWebhook, arg.WebhookID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WebhookDelivery
	for rows.Next() {
		i, err := scanDelivery(rows)
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
