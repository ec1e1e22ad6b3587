// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"database/sql"
	"time"
)

type ApiKey struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	KeyHash    string       `json:"key_hash"`
	KeyPrefix  string       `json:"key_prefix"`
	UserID     int64        `json:"user_id"`
	IsActive   bool         `json:"is_active"`
	LastUsedAt sql.NullTime `json:"last_used_at"`
	ExpiresAt  sql.NullTime `json:"expires_at"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

type Content struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	State       string       `json:"state"`
	Version     int64        `json:"version"`
	AccessLevel string       `json:"access_level"`
	AuthorID    int64        `json:"author_id"`
	PublishAt   sql.NullTime `json:"publish_at"`
	UnpublishAt sql.NullTime `json:"unpublish_at"`
	PublishedAt sql.NullTime `json:"published_at"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type ContentLock struct {
	ContentID  int64     `json:"content_id"`
	OwnerID    int64     `json:"owner_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type ContentTransition struct {
	ID        int64         `json:"id"`
	ContentID int64         `json:"content_id"`
	FromState string        `json:"from_state"`
	ToState   string        `json:"to_state"`
	Action    string        `json:"action"`
	ActorID   sql.NullInt64 `json:"actor_id"`
	Reason    string        `json:"reason"`
	Version   int64         `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
}

type Event struct {
	ID        int64         `json:"id"`
	Level     string        `json:"level"`
	Category  string        `json:"category"`
	Message   string        `json:"message"`
	UserID    sql.NullInt64 `json:"user_id"`
	Metadata  string        `json:"metadata"`
	CreatedAt time.Time     `json:"created_at"`
}

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Webhook struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Url       string    `json:"url"`
	Secret    string    `json:"secret"`
	Events    string    `json:"events"`
	Headers   string    `json:"headers"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type WebhookDelivery struct {
	ID           int64          `json:"id"`
	WebhookID    int64          `json:"webhook_id"`
	Event        string         `json:"event"`
	Payload      string         `json:"payload"`
	ResponseCode sql.NullInt64  `json:"response_code"`
	ResponseBody sql.NullString `json:"response_body"`
	Attempts     int64          `json:"attempts"`
	NextRetryAt  sql.NullTime   `json:"next_retry_at"`
	DeliveredAt  sql.NullTime   `json:"delivered_at"`
	Status       string         `json:"status"`
	ErrorMessage sql.NullString `json:"error_message"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
