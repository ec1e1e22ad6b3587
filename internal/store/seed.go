// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/olegiv/ocms-workflow/internal/model"
)

// Default admin account
const (
	DefaultAdminEmail  = "admin@example.com"
	DefaultAdminName   = "Administrator"
	DefaultAdminKeyTag = "seed admin key"
)

// Seed creates the default admin user and an API key for it. The raw key is
// returned once; it is empty when the admin already existed.
func Seed(ctx context.Context, db *sql.DB) (string, error) {
	queries := New(db)

	_, err := queries.GetUserByEmail(ctx, DefaultAdminEmail)
	if err == nil {
		slog.Info("admin user already exists, skipping seed")
		return "", nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("checking for admin user: %w", err)
	}

	now := time.Now()
	user, err := queries.CreateUser(ctx, CreateUserParams{
		Email:     DefaultAdminEmail,
		Name:      DefaultAdminName,
		Role:      string(model.RoleAdmin),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("creating admin user: %w", err)
	}

	rawKey, err := createUserKey(ctx, queries, user.ID, DefaultAdminKeyTag, now)
	if err != nil {
		return "", err
	}

	slog.Info("created default admin user",
		"id", user.ID,
		"email", user.Email,
		"api_key", rawKey,
	)

	return rawKey, nil
}

func createUserKey(ctx context.Context, queries *Queries, userID int64, name string, now time.Time) (string, error) {
	rawKey, prefix, err := model.GenerateAPIKey()
	if err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	if _, err := queries.CreateAPIKey(ctx, CreateAPIKeyParams{
		Name:      name,
		KeyHash:   model.HashAPIKey(rawKey),
		KeyPrefix: prefix,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("creating api key for user %d: %w", userID, err)
	}
	return rawKey, nil
}
