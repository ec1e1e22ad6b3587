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

// Demo accounts, one per workflow role.
const (
	DemoEditorEmail    = "editor@example.com"
	DemoReviewerEmail  = "reviewer@example.com"
	DemoPublisherEmail = "publisher@example.com"
)

type demoUser struct {
	email string
	name  string
	role  model.Role
}

var demoUsers = []demoUser{
	{DemoEditorEmail, "Demo Editor", model.RoleEditor},
	{DemoReviewerEmail, "Demo Reviewer", model.RoleReviewer},
	{DemoPublisherEmail, "Demo Publisher", model.RolePublisher},
}

// SeedDemo creates one user per workflow role, each with an API key, and a
// draft owned by the demo editor, all in one transaction. It returns the raw
// keys by email; the map is empty when the demo users already exist.
func SeedDemo(ctx context.Context, db *sql.DB) (map[string]string, error) {
	queries := New(db)
	keys := make(map[string]string)

	if _, err := queries.GetUserByEmail(ctx, DemoEditorEmail); err == nil {
		slog.Info("demo users already exist, skipping")
		return keys, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checking for demo users: %w", err)
	}

	slog.Info("seeding demo workflow data")
	now := time.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning demo seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	qtx := queries.WithTx(tx)

	var editorID int64
	for _, du := range demoUsers {
		user, err := qtx.CreateUser(ctx, CreateUserParams{
			Email:     du.email,
			Name:      du.name,
			Role:      string(du.role),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return nil, fmt.Errorf("creating demo %s: %w", du.role, err)
		}
		if du.role == model.RoleEditor {
			editorID = user.ID
		}

		rawKey, err := createUserKey(ctx, qtx, user.ID, "demo "+string(du.role)+" key", now)
		if err != nil {
			return nil, err
		}
		keys[du.email] = rawKey
	}

	content, err := qtx.CreateContent(ctx, CreateContentParams{
		Title:       "Welcome to the review queue",
		Body:        "Edit this draft, submit it for review, then approve and publish it.",
		AccessLevel: string(model.AccessPublic),
		AuthorID:    editorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("creating demo content: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing demo seed: %w", err)
	}

	slog.Info("demo workflow data seeded",
		"users", len(demoUsers),
		"content_id", content.ID,
	)
	return keys, nil
}
