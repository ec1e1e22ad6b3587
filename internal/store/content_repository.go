// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/olegiv/ocms-workflow/internal/model"
)

// ErrVersionConflict is returned by CommitTransition when the content row no
// longer has the expected version.
var ErrVersionConflict = errors.New("store: content version conflict")

// ContentRepository persists content items and their transition history.
type ContentRepository struct {
	db      *sql.DB
	queries *Queries
}

// NewContentRepository creates a repository backed by db.
func NewContentRepository(db *sql.DB) *ContentRepository {
	return &ContentRepository{db: db, queries: New(db)}
}

// CreateContentInput describes a new content item.
type CreateContentInput struct {
	Title       string
	Body        string
	AccessLevel model.AccessLevel
	AuthorID    int64
}

// CreateContent inserts a content item in the draft state.
func (r *ContentRepository) CreateContent(ctx context.Context, in CreateContentInput, now time.Time) (*model.Content, error) {
	access := in.AccessLevel
	if access == "" {
		access = model.AccessPublic
	}
	row, err := r.queries.CreateContent(ctx, CreateContentParams{
		Title:       in.Title,
		Body:        in.Body,
		AccessLevel: string(access),
		AuthorID:    in.AuthorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("creating content: %w", err)
	}
	return contentToModel(row), nil
}

// GetContent loads a content item. It returns sql.ErrNoRows when the item does not exist.
func (r *ContentRepository) GetContent(ctx context.Context, id int64) (*model.Content, error) {
	row, err := r.queries.GetContent(ctx, id)
	if err != nil {
		return nil, err
	}
	return contentToModel(row), nil
}

// ListContents returns a page of content items, optionally filtered by state.
func (r *ContentRepository) ListContents(ctx context.Context, state model.State, limit, offset int64) ([]*model.Content, int64, error) {
	rows, err := r.queries.ListContents(ctx, ListContentsParams{
		State:  string(state),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing contents: %w", err)
	}
	total, err := r.queries.CountContents(ctx, string(state))
	if err != nil {
		return nil, 0, fmt.Errorf("counting contents: %w", err)
	}
	items := make([]*model.Content, 0, len(rows))
	for _, row := range rows {
		items = append(items, contentToModel(row))
	}
	return items, total, nil
}

// CommitTransition writes next as the new state of the content item and appends
// rec to its history in one transaction. next.Version must hold the version the
// caller read; on success next.Version and rec are updated with stored values.
func (r *ContentRepository) CommitTransition(ctx context.Context, next *model.Content, rec *model.Transition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	qtx := r.queries.WithTx(tx)

	n, err := qtx.UpdateContentState(ctx, UpdateContentStateParams{
		State:           string(next.State),
		Title:           next.Title,
		Body:            next.Body,
		PublishAt:       next.PublishAt,
		UnpublishAt:     next.UnpublishAt,
		PublishedAt:     next.PublishedAt,
		UpdatedAt:       next.UpdatedAt,
		ID:              next.ID,
		ExpectedVersion: next.Version,
	})
	if err != nil {
		return fmt.Errorf("updating content state: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}

	var actor sql.NullInt64
	if rec.ActorID != model.SystemActorID {
		actor = sql.NullInt64{Int64: rec.ActorID, Valid: true}
	}
	stored, err := qtx.CreateContentTransition(ctx, CreateContentTransitionParams{
		ContentID: next.ID,
		FromState: string(rec.FromState),
		ToState:   string(rec.ToState),
		Action:    string(rec.Action),
		ActorID:   actor,
		Reason:    rec.Reason,
		Version:   next.Version + 1,
		CreatedAt: rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("recording transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transition: %w", err)
	}

	next.Version++
	*rec = *transitionToModel(stored)
	return nil
}

// ListTransitions returns the history of a content item, oldest first.
func (r *ContentRepository) ListTransitions(ctx context.Context, contentID int64) ([]model.Transition, error) {
	rows, err := r.queries.ListContentTransitions(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("listing transitions: %w", err)
	}
	out := make([]model.Transition, 0, len(rows))
	for _, row := range rows {
		out = append(out, *transitionToModel(row))
	}
	return out, nil
}

// ListDueForPublish returns IDs of scheduled items whose publish time is at or before now.
func (r *ContentRepository) ListDueForPublish(ctx context.Context, now time.Time) ([]int64, error) {
	return r.queries.ListDueScheduledContentIDs(ctx, now)
}

// ListDueForUnpublish returns IDs of published items whose unpublish time is at or before now.
func (r *ContentRepository) ListDueForUnpublish(ctx context.Context, now time.Time) ([]int64, error) {
	return r.queries.ListDuePublishedContentIDs(ctx, now)
}

// UserRoles resolves actor roles from the users table.
type UserRoles struct {
	queries *Queries
}

// NewUserRoles creates a role resolver backed by db.
func NewUserRoles(db DBTX) *UserRoles {
	return &UserRoles{queries: New(db)}
}

// ActorRole returns the role of the given user. Unknown users yield sql.ErrNoRows.
func (u *UserRoles) ActorRole(ctx context.Context, actorID int64) (model.Role, error) {
	role, err := u.queries.GetUserRole(ctx, actorID)
	if err != nil {
		return "", err
	}
	return model.Role(role), nil
}

func contentToModel(c Content) *model.Content {
	return &model.Content{
		ID:          c.ID,
		Title:       c.Title,
		Body:        c.Body,
		State:       model.State(c.State),
		Version:     c.Version,
		AccessLevel: model.AccessLevel(c.AccessLevel),
		AuthorID:    c.AuthorID,
		PublishAt:   c.PublishAt,
		UnpublishAt: c.UnpublishAt,
		PublishedAt: c.PublishedAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func transitionToModel(t ContentTransition) *model.Transition {
	actor := model.SystemActorID
	if t.ActorID.Valid {
		actor = t.ActorID.Int64
	}
	return &model.Transition{
		ID:        t.ID,
		ContentID: t.ContentID,
		FromState: model.State(t.FromState),
		ToState:   model.State(t.ToState),
		Action:    model.Action(t.Action),
		ActorID:   actor,
		Reason:    t.Reason,
		Version:   t.Version,
		CreatedAt: t.CreatedAt,
	}
}
