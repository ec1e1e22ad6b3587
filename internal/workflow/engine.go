// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package workflow implements the content approval state machine. All state
// changes of a content item go through Engine.ApplyTransition.
package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/ocms-workflow/internal/lock"
	"github.com/olegiv/ocms-workflow/internal/metrics"
	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/store"
)

// Repository is the persistence the engine needs.
type Repository interface {
	GetContent(ctx context.Context, id int64) (*model.Content, error)
	CreateContent(ctx context.Context, in store.CreateContentInput, now time.Time) (*model.Content, error)
	CommitTransition(ctx context.Context, next *model.Content, rec *model.Transition) error
	ListTransitions(ctx context.Context, contentID int64) ([]model.Transition, error)
	ListContents(ctx context.Context, state model.State, limit, offset int64) ([]*model.Content, int64, error)
}

// RoleResolver maps a human actor to its role.
type RoleResolver interface {
	ActorRole(ctx context.Context, actorID int64) (model.Role, error)
}

// LockChecker reports edit locks. *lock.Manager satisfies it.
type LockChecker interface {
	Check(ctx context.Context, contentID int64) lock.Status
}

// TransitionContext carries caller input for a transition.
type TransitionContext struct {
	// ExpectedVersion, when non-zero, must equal the stored version.
	ExpectedVersion int64
	Reason          string
	// PublishAt and UnpublishAt are used by schedule and publish.
	PublishAt   *time.Time
	UnpublishAt *time.Time
	// Title and Body replace the payload on save_draft when set.
	Title *string
	Body  *string
}

// NewContent describes a content item to create.
type NewContent struct {
	Title       string
	Body        string
	AccessLevel model.AccessLevel
}

// Result is the outcome of a committed transition.
type Result struct {
	Content    *model.Content
	Transition model.Transition
}

// Engine applies workflow transitions.
type Engine struct {
	def     *Definition
	repo    Repository
	roles   RoleResolver
	locks   LockChecker
	sink    Sink
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocks makes save_draft respect edit locks.
func WithLocks(l LockChecker) Option {
	return func(e *Engine) { e.locks = l }
}

// WithSink sets the receiver of transition events.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithMetrics records transition outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDefinition replaces the built-in transition table.
func WithDefinition(def *Definition) Option {
	return func(e *Engine) { e.def = def }
}

// NewEngine creates an engine using the built-in definition unless overridden.
func NewEngine(repo Repository, roles RoleResolver, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		def:    DefaultDefinition(),
		repo:   repo,
		roles:  roles,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Definition returns the transition table in use.
func (e *Engine) Definition() *Definition {
	return e.def
}

// ApplyTransition validates and commits action on a content item for actorID.
// Failures leave the content and its history untouched.
func (e *Engine) ApplyTransition(ctx context.Context, contentID int64, action model.Action, actorID int64, tc TransitionContext) (*Result, error) {
	res, err := e.apply(ctx, contentID, action, actorID, tc)
	e.metrics.Transition(string(action), ResultLabel(err))
	if err != nil {
		return nil, err
	}

	e.logger.Info("content transition applied",
		"content_id", contentID,
		"action", action,
		"from", res.Transition.FromState,
		"to", res.Transition.ToState,
		"actor_id", actorID,
		"version", res.Content.Version,
	)

	e.emit(ctx, res)
	return res, nil
}

func (e *Engine) apply(ctx context.Context, contentID int64, action model.Action, actorID int64, tc TransitionContext) (*Result, error) {
	if !action.Valid() {
		return nil, &Error{Kind: ErrInvalidTransition, ContentID: contentID, Action: action, Detail: "unknown action"}
	}

	content, err := e.load(ctx, contentID)
	if err != nil {
		return nil, err
	}

	if tc.ExpectedVersion != 0 && tc.ExpectedVersion != content.Version {
		return nil, newError(ErrConcurrentModification, content, action,
			fmt.Sprintf("expected version %d, found %d", tc.ExpectedVersion, content.Version))
	}

	rule, ok := e.def.Lookup(content.State, action)
	if !ok {
		return nil, newError(ErrInvalidTransition, content, action, "")
	}

	role, err := e.actorRole(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !rule.AllowsRole(role) {
		return nil, newError(ErrPermissionDenied, content, action,
			fmt.Sprintf("role %q may not %s", role, action))
	}

	now := e.now()
	next := *content
	if err := e.prepare(ctx, &next, rule, role, actorID, tc, now); err != nil {
		return nil, err
	}
	next.State = rule.To
	next.UpdatedAt = now

	rec := model.Transition{
		ContentID: content.ID,
		FromState: content.State,
		ToState:   rule.To,
		Action:    action,
		ActorID:   actorID,
		Reason:    strings.TrimSpace(tc.Reason),
		CreatedAt: now,
	}
	if err := e.repo.CommitTransition(ctx, &next, &rec); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, newError(ErrConcurrentModification, content, action, "content changed during transition")
		}
		return nil, fmt.Errorf("committing %s on content %d: %w", action, content.ID, err)
	}

	return &Result{Content: &next, Transition: rec}, nil
}

// prepare checks the action's preconditions and applies its side effects to next.
func (e *Engine) prepare(ctx context.Context, next *model.Content, rule Rule, role model.Role, actorID int64, tc TransitionContext, now time.Time) error {
	fail := func(detail string) error {
		return newError(ErrPreconditionFailed, next, rule.Action, detail)
	}

	switch rule.Action {
	case model.ActionSchedule:
		if tc.PublishAt == nil {
			return fail("publish_at is required")
		}
		if !tc.PublishAt.After(now) {
			return fail("publish_at must be in the future")
		}
		if tc.UnpublishAt != nil && !tc.UnpublishAt.After(*tc.PublishAt) {
			return fail("unpublish_at must be after publish_at")
		}
		next.PublishAt = sql.NullTime{Time: *tc.PublishAt, Valid: true}
		next.UnpublishAt = nullTime(tc.UnpublishAt)

	case model.ActionPublish:
		if next.State == model.StateScheduled {
			if !next.IsDueForPublish(now) {
				return fail("publish_at has not been reached")
			}
		} else {
			if tc.UnpublishAt != nil && !tc.UnpublishAt.After(now) {
				return fail("unpublish_at must be in the future")
			}
			next.PublishAt = sql.NullTime{}
			next.UnpublishAt = nullTime(tc.UnpublishAt)
		}
		next.PublishedAt = sql.NullTime{Time: now, Valid: true}

	case model.ActionUnpublish:
		if role == model.RoleSystem && !next.IsDueForUnpublish(now) {
			return fail("unpublish_at has not been reached")
		}
		next.UnpublishAt = sql.NullTime{}

	case model.ActionSaveDraft:
		if e.locks != nil {
			if st := e.locks.Check(ctx, next.ID); st.HeldByOther(actorID) {
				return &lock.HeldError{ContentID: next.ID, HolderID: st.OwnerID, ExpiresAt: st.ExpiresAt}
			}
		}
		if tc.Title != nil {
			title := strings.TrimSpace(*tc.Title)
			if title == "" {
				return newError(ErrInvalidInput, next, rule.Action, "title must not be empty")
			}
			next.Title = title
		}
		if tc.Body != nil {
			next.Body = *tc.Body
		}
		next.PublishAt = sql.NullTime{}
		next.UnpublishAt = sql.NullTime{}
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, res *Result) {
	if e.sink == nil {
		return
	}
	ev := model.TransitionEvent{
		ID:         uuid.NewString(),
		Transition: res.Transition,
		Title:      res.Content.Title,
		OccurredAt: res.Transition.CreatedAt,
	}
	if err := e.sink.Emit(ctx, ev); err != nil {
		e.logger.Error("emitting transition event",
			"content_id", res.Content.ID,
			"action", res.Transition.Action,
			"event_id", ev.ID,
			"error", err,
		)
	}
}

func (e *Engine) load(ctx context.Context, id int64) (*model.Content, error) {
	c, err := e.repo.GetContent(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Kind: ErrNotFound, ContentID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("loading content %d: %w", id, err)
	}
	return c, nil
}

func (e *Engine) actorRole(ctx context.Context, actorID int64) (model.Role, error) {
	if actorID == model.SystemActorID {
		return model.RoleSystem, nil
	}
	role, err := e.roles.ActorRole(ctx, actorID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &Error{Kind: ErrPermissionDenied, Detail: fmt.Sprintf("unknown actor %d", actorID)}
	}
	if err != nil {
		return "", fmt.Errorf("resolving role of actor %d: %w", actorID, err)
	}
	return role, nil
}

// CreateContent creates a draft at version 1. The actor must be an editor.
func (e *Engine) CreateContent(ctx context.Context, actorID int64, in NewContent) (*model.Content, error) {
	role, err := e.actorRole(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if role == model.RoleSystem || !role.Satisfies(model.RoleEditor) {
		return nil, &Error{Kind: ErrPermissionDenied, Detail: fmt.Sprintf("role %q may not create content", role)}
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, &Error{Kind: ErrInvalidInput, Detail: "title must not be empty"}
	}
	if in.AccessLevel != "" && !in.AccessLevel.Valid() {
		return nil, &Error{Kind: ErrInvalidInput, Detail: fmt.Sprintf("unknown access level %q", in.AccessLevel)}
	}

	c, err := e.repo.CreateContent(ctx, store.CreateContentInput{
		Title:       title,
		Body:        in.Body,
		AccessLevel: in.AccessLevel,
		AuthorID:    actorID,
	}, e.now())
	if err != nil {
		return nil, err
	}
	e.logger.Info("content created", "content_id", c.ID, "author_id", actorID)
	return c, nil
}

// Content returns a content item.
func (e *Engine) Content(ctx context.Context, id int64) (*model.Content, error) {
	return e.load(ctx, id)
}

// ListContent returns a page of content items, newest first, and the total
// count. An empty state lists every item.
func (e *Engine) ListContent(ctx context.Context, state model.State, limit, offset int64) ([]*model.Content, int64, error) {
	if state != "" && !state.Valid() {
		return nil, 0, &Error{Kind: ErrInvalidInput, Detail: fmt.Sprintf("unknown state %q", state)}
	}
	return e.repo.ListContents(ctx, state, limit, offset)
}

// History returns the transitions of a content item, oldest first.
func (e *Engine) History(ctx context.Context, id int64) ([]model.Transition, error) {
	if _, err := e.load(ctx, id); err != nil {
		return nil, err
	}
	return e.repo.ListTransitions(ctx, id)
}

// AvailableActions lists the actions actorID may request on the item in its
// current state. Time and lock preconditions are not evaluated.
func (e *Engine) AvailableActions(ctx context.Context, id, actorID int64) ([]model.Action, error) {
	c, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	role, err := e.actorRole(ctx, actorID)
	if err != nil {
		var werr *Error
		if errors.As(err, &werr) {
			return []model.Action{}, nil
		}
		return nil, err
	}

	actions := []model.Action{}
	for _, r := range e.def.RulesFrom(c.State) {
		if r.AllowsRole(role) && !slices.Contains(actions, r.Action) {
			actions = append(actions, r.Action)
		}
	}
	return actions, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
