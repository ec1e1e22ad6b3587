// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler runs timed workflow transitions and housekeeping jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/olegiv/ocms-workflow/internal/metrics"
	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/workflow"
)

const (
	// JobSource groups the core workflow jobs in the registry.
	JobSource = "workflow"
	// SweepJobName is the registry name of the publish sweep.
	SweepJobName = "publish-sweep"
	// DefaultSweepSchedule runs the sweep every minute.
	DefaultSweepSchedule = "* * * * *"
)

// Transitioner applies workflow actions.
type Transitioner interface {
	ApplyTransition(ctx context.Context, contentID int64, action model.Action, actorID int64, tc workflow.TransitionContext) (*workflow.Result, error)
}

// DueLister finds content whose publish or unpublish time has passed.
type DueLister interface {
	ListDueForPublish(ctx context.Context, now time.Time) ([]int64, error)
	ListDueForUnpublish(ctx context.Context, now time.Time) ([]int64, error)
}

// SweepResult counts the outcome of one sweep.
type SweepResult struct {
	Published   int `json:"published"`
	Unpublished int `json:"unpublished"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// Scheduler moves scheduled content to published and expired content to
// unpublished, acting as the system actor.
type Scheduler struct {
	engine  Transitioner
	due     DueLister
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// serializes sweeps so a manual trigger never overlaps the cron run
	mu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics records sweep outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a new scheduler.
func New(engine Transitioner, due DueLister, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine: engine,
		due:    due,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the publish sweep to reg. An empty schedule uses the default.
func (s *Scheduler) Register(reg *Registry, schedule string) error {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return reg.Register(Job{
		Source:          JobSource,
		Name:            SweepJobName,
		Description:     "Publish scheduled content and unpublish expired content",
		DefaultSchedule: schedule,
		Manual:          true,
		Run: func(ctx context.Context) error {
			_, err := s.Sweep(ctx)
			return err
		},
	})
}

// Sweep processes every due item once. Items are independent: a failure on
// one is logged and counted and the sweep moves on. The returned error is
// non-nil only when the due lists themselves could not be read.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() { s.metrics.SweepDuration(time.Since(start)) }()

	now := s.now()
	var res SweepResult
	var errs []error

	toPublish, err := s.due.ListDueForPublish(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("listing content due for publish: %w", err))
	}
	for _, id := range toPublish {
		if ctx.Err() != nil {
			break
		}
		switch s.process(ctx, id, model.ActionPublish) {
		case outcomeApplied:
			res.Published++
		case outcomeSkipped:
			res.Skipped++
		case outcomeFailed:
			res.Failed++
		}
	}

	toUnpublish, err := s.due.ListDueForUnpublish(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("listing content due for unpublish: %w", err))
	}
	for _, id := range toUnpublish {
		if ctx.Err() != nil {
			break
		}
		switch s.process(ctx, id, model.ActionUnpublish) {
		case outcomeApplied:
			res.Unpublished++
		case outcomeSkipped:
			res.Skipped++
		case outcomeFailed:
			res.Failed++
		}
	}

	if res != (SweepResult{}) {
		s.logger.Info("publish sweep finished",
			"published", res.Published,
			"unpublished", res.Unpublished,
			"skipped", res.Skipped,
			"failed", res.Failed,
		)
	}
	if ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}
	return res, errors.Join(errs...)
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (s *Scheduler) process(ctx context.Context, id int64, action model.Action) outcome {
	kind := string(action)
	_, err := s.engine.ApplyTransition(ctx, id, action, model.SystemActorID, workflow.TransitionContext{})
	switch {
	case err == nil:
		s.metrics.SweepItem(kind, "applied")
		return outcomeApplied
	case errors.Is(err, workflow.ErrInvalidTransition):
		// Another writer already moved the item out of the due state.
		s.logger.Debug("sweep skipped content", "content_id", id, "action", action, "reason", err)
		s.metrics.SweepItem(kind, "skipped")
		return outcomeSkipped
	default:
		s.logger.Error("sweep transition failed", "content_id", id, "action", action, "error", err)
		s.metrics.SweepItem(kind, "failed")
		return outcomeFailed
	}
}
