// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/olegiv/ocms-workflow/internal/store"
)

var (
	// ErrJobNotFound is returned for operations on an unregistered job.
	ErrJobNotFound = errors.New("scheduler: job not found")
	// ErrNotTriggerable is returned by TriggerNow for jobs without Manual.
	ErrNotTriggerable = errors.New("scheduler: manual trigger not available")
	// ErrInvalidSchedule wraps cron parse failures.
	ErrInvalidSchedule = errors.New("scheduler: invalid schedule")
)

// DefaultJobTimeout bounds a single scheduled run.
const DefaultJobTimeout = 5 * time.Minute

// Job describes a named unit of periodic work.
type Job struct {
	Source          string
	Name            string
	Description     string
	DefaultSchedule string
	Run             func(ctx context.Context) error
	// Manual allows the job to be triggered through TriggerNow.
	Manual bool
}

func (j Job) key() string {
	return j.Source + ":" + j.Name
}

type registeredJob struct {
	job      Job
	schedule string // effective schedule (override or default)
	entryID  cron.EntryID
	lastErr  error
}

// JobInfo is the public view of a registered job.
type JobInfo struct {
	Source          string    `json:"source"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	DefaultSchedule string    `json:"default_schedule"`
	Schedule        string    `json:"schedule"`
	IsOverridden    bool      `json:"is_overridden"`
	LastRun         time.Time `json:"last_run,omitzero"`
	NextRun         time.Time `json:"next_run,omitzero"`
	LastError       string    `json:"last_error,omitempty"`
	CanTrigger      bool      `json:"can_trigger"`
}

// Registry owns the cron instance and every job scheduled on it.
// Schedule overrides are persisted in scheduler_overrides.
type Registry struct {
	queries *store.Queries
	logger  *slog.Logger
	cron    *cron.Cron
	timeout time.Duration

	mu   sync.RWMutex
	jobs map[string]*registeredJob
}

// NewRegistry creates a registry whose jobs run in UTC.
func NewRegistry(db *sql.DB, logger *slog.Logger) *Registry {
	cl := cronLogger{logger: logger}
	return &Registry{
		queries: store.New(db),
		logger:  logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		timeout: DefaultJobTimeout,
		jobs:    make(map[string]*registeredJob),
	}
}

// ValidateSchedule reports whether expr is a standard cron expression or descriptor.
func ValidateSchedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, expr, err)
	}
	return nil
}

// Start begins running scheduled jobs.
func (r *Registry) Start() {
	r.cron.Start()
	r.logger.Info("scheduler started", "jobs", len(r.List()))
}

// Stop halts the cron loop and waits for running jobs to finish.
func (r *Registry) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("scheduler stopped")
}

// GetEffectiveSchedule returns the override schedule if one exists, otherwise the default.
func (r *Registry) GetEffectiveSchedule(source, name, defaultSchedule string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	override, err := r.queries.GetSchedulerOverride(ctx, store.GetSchedulerOverrideParams{
		Source: source,
		Name:   name,
	})
	if err == nil && override != "" {
		if ValidateSchedule(override) == nil {
			return override
		}
		r.logger.Warn("ignoring invalid schedule override", "source", source, "name", name, "schedule", override)
	}
	return defaultSchedule
}

// Register adds job to the cron instance using its effective schedule.
func (r *Registry) Register(job Job) error {
	if job.Source == "" || job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job needs source, name and run function")
	}
	if err := ValidateSchedule(job.DefaultSchedule); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.key()]; exists {
		return fmt.Errorf("scheduler: job %s already registered", job.key())
	}

	rj := &registeredJob{
		job:      job,
		schedule: r.GetEffectiveSchedule(job.Source, job.Name, job.DefaultSchedule),
	}
	entryID, err := r.cron.AddFunc(rj.schedule, r.runner(rj))
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", job.key(), err)
	}
	rj.entryID = entryID
	r.jobs[job.key()] = rj

	r.logger.Debug("registered scheduled job", "source", job.Source, "name", job.Name, "schedule", rj.schedule)
	return nil
}

// runner wraps a job for cron: bounded context, timing and error logging.
func (r *Registry) runner(rj *registeredJob) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		_ = r.run(ctx, rj)
	}
}

func (r *Registry) run(ctx context.Context, rj *registeredJob) error {
	start := time.Now()
	err := rj.job.Run(ctx)

	r.mu.Lock()
	rj.lastErr = err
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("scheduled job failed",
			"source", rj.job.Source, "name", rj.job.Name,
			"duration", time.Since(start), "error", err)
		return err
	}
	r.logger.Debug("scheduled job finished",
		"source", rj.job.Source, "name", rj.job.Name, "duration", time.Since(start))
	return nil
}

// List returns all registered jobs sorted by source then name.
func (r *Registry) List() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]JobInfo, 0, len(r.jobs))
	for _, rj := range r.jobs {
		info := JobInfo{
			Source:          rj.job.Source,
			Name:            rj.job.Name,
			Description:     rj.job.Description,
			DefaultSchedule: rj.job.DefaultSchedule,
			Schedule:        rj.schedule,
			IsOverridden:    rj.schedule != rj.job.DefaultSchedule,
			CanTrigger:      rj.job.Manual,
		}
		if rj.lastErr != nil {
			info.LastError = rj.lastErr.Error()
		}
		entry := r.cron.Entry(rj.entryID)
		info.NextRun = entry.Next
		info.LastRun = entry.Prev

		result = append(result, info)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Source != result[j].Source {
			return result[i].Source < result[j].Source
		}
		return result[i].Name < result[j].Name
	})

	return result
}

// TriggerNow runs a job synchronously on the caller's context.
func (r *Registry) TriggerNow(ctx context.Context, source, name string) error {
	r.mu.RLock()
	rj, ok := r.jobs[source+":"+name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s:%s", ErrJobNotFound, source, name)
	}
	if !rj.job.Manual {
		return fmt.Errorf("%w: %s:%s", ErrNotTriggerable, source, name)
	}

	r.logger.Info("manually triggering job", "source", source, "name", name)
	return r.run(ctx, rj)
}

// UpdateSchedule reschedules a job and persists the override.
func (r *Registry) UpdateSchedule(ctx context.Context, source, name, newSchedule string) error {
	if err := ValidateSchedule(newSchedule); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rj, ok := r.jobs[source+":"+name]
	if !ok {
		return fmt.Errorf("%w: %s:%s", ErrJobNotFound, source, name)
	}
	if err := r.reschedule(rj, newSchedule); err != nil {
		return err
	}

	if err := r.queries.UpsertSchedulerOverride(ctx, store.UpsertSchedulerOverrideParams{
		Source:           source,
		Name:             name,
		OverrideSchedule: newSchedule,
	}); err != nil {
		r.logger.Error("failed to persist schedule override", "error", err, "source", source, "name", name)
	}

	r.logger.Info("updated job schedule", "source", source, "name", name, "schedule", newSchedule)
	return nil
}

// ResetSchedule removes the override and restores the default schedule.
func (r *Registry) ResetSchedule(ctx context.Context, source, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rj, ok := r.jobs[source+":"+name]
	if !ok {
		return fmt.Errorf("%w: %s:%s", ErrJobNotFound, source, name)
	}

	if rj.schedule != rj.job.DefaultSchedule {
		if err := r.reschedule(rj, rj.job.DefaultSchedule); err != nil {
			return fmt.Errorf("failed to restore default schedule: %w", err)
		}
	}

	if err := r.queries.DeleteSchedulerOverride(ctx, store.DeleteSchedulerOverrideParams{
		Source: source,
		Name:   name,
	}); err != nil {
		r.logger.Error("failed to remove schedule override", "error", err, "source", source, "name", name)
	}

	r.logger.Info("reset job schedule to default", "source", source, "name", name, "schedule", rj.job.DefaultSchedule)
	return nil
}

// Unregister removes a job and its cron entry. Persisted overrides are kept.
func (r *Registry) Unregister(source, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := source + ":" + name
	rj, ok := r.jobs[key]
	if !ok {
		return
	}
	r.cron.Remove(rj.entryID)
	delete(r.jobs, key)

	r.logger.Debug("unregistered scheduled job", "source", source, "name", name)
}

// reschedule swaps the cron entry; the caller holds r.mu.
func (r *Registry) reschedule(rj *registeredJob, schedule string) error {
	r.cron.Remove(rj.entryID)
	newID, err := r.cron.AddFunc(schedule, r.runner(rj))
	if err != nil {
		fallbackID, fallbackErr := r.cron.AddFunc(rj.schedule, r.runner(rj))
		if fallbackErr != nil {
			return fmt.Errorf("critical: failed to restore schedule after update failure: %w (original: %w)", fallbackErr, err)
		}
		rj.entryID = fallbackID
		return fmt.Errorf("failed to apply new schedule: %w", err)
	}
	rj.entryID = newID
	rj.schedule = schedule
	return nil
}

// cronLogger routes robfig/cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
