// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package lock provides advisory, expiring edit locks on content items.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/olegiv/ocms-workflow/internal/metrics"
	"github.com/olegiv/ocms-workflow/internal/model"
)

var (
	// ErrLockHeld is returned when another actor holds an unexpired lock.
	ErrLockHeld = errors.New("content is locked by another user")
	// ErrNotLockOwner is returned when releasing a lock the caller does not hold.
	ErrNotLockOwner = errors.New("lock is not held by this user")
	// ErrInvalidTTL is returned for negative lock durations.
	ErrInvalidTTL = errors.New("lock ttl must not be negative")
)

// HeldError reports who holds a contested lock. It matches ErrLockHeld.
type HeldError struct {
	ContentID int64
	HolderID  int64
	ExpiresAt time.Time
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("content %d is locked by user %d until %s",
		e.ContentID, e.HolderID, e.ExpiresAt.UTC().Format(time.RFC3339))
}

func (e *HeldError) Unwrap() error {
	return ErrLockHeld
}

// Status is the lock state of a content item at a point in time.
type Status struct {
	ContentID  int64     `json:"content_id"`
	Locked     bool      `json:"locked"`
	OwnerID    int64     `json:"owner_id,omitempty"`
	AcquiredAt time.Time `json:"acquired_at,omitzero"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
}

// HeldByOther reports whether the item is locked by someone other than actorID.
func (s Status) HeldByOther(actorID int64) bool {
	return s.Locked && s.OwnerID != actorID
}

// Store is a lock backend. Implementations must make TryAcquire and Release
// atomic per content item.
type Store interface {
	// TryAcquire creates the lock, extends it when ownerID already holds it,
	// or reclaims it when expired. If another owner holds an unexpired lock it
	// returns that lock and false.
	TryAcquire(ctx context.Context, contentID, ownerID int64, now time.Time, ttl time.Duration) (model.ContentLock, bool, error)
	// Release deletes the lock if ownerID holds it unexpired, reporting whether it did.
	Release(ctx context.Context, contentID, ownerID int64, now time.Time) (bool, error)
	// Get returns the unexpired lock on contentID, if any.
	Get(ctx context.Context, contentID int64, now time.Time) (model.ContentLock, bool, error)
	// PurgeExpired removes expired lock records.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	// Name identifies the backend in logs.
	Name() string
}

// Config holds lock durations.
type Config struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

// DefaultConfig returns a five minute default TTL capped at one hour.
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     time.Hour,
	}
}

// Manager grants and checks edit locks.
type Manager struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records lock operations.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a lock manager over store.
func NewManager(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = def.MaxTTL
	}
	if cfg.DefaultTTL > cfg.MaxTTL {
		cfg.DefaultTTL = cfg.MaxTTL
	}
	m := &Manager{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backend returns the name of the lock store in use.
func (m *Manager) Backend() string {
	return m.store.Name()
}

// EffectiveTTL resolves a requested TTL: zero means the default, and values
// above the maximum are clamped.
func (m *Manager) EffectiveTTL(ttl time.Duration) (time.Duration, error) {
	switch {
	case ttl < 0:
		return 0, ErrInvalidTTL
	case ttl == 0:
		return m.cfg.DefaultTTL, nil
	case ttl > m.cfg.MaxTTL:
		return m.cfg.MaxTTL, nil
	}
	return ttl, nil
}

// Acquire takes or renews the edit lock on contentID for actorID.
// A lock held by another actor yields a *HeldError.
func (m *Manager) Acquire(ctx context.Context, contentID, actorID int64, ttl time.Duration) (model.ContentLock, error) {
	ttl, err := m.EffectiveTTL(ttl)
	if err != nil {
		m.metrics.LockOp("acquire", "invalid")
		return model.ContentLock{}, err
	}

	l, ok, err := m.store.TryAcquire(ctx, contentID, actorID, m.now(), ttl)
	if err != nil {
		m.metrics.LockOp("acquire", "error")
		return model.ContentLock{}, fmt.Errorf("acquiring lock on content %d: %w", contentID, err)
	}
	if !ok {
		m.metrics.LockOp("acquire", "held")
		return model.ContentLock{}, &HeldError{ContentID: contentID, HolderID: l.OwnerID, ExpiresAt: l.ExpiresAt}
	}

	m.metrics.LockOp("acquire", "ok")
	m.logger.Debug("content lock acquired",
		"content_id", contentID,
		"owner_id", actorID,
		"expires_at", l.ExpiresAt,
	)
	return l, nil
}

// Release drops actorID's lock on contentID.
func (m *Manager) Release(ctx context.Context, contentID, actorID int64) error {
	released, err := m.store.Release(ctx, contentID, actorID, m.now())
	if err != nil {
		m.metrics.LockOp("release", "error")
		return fmt.Errorf("releasing lock on content %d: %w", contentID, err)
	}
	if !released {
		m.metrics.LockOp("release", "not_owner")
		return ErrNotLockOwner
	}
	m.metrics.LockOp("release", "ok")
	m.logger.Debug("content lock released", "content_id", contentID, "owner_id", actorID)
	return nil
}

// Check reports the current lock on contentID. Backend failures are logged
// and reported as unlocked.
func (m *Manager) Check(ctx context.Context, contentID int64) Status {
	l, ok, err := m.store.Get(ctx, contentID, m.now())
	if err != nil {
		m.metrics.LockOp("check", "error")
		m.logger.Error("checking content lock", "content_id", contentID, "backend", m.store.Name(), "error", err)
		return Status{ContentID: contentID}
	}
	m.metrics.LockOp("check", "ok")
	if !ok {
		return Status{ContentID: contentID}
	}
	return Status{
		ContentID:  contentID,
		Locked:     true,
		OwnerID:    l.OwnerID,
		AcquiredAt: l.AcquiredAt,
		ExpiresAt:  l.ExpiresAt,
	}
}

// PurgeExpired deletes expired lock records from the backend.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.store.PurgeExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("purging expired locks: %w", err)
	}
	if n > 0 {
		m.logger.Info("purged expired content locks", "count", n)
	}
	return n, nil
}
