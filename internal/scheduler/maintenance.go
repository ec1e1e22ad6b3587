// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// MaintenanceSource groups housekeeping jobs in the registry.
const MaintenanceSource = "maintenance"

// LockPurger removes expired edit locks.
type LockPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// EventPruner deletes old event log entries.
type EventPruner interface {
	DeleteOldEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

// DeliveryRetrier re-queues webhook deliveries that are due for retry.
type DeliveryRetrier interface {
	RetryPending(ctx context.Context) (int, error)
}

// Maintenance lists the housekeeping targets. Nil fields skip their job.
type Maintenance struct {
	Locks    LockPurger
	Events   EventPruner
	Webhooks DeliveryRetrier
	// EventRetention is how long events are kept. Zero skips event cleanup.
	EventRetention time.Duration
}

// RegisterMaintenance adds the housekeeping jobs to reg.
func RegisterMaintenance(reg *Registry, m Maintenance, logger *slog.Logger) error {
	var jobs []Job

	if m.Locks != nil {
		jobs = append(jobs, Job{
			Source:          MaintenanceSource,
			Name:            "lock-purge",
			Description:     "Delete expired edit locks",
			DefaultSchedule: "@hourly",
			Manual:          true,
			Run: func(ctx context.Context) error {
				n, err := m.Locks.PurgeExpired(ctx)
				if err != nil {
					return fmt.Errorf("purging locks: %w", err)
				}
				if n > 0 {
					logger.Info("purged expired locks", "count", n)
				}
				return nil
			},
		})
	}

	if m.Events != nil && m.EventRetention > 0 {
		jobs = append(jobs, Job{
			Source:          MaintenanceSource,
			Name:            "event-retention",
			Description:     fmt.Sprintf("Delete events older than %d days", int(m.EventRetention.Hours()/24)),
			DefaultSchedule: "@daily",
			Manual:          true,
			Run: func(ctx context.Context) error {
				n, err := m.Events.DeleteOldEvents(ctx, m.EventRetention)
				if err != nil {
					return fmt.Errorf("deleting old events: %w", err)
				}
				logger.Info("cleaned up old events", "count", n, "retention", m.EventRetention)
				return nil
			},
		})
	}

	if m.Webhooks != nil {
		jobs = append(jobs, Job{
			Source:          MaintenanceSource,
			Name:            "webhook-retry",
			Description:     "Re-queue webhook deliveries due for retry",
			DefaultSchedule: "@every 1m",
			Run: func(ctx context.Context) error {
				n, err := m.Webhooks.RetryPending(ctx)
				if err != nil {
					return fmt.Errorf("retrying deliveries: %w", err)
				}
				if n > 0 {
					logger.Debug("re-queued webhook deliveries", "count", n)
				}
				return nil
			},
		})
	}

	var errs []error
	for _, job := range jobs {
		if err := reg.Register(job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
