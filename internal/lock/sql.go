// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package lock

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/store"
)

// acquireAttempts bounds retries when a competing lock vanishes between the
// conditional upsert and the follow-up read.
const acquireAttempts = 3

// SQLStore keeps locks in the content_locks table.
type SQLStore struct {
	queries *store.Queries
}

// NewSQLStore creates a lock store backed by db.
func NewSQLStore(db store.DBTX) *SQLStore {
	return &SQLStore{queries: store.New(db)}
}

// Name implements Store.
func (s *SQLStore) Name() string { return "sql" }

// TryAcquire implements Store.
func (s *SQLStore) TryAcquire(ctx context.Context, contentID, ownerID int64, now time.Time, ttl time.Duration) (model.ContentLock, bool, error) {
	for range acquireAttempts {
		n, err := s.queries.UpsertContentLock(ctx, store.UpsertContentLockParams{
			ContentID:  contentID,
			OwnerID:    ownerID,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
			Now:        now,
		})
		if err != nil {
			return model.ContentLock{}, false, err
		}

		row, err := s.queries.GetContentLock(ctx, contentID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return model.ContentLock{}, false, err
		}
		l := lockToModel(row)

		if n > 0 && l.OwnerID == ownerID {
			return l, true, nil
		}
		if l.ActiveAt(now) && l.OwnerID != ownerID {
			return l, false, nil
		}
	}
	return model.ContentLock{}, false, errors.New("lock contention did not settle")
}

// Release implements Store.
func (s *SQLStore) Release(ctx context.Context, contentID, ownerID int64, now time.Time) (bool, error) {
	n, err := s.queries.DeleteContentLock(ctx, store.DeleteContentLockParams{
		ContentID: contentID,
		OwnerID:   ownerID,
		Now:       now,
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, contentID int64, now time.Time) (model.ContentLock, bool, error) {
	row, err := s.queries.GetContentLock(ctx, contentID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ContentLock{}, false, nil
	}
	if err != nil {
		return model.ContentLock{}, false, err
	}
	l := lockToModel(row)
	if !l.ActiveAt(now) {
		return model.ContentLock{}, false, nil
	}
	return l, true, nil
}

// PurgeExpired implements Store.
func (s *SQLStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.queries.DeleteExpiredContentLocks(ctx, now)
}

func lockToModel(l store.ContentLock) model.ContentLock {
	return model.ContentLock{
		ContentID:  l.ContentID,
		OwnerID:    l.OwnerID,
		AcquiredAt: l.AcquiredAt,
		ExpiresAt:  l.ExpiresAt,
	}
}
