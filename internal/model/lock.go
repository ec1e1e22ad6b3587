// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import "time"

// ContentLock is an advisory exclusive edit lock on a content item.
type ContentLock struct {
	ContentID  int64     `json:"content_id"`
	OwnerID    int64     `json:"owner_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ActiveAt reports whether the lock is still valid at now.
func (l *ContentLock) ActiveAt(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// HeldBy reports whether the lock is valid at now and owned by ownerID.
func (l *ContentLock) HeldBy(ownerID int64, now time.Time) bool {
	return l.OwnerID == ownerID && l.ActiveAt(now)
}
