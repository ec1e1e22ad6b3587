// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package model defines domain models and types used throughout the application
// including Content, Transition, ContentLock, User and API key structures.
package model

import (
	"time"
)

// Role is a user role that gates workflow transitions.
type Role string

// User roles
const (
	RoleAdmin     Role = "admin"
	RoleEditor    Role = "editor"
	RoleReviewer  Role = "reviewer"
	RolePublisher Role = "publisher"
	// RoleSystem is held only by the scheduler.
	RoleSystem Role = "system"
)

// SystemActorID is the actor ID used for transitions performed by the scheduler.
const SystemActorID int64 = 0

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleReviewer, RolePublisher, RoleSystem:
		return true
	}
	return false
}

// Satisfies reports whether a user holding r may act as want.
// Admin satisfies every human role; system satisfies only itself.
func (r Role) Satisfies(want Role) bool {
	if r == want {
		return true
	}
	return r == RoleAdmin && want != RoleSystem
}

// User represents a CMS user.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin returns true if the user has admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
