// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"database/sql"
	"time"
)

// State is a workflow state of a content item.
type State string

// Workflow states
const (
	StateDraft       State = "draft"
	StateSubmitted   State = "submitted"
	StateApproved    State = "approved"
	StateRejected    State = "rejected"
	StatePublished   State = "published"
	StateScheduled   State = "scheduled"
	StateUnpublished State = "unpublished"
)

// AllStates returns every workflow state in definition order.
func AllStates() []State {
	return []State{
		StateDraft,
		StateSubmitted,
		StateApproved,
		StateRejected,
		StatePublished,
		StateScheduled,
		StateUnpublished,
	}
}

// Valid reports whether s is a known workflow state.
func (s State) Valid() bool {
	for _, known := range AllStates() {
		if s == known {
			return true
		}
	}
	return false
}

// Action names a workflow transition requested by a caller.
type Action string

// Workflow actions
const (
	ActionSubmitReview Action = "submit_review"
	ActionApprove      Action = "approve"
	ActionReject       Action = "reject"
	ActionPublish      Action = "publish"
	ActionSchedule     Action = "schedule"
	ActionUnpublish    Action = "unpublish"
	ActionSaveDraft    Action = "save_draft"
)

// AllActions returns every workflow action.
func AllActions() []Action {
	return []Action{
		ActionSubmitReview,
		ActionApprove,
		ActionReject,
		ActionPublish,
		ActionSchedule,
		ActionUnpublish,
		ActionSaveDraft,
	}
}

// Valid reports whether a is a known workflow action.
func (a Action) Valid() bool {
	for _, known := range AllActions() {
		if a == known {
			return true
		}
	}
	return false
}

// AccessLevel controls who may read a content item. It is independent of the workflow state.
type AccessLevel string

// Access levels
const (
	AccessPublic  AccessLevel = "public"
	AccessPrivate AccessLevel = "private"
	AccessAdmin   AccessLevel = "admin"
)

// Valid reports whether l is a known access level.
func (l AccessLevel) Valid() bool {
	switch l {
	case AccessPublic, AccessPrivate, AccessAdmin:
		return true
	}
	return false
}

// Content represents a content item moving through the approval workflow.
type Content struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	State       State        `json:"state"`
	Version     int64        `json:"version"`
	AccessLevel AccessLevel  `json:"access_level"`
	AuthorID    int64        `json:"author_id"`
	PublishAt   sql.NullTime `json:"publish_at,omitempty"`
	UnpublishAt sql.NullTime `json:"unpublish_at,omitempty"`
	PublishedAt sql.NullTime `json:"published_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// IsPublished returns true if the content is published.
func (c *Content) IsPublished() bool {
	return c.State == StatePublished
}

// IsDueForPublish returns true if the content is scheduled and its publish time has passed.
func (c *Content) IsDueForPublish(now time.Time) bool {
	return c.State == StateScheduled && c.PublishAt.Valid && !now.Before(c.PublishAt.Time)
}

// IsDueForUnpublish returns true if the content is published and its unpublish time has passed.
func (c *Content) IsDueForUnpublish(now time.Time) bool {
	return c.State == StatePublished && c.UnpublishAt.Valid && !now.Before(c.UnpublishAt.Time)
}

// Transition is an append-only history record of one workflow state change.
type Transition struct {
	ID        int64     `json:"id"`
	ContentID int64     `json:"content_id"`
	FromState State     `json:"from_state"`
	ToState   State     `json:"to_state"`
	Action    Action    `json:"action"`
	ActorID   int64     `json:"actor_id"` // SystemActorID for scheduler transitions
	Reason    string    `json:"reason,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// IsSystem returns true if the transition was performed by the scheduler.
func (t *Transition) IsSystem() bool {
	return t.ActorID == SystemActorID
}

// TransitionEvent is the audit/notification payload emitted for a committed transition.
type TransitionEvent struct {
	ID         string     `json:"id"`
	Transition Transition `json:"transition"`
	Title      string     `json:"title"`
	OccurredAt time.Time  `json:"occurred_at"`
}
