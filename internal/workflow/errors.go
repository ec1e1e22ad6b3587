// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package workflow

import (
	"errors"
	"fmt"

	"github.com/olegiv/ocms-workflow/internal/lock"
	"github.com/olegiv/ocms-workflow/internal/model"
)

// Sentinel errors returned by the engine. Match them with errors.Is.
var (
	ErrNotFound               = errors.New("content not found")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrPreconditionFailed     = errors.New("precondition failed")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidInput           = errors.New("invalid input")
)

// Error describes a rejected workflow operation. Kind is one of the sentinel
// errors above and is what errors.Is matches against.
type Error struct {
	Kind      error
	ContentID int64
	Action    model.Action
	State     model.State
	Detail    string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("workflow: %v", e.Kind)
	if e.ContentID != 0 {
		msg += fmt.Sprintf(" (content %d", e.ContentID)
		if e.State != "" {
			msg += fmt.Sprintf(", state %s", e.State)
		}
		if e.Action != "" {
			msg += fmt.Sprintf(", action %s", e.Action)
		}
		msg += ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, c *model.Content, action model.Action, detail string) *Error {
	e := &Error{Kind: kind, Action: action, Detail: detail}
	if c != nil {
		e.ContentID = c.ID
		e.State = c.State
	}
	return e
}

// ResultLabel classifies err for metrics and logs. A nil error is "ok".
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrPreconditionFailed):
		return "precondition_failed"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, lock.ErrLockHeld):
		return "lock_held"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
