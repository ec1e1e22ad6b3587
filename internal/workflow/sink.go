// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package workflow

import (
	"context"
	"errors"

	"github.com/olegiv/ocms-workflow/internal/model"
)

// Sink receives one event per committed transition. Emit is called after the
// commit; an error is logged and never undoes the transition.
type Sink interface {
	Emit(ctx context.Context, ev model.TransitionEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev model.TransitionEvent) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev model.TransitionEvent) error {
	return f(ctx, ev)
}

// MultiSink delivers every event to each of its sinks, even when some fail.
type MultiSink []Sink

// Emit forwards ev to all sinks and joins their errors.
func (m MultiSink) Emit(ctx context.Context, ev model.TransitionEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
