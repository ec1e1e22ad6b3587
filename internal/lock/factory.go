// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package lock

import (
	"log/slog"

	"github.com/olegiv/ocms-workflow/internal/store"
)

// StoreConfig selects a lock backend.
type StoreConfig struct {
	// RedisURL enables the Redis backend when set.
	RedisURL string
	// Prefix is prepended to Redis keys.
	Prefix string
}

// NewStoreFromConfig returns a Redis store when RedisURL is set and reachable,
// otherwise the SQL store on db.
func NewStoreFromConfig(cfg StoreConfig, db store.DBTX, logger *slog.Logger) Store {
	if cfg.RedisURL == "" {
		return NewSQLStore(db)
	}

	opts := DefaultRedisOptions()
	opts.URL = cfg.RedisURL
	if cfg.Prefix != "" {
		opts.Prefix = cfg.Prefix
	}

	rs, err := NewRedisStore(opts)
	if err != nil {
		logger.Warn("redis lock store unavailable, falling back to sql", "error", err)
		return NewSQLStore(db)
	}
	logger.Info("using redis lock store", "prefix", opts.Prefix)
	return rs
}
