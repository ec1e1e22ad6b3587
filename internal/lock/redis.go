// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/olegiv/ocms-workflow/internal/model"
)

// Lock values are "owner|acquired_ms|expires_ms".

var acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local owner, acquired = string.match(cur, '^(%d+)|(%d+)|')
  if owner ~= ARGV[1] then
    return {0, cur}
  end
  local v = owner .. '|' .. acquired .. '|' .. ARGV[3]
  redis.call('SET', KEYS[1], v, 'PX', ARGV[4])
  return {1, v}
end
local v = ARGV[1] .. '|' .. ARGV[2] .. '|' .. ARGV[3]
redis.call('SET', KEYS[1], v, 'NX', 'PX', ARGV[4])
return {1, v}
`)

var releaseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and string.match(cur, '^(%d+)|') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore keeps locks as expiring Redis keys so several service instances
// share them.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	URL            string
	Prefix         string
	PoolSize       int
	ConnectTimeout time.Duration
}

// DefaultRedisOptions returns sensible defaults.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Prefix:         "ocms:lock:",
		PoolSize:       10,
		ConnectTimeout: 5 * time.Second,
	}
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.PoolSize > 0 {
		redisOpts.PoolSize = opts.PoolSize
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultRedisOptions().ConnectTimeout
	}
	redisOpts.DialTimeout = opts.ConnectTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{client: client, prefix: opts.Prefix}, nil
}

// Name implements Store.
func (s *RedisStore) Name() string { return "redis" }

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(contentID int64) string {
	return s.prefix + strconv.FormatInt(contentID, 10)
}

// TryAcquire implements Store.
func (s *RedisStore) TryAcquire(ctx context.Context, contentID, ownerID int64, now time.Time, ttl time.Duration) (model.ContentLock, bool, error) {
	expires := now.Add(ttl)
	res, err := acquireScript.Run(ctx, s.client, []string{s.key(contentID)},
		ownerID,
		now.UnixMilli(),
		expires.UnixMilli(),
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return model.ContentLock{}, false, err
	}
	if len(res) != 2 {
		return model.ContentLock{}, false, fmt.Errorf("unexpected acquire reply %v", res)
	}

	granted, _ := res[0].(int64)
	raw, _ := res[1].(string)
	l, err := parseLockValue(contentID, raw)
	if err != nil {
		return model.ContentLock{}, false, err
	}
	return l, granted == 1, nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, contentID, ownerID int64, _ time.Time) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{s.key(contentID)}, ownerID).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, contentID int64, now time.Time) (model.ContentLock, bool, error) {
	raw, err := s.client.Get(ctx, s.key(contentID)).Result()
	if errors.Is(err, redis.Nil) {
		return model.ContentLock{}, false, nil
	}
	if err != nil {
		return model.ContentLock{}, false, err
	}
	l, err := parseLockValue(contentID, raw)
	if err != nil {
		return model.ContentLock{}, false, err
	}
	if !l.ActiveAt(now) {
		return model.ContentLock{}, false, nil
	}
	return l, true, nil
}

// PurgeExpired implements Store. Redis expires lock keys on its own.
func (s *RedisStore) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func parseLockValue(contentID int64, raw string) (model.ContentLock, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != 3 {
		return model.ContentLock{}, fmt.Errorf("malformed lock value %q", raw)
	}
	owner, err1 := strconv.ParseInt(parts[0], 10, 64)
	acquired, err2 := strconv.ParseInt(parts[1], 10, 64)
	expires, err3 := strconv.ParseInt(parts[2], 10, 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return model.ContentLock{}, fmt.Errorf("malformed lock value %q: %w", raw, err)
	}
	return model.ContentLock{
		ContentID:  contentID,
		OwnerID:    owner,
		AcquiredAt: time.UnixMilli(acquired).UTC(),
		ExpiresAt:  time.UnixMilli(expires).UTC(),
	}, nil
}
