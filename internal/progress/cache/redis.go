// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

// Package cache provides a Redis-backed progress.Cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/keystride/keystride/internal/progress"
)

// DefaultTTL bounds how long a cached record may outlive a missed invalidation.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "keystride:progress:"

// RedisCache stores progress records as JSON strings with an expiry.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache wraps client. A non-positive ttl uses DefaultTTL.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Key returns the Redis key holding the record of userID.
func Key(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10)
}

// Get implements progress.Cache. A missing key is a miss, not an error.
func (c *RedisCache) Get(ctx context.Context, userID int64) (*progress.Record, bool, error) {
	data, err := c.client.Get(ctx, Key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, oops.Code("CACHE_GET_FAILED").With("user_id", userID).Wrap(err)
	}

	var rec progress.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, oops.Code("CACHE_DECODE_FAILED").With("user_id", userID).Wrap(err)
	}
	return &rec, true, nil
}

// Set implements progress.Cache.
func (c *RedisCache) Set(ctx context.Context, rec *progress.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return oops.Code("CACHE_ENCODE_FAILED").With("user_id", rec.UserID).Wrap(err)
	}
	if err := c.client.Set(ctx, Key(rec.UserID), data, c.ttl).Err(); err != nil {
		return oops.Code("CACHE_SET_FAILED").With("user_id", rec.UserID).Wrap(err)
	}
	return nil
}

// Fill implements progress.Cache with SETNX, so an existing entry wins.
func (c *RedisCache) Fill(ctx context.Context, rec *progress.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return oops.Code("CACHE_ENCODE_FAILED").With("user_id", rec.UserID).Wrap(err)
	}
	if err := c.client.SetNX(ctx, Key(rec.UserID), data, c.ttl).Err(); err != nil {
		return oops.Code("CACHE_SET_FAILED").With("user_id", rec.UserID).With("mode", "fill").Wrap(err)
	}
	return nil
}

// Delete implements progress.Cache.
func (c *RedisCache) Delete(ctx context.Context, userID int64) error {
	if err := c.client.Del(ctx, Key(userID)).Err(); err != nil {
		return oops.Code("CACHE_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// Ping reports whether Redis is reachable. Used by readiness checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return oops.Code("CACHE_UNAVAILABLE").Wrap(err)
	}
	return nil
}

var _ progress.Cache = (*RedisCache)(nil)
