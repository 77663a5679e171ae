package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// AttemptStore tracks failed-attempt counters per (action, identity, ip)
// key for the login-path rate limiter. Counters use atomic INCR so two
// concurrent failures never lose an update, and the key TTL garbage-collects
// stale windows without an explicit sweep.
type AttemptStore struct {
	client *goredis.Client
	prefix string
}

// NewAttemptStore creates a new Redis-backed attempt store.
func NewAttemptStore(client *goredis.Client) *AttemptStore {
	return &AttemptStore{
		client: client,
		prefix: "attempts:",
	}
}

// Failures returns the current failure count for the key. A missing key
// (never failed, or window elapsed) reads as zero.
func (s *AttemptStore) Failures(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if err == goredis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redis attempts get: %w", err)
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis attempts parse: %w", err)
	}
	return count, nil
}

// RecordFailure atomically increments the failure counter, starting the
// window on the first failure.
func (s *AttemptStore) RecordFailure(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := s.prefix + key

	count, err := s.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis attempts incr: %w", err)
	}

	if count == 1 {
		s.client.Expire(ctx, redisKey, window)
	}

	return count, nil
}

// Reset clears the counter, e.g. after a successful login.
func (s *AttemptStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis attempts del: %w", err)
	}
	return nil
}
