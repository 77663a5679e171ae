package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mindwell-platform/internal/core/ports"

	"github.com/rs/zerolog"
)

// AttemptCounter is the storage backing the authentication rate limiter.
// Implemented by the Redis attempt store.
type AttemptCounter interface {
	Failures(ctx context.Context, key string) (int64, error)
	RecordFailure(ctx context.Context, key string, window time.Duration) (int64, error)
	Reset(ctx context.Context, key string) error
}

// RateLimitPolicy caps the number of failed attempts per fixed window.
type RateLimitPolicy struct {
	MaxAttempts int64
	Window      time.Duration
}

// DefaultRateLimitPolicies returns the per-action limits for
// authentication flows. Request-level API limits live in the HTTP
// middleware, not here.
func DefaultRateLimitPolicies() map[ports.RateLimitAction]RateLimitPolicy {
	return map[ports.RateLimitAction]RateLimitPolicy{
		ports.ActionLogin:         {MaxAttempts: 5, Window: 15 * time.Minute},
		ports.ActionRegistration:  {MaxAttempts: 3, Window: time.Hour},
		ports.ActionPasswordReset: {MaxAttempts: 3, Window: time.Hour},
	}
}

type rateLimitService struct {
	store    AttemptCounter
	policies map[ports.RateLimitAction]RateLimitPolicy
	log      zerolog.Logger
}

// NewRateLimitService creates the auth-flow rate limiter. A nil policy
// map falls back to the defaults.
func NewRateLimitService(store AttemptCounter, policies map[ports.RateLimitAction]RateLimitPolicy, log zerolog.Logger) ports.RateLimiter {
	if policies == nil {
		policies = DefaultRateLimitPolicies()
	}
	return &rateLimitService{
		store:    store,
		policies: policies,
		log:      log,
	}
}

func (s *rateLimitService) key(action ports.RateLimitAction, identity, ip string) string {
	return fmt.Sprintf("%s:%s:%s", action, strings.ToLower(identity), ip)
}

func (s *rateLimitService) CheckAllowed(ctx context.Context, identity, ip string, action ports.RateLimitAction) (bool, error) {
	policy, ok := s.policies[action]
	if !ok {
		return true, nil
	}

	failures, err := s.store.Failures(ctx, s.key(action, identity, ip))
	if err != nil {
		// Degraded mode: a limiter outage must not lock everyone out.
		s.log.Warn().Err(err).Str("action", string(action)).Msg("rate limit check failed, allowing request")
		return true, nil
	}

	return failures < policy.MaxAttempts, nil
}

func (s *rateLimitService) RecordAttempt(ctx context.Context, identity, ip string, action ports.RateLimitAction, success bool) error {
	policy, ok := s.policies[action]
	if !ok {
		return nil
	}

	key := s.key(action, identity, ip)
	if success {
		if err := s.store.Reset(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("action", string(action)).Msg("failed to reset rate limit counter")
			return err
		}
		return nil
	}

	if _, err := s.store.RecordFailure(ctx, key, policy.Window); err != nil {
		s.log.Warn().Err(err).Str("action", string(action)).Msg("failed to record rate limit failure")
		return err
	}
	return nil
}
