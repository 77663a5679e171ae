package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// UsedTokenStore marks link-token ids as consumed using Redis SET NX, so a
// password-reset or verification link can be redeemed at most once.
type UsedTokenStore struct {
	client *goredis.Client
	prefix string
}

// NewUsedTokenStore creates a new Redis-backed used-token store.
func NewUsedTokenStore(client *goredis.Client) *UsedTokenStore {
	return &UsedTokenStore{
		client: client,
		prefix: "usedtoken:",
	}
}

// MarkUsed atomically checks whether the token id was already consumed and
// marks it if not. Returns true if this call consumed it, false if it was
// already spent. TTL should cover the token's remaining lifetime.
func (s *UsedTokenStore) MarkUsed(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	key := s.prefix + tokenID
	result, err := s.client.SetArgs(ctx, key, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			// key already exists, token was already consumed
			return false, nil
		}
		return false, fmt.Errorf("redis used-token check: %w", err)
	}
	return result == "OK", nil
}
