package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// IngestCache deduplicates webhook ingestion: the payload fingerprint maps
// to the id of the event it already produced, for the dedup window.
type IngestCache struct {
	client *goredis.Client
	prefix string
}

// NewIngestCache creates a new Redis-backed ingestion dedup cache.
func NewIngestCache(client *goredis.Client) *IngestCache {
	return &IngestCache{
		client: client,
		prefix: "ingest:",
	}
}

// Get returns the event id recorded for the fingerprint, or "" on miss.
func (c *IngestCache) Get(ctx context.Context, fingerprint string) (string, error) {
	val, err := c.client.Get(ctx, c.prefix+fingerprint).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("redis ingest get: %w", err)
	}
	return val, nil
}

// Set records the event id for the fingerprint with the dedup TTL.
func (c *IngestCache) Set(ctx context.Context, fingerprint, eventID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+fingerprint, eventID, ttl).Err(); err != nil {
		return fmt.Errorf("redis ingest set: %w", err)
	}
	return nil
}
