// Package cache stores validated extraction records in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jackzampolin/sift/internal/extraction"
	"github.com/jackzampolin/sift/internal/schema"
)

// KeyPrefix namespaces cached records.
const KeyPrefix = "sift:result:"

// DefaultTTL applies when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Redis is an extraction.Cache backed by a Redis server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ extraction.Cache = (*Redis)(nil)

// New connects to the Redis server at url (redis://host:port/db).
func New(url string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: redis.NewClient(opt), ttl: ttl}, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get returns the record cached under key. A miss is not an error.
func (r *Redis) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	data, err := r.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	record, err := schema.DecodeRecord(data)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return record, true, nil
}

// Set caches record under key for the configured TTL.
func (r *Redis) Set(ctx context.Context, key string, record map[string]any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, KeyPrefix+key, data, r.ttl).Err()
}

// TTL returns the expiry applied to new entries.
func (r *Redis) TTL() time.Duration {
	return r.ttl
}

func (r *Redis) Close() error {
	return r.client.Close()
}
