package cache

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNew(t *testing.T) {
	t.Run("invalid url", func(t *testing.T) {
		if _, err := New("http://localhost:6379", 0); err == nil {
			t.Error("expected error for non-redis scheme")
		}
	})

	t.Run("default ttl", func(t *testing.T) {
		r, err := New("redis://127.0.0.1:6379/0", 0)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer r.Close()
		if r.TTL() != DefaultTTL {
			t.Errorf("TTL() = %v", r.TTL())
		}
	})
}

func TestUnreachableServer(t *testing.T) {
	r, err := New("redis://127.0.0.1:1/0", time.Minute)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, ok, err := r.Get(ctx, "k"); err == nil || ok {
		t.Errorf("Get() = %v, %v; want connection error", ok, err)
	}
	if err := r.Set(ctx, "k", map[string]any{"a": 1}); err == nil {
		t.Error("Set() succeeded against an unreachable server")
	}
}

// TestRedisLive runs against a real server when SIFT_TEST_REDIS_URL is set.
func TestRedisLive(t *testing.T) {
	url := os.Getenv("SIFT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SIFT_TEST_REDIS_URL not set")
	}

	r, err := New(url, time.Minute)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer r.Close()
	ctx := context.Background()
	if err := r.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	key := uuid.NewString()
	if _, ok, err := r.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get(miss) = %v, %v", ok, err)
	}

	if err := r.Set(ctx, key, map[string]any{"name": "Jane", "age": 34}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	record, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if record["name"] != "Jane" || record["age"] != json.Number("34") {
		t.Errorf("record = %v", record)
	}

	ttl, err := r.client.TTL(ctx, KeyPrefix+key).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, %v", ttl, err)
	}
	r.client.Del(ctx, KeyPrefix+key)
}
