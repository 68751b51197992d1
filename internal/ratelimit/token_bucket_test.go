package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBucket(t *testing.T, capacity int) *TokenBucket {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenBucket(client, capacity, 0.001, time.Minute)
}

func TestTokenBucketCapacity(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t, 2)

	allowed, _, err := bucket.Allow(ctx, "client-a")
	if err != nil || !allowed {
		t.Fatalf("expected first submission allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, "client-a")
	if !allowed {
		t.Fatalf("expected second submission allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "client-a")
	if allowed {
		t.Fatalf("expected third submission to be rejected")
	}

	// Refill is driven by Go's clock, not miniredis', so FastForward cannot be used here.
}

func TestTokenBucketClientsAreIsolated(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t, 1)

	if allowed, _, _ := bucket.Allow(ctx, "client-a"); !allowed {
		t.Fatalf("expected client-a allowed")
	}
	if allowed, _, _ := bucket.Allow(ctx, "client-b"); !allowed {
		t.Fatalf("client-b must have its own bucket")
	}
}
