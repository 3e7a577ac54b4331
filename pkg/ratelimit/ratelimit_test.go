package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupLimiter(t *testing.T) *RedisLimiter {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return New(rdb)
}

func TestAllowWithinBurst(t *testing.T) {
	l := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, "email", 1, 5)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Fatalf("expected request %d to be allowed within burst", i)
		}
	}
}

func TestAllowDeniesAboveBurst(t *testing.T) {
	l := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Allow(ctx, "sms", 0, 3); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}
	ok, err := l.Allow(ctx, "sms", 0, 3)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("expected the 4th request with zero refill rate to be denied")
	}
}

func TestAllowIsolatesByKey(t *testing.T) {
	l := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.Allow(ctx, "a", 0, 2); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}
	ok, err := l.Allow(ctx, "b", 0, 2)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !ok {
		t.Fatal("expected a fresh key to have its own bucket")
	}
}
