package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newLimiter(t *testing.T) (Limiter, *fakeClock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	clock := &fakeClock{t: time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)}
	return Limiter{Client: client, Prefix: "test:", Now: clock.Now}, clock
}

func TestLimiterSlidesWithOldestRequest(t *testing.T) {
	limiter, clock := newLimiter(t)
	ctx := context.Background()
	window := 10 * time.Second
	start := clock.Now()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "till-1", window, 2)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !d.Allowed || d.Remaining != 1-i {
			t.Fatalf("request %d: %+v", i, d)
		}
		clock.Advance(4 * time.Second)
	}

	d, err := limiter.Allow(ctx, "till-1", window, 2)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected third request in window to be rejected")
	}
	if !d.ResetAt.Equal(start.Add(window)) {
		t.Fatalf("reset at %v, want %v", d.ResetAt, start.Add(window))
	}

	// The first request ages out at 10s; the second (at 4s) still counts.
	clock.Advance(3 * time.Second)
	d, err = limiter.Allow(ctx, "till-1", window, 2)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected one slot after the oldest expired, got %+v", d)
	}
}

func TestLimiterDoesNotCountRejections(t *testing.T) {
	limiter, clock := newLimiter(t)
	ctx := context.Background()

	if d, _ := limiter.Allow(ctx, "till-2", time.Second, 1); !d.Allowed {
		t.Fatal("first request should pass")
	}
	for i := 0; i < 5; i++ {
		if d, _ := limiter.Allow(ctx, "till-2", time.Second, 1); d.Allowed {
			t.Fatal("expected rejection inside the window")
		}
	}
	clock.Advance(1100 * time.Millisecond)
	if d, _ := limiter.Allow(ctx, "till-2", time.Second, 1); !d.Allowed {
		t.Fatal("rejected attempts should not extend the window")
	}
}

func TestLimiterWithoutClientAllows(t *testing.T) {
	d, err := Limiter{}.Allow(context.Background(), "k", time.Second, 3)
	if err != nil || !d.Allowed || d.Remaining != 3 {
		t.Fatalf("unexpected decision %+v err %v", d, err)
	}
}
