package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *AttemptStore {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewAttemptStore(client, "ratelimit", time.Hour)
}

func TestAttemptStoreCountsSameInstantAttempts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := store.RecordAttempt(ctx, "login:203.0.113.9", at); err != nil {
			t.Fatalf("record attempt %d: %v", i+1, err)
		}
	}

	count, err := store.CountAttempts(ctx, "login:203.0.113.9", time.Minute, at)
	if err != nil {
		t.Fatalf("count attempts: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 attempts at the same instant, got %d", count)
	}
}

func TestAttemptStoreWindowing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(-2 * time.Minute),
		base.Add(-30 * time.Second),
		base.Add(-5 * time.Second),
	}
	for _, at := range times {
		if err := store.RecordAttempt(ctx, "unlock:203.0.113.9", at); err != nil {
			t.Fatalf("record attempt at %s: %v", at, err)
		}
	}

	count, err := store.CountAttempts(ctx, "unlock:203.0.113.9", time.Minute, base)
	if err != nil {
		t.Fatalf("count attempts: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 attempts inside the window, got %d", count)
	}

	oldest, ok, err := store.OldestAttempt(ctx, "unlock:203.0.113.9", time.Minute, base)
	if err != nil {
		t.Fatalf("oldest attempt: %v", err)
	}
	if !ok {
		t.Fatal("expected an attempt inside the window")
	}
	if !oldest.Equal(base.Add(-30 * time.Second)) {
		t.Fatalf("oldest attempt = %s, want %s", oldest, base.Add(-30*time.Second))
	}

	if err := store.TrimWindow(ctx, "unlock:203.0.113.9", time.Minute, base); err != nil {
		t.Fatalf("trim window: %v", err)
	}
	count, err = store.CountAttempts(ctx, "unlock:203.0.113.9", 10*time.Minute, base)
	if err != nil {
		t.Fatalf("count after trim: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected trimmed set to hold 2 attempts, got %d", count)
	}
}
