package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type fakeAttemptStore struct {
	count     int
	countErr  error
	trimErr   error
	oldest    time.Time
	hasOldest bool
	oldestErr error
	recordErr error

	recordCalls int
	lastKey     string
}

func (f *fakeAttemptStore) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	return f.trimErr
}

func (f *fakeAttemptStore) CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	f.lastKey = identifier
	return f.count, f.countErr
}

func (f *fakeAttemptStore) RecordAttempt(ctx context.Context, identifier string, at time.Time) error {
	f.recordCalls++
	return f.recordErr
}

func (f *fakeAttemptStore) OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	return f.oldest, f.hasOldest, f.oldestErr
}

func TestRateLimitAllowsBelowLimit(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeAttemptStore{
		count:     2,
		oldest:    now.Add(-30 * time.Second),
		hasOldest: true,
	}

	router := limitedRouterT(t, store, now, 5)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if store.recordCalls != 1 {
		t.Fatalf("expected 1 recorded attempt, got %d", store.recordCalls)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("expected limit header 5, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Fatalf("expected remaining header 2, got %q", got)
	}
	wantReset := store.oldest.Add(time.Minute).Unix()
	if got := rr.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(wantReset, 10) {
		t.Fatalf("expected reset header %d, got %q", wantReset, got)
	}
	if got := rr.Header().Get("Retry-After"); got != "" {
		t.Fatalf("unexpected retry-after header %q", got)
	}
}

func TestRateLimitBlocksAtLimit(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeAttemptStore{
		count:     5,
		oldest:    now.Add(-30 * time.Second),
		hasOldest: true,
	}

	router := limitedRouterT(t, store, now, 5)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if store.recordCalls != 0 {
		t.Fatalf("blocked request must not record an attempt, got %d", store.recordCalls)
	}
	if got := rr.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected retry-after 30, got %q", got)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if problem.Status != http.StatusTooManyRequests {
		t.Fatalf("unexpected problem status %d", problem.Status)
	}
	if problem.RetryAfter != 30 {
		t.Fatalf("expected problem retry_after 30, got %d", problem.RetryAfter)
	}
}

func TestRateLimitFailsOpenWhenStoreDown(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeAttemptStore{trimErr: errors.New("redis down")}

	router := limitedRouterT(t, store, now, 5)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when failing open, got %d", rr.Code)
	}
	if store.recordCalls != 0 {
		t.Fatalf("expected no recorded attempt on store failure, got %d", store.recordCalls)
	}
}

func limitedRouterT(t *testing.T, store *fakeAttemptStore, now time.Time, limit int) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })

	router := gin.New()
	router.Use(limiter.RateLimit(RateLimitRule{
		Name:   "login",
		Limit:  limit,
		Window: time.Minute,
		Identifier: func(c *gin.Context) (string, bool) {
			return "203.0.113.9", true
		},
	}))
	router.POST("/login", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}
