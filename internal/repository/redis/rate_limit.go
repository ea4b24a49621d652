package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/koshcoop/society-security/internal/core/port"
)

// AttemptStore keeps per-identifier attempt timestamps in Redis sorted sets,
// scored by nanosecond timestamp, so the middleware can enforce a sliding
// window without ever reading then writing a counter.
type AttemptStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewAttemptStore constructs a store. ttl bounds how long idle keys survive;
// it should comfortably exceed the largest window in use.
func NewAttemptStore(client *redis.Client, prefix string, ttl time.Duration) *AttemptStore {
	return &AttemptStore{client: client, prefix: prefix, ttl: ttl}
}

// RecordAttempt stores the attempt timestamp and refreshes the key TTL.
// Members carry a random suffix so attempts landing in the same nanosecond
// stay distinct entries in the set.
func (s *AttemptStore) RecordAttempt(ctx context.Context, identifier string, at time.Time) error {
	key := s.key(identifier)
	score := at.UnixNano()
	member := strconv.FormatInt(score, 10) + ":" + uuid.NewString()

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member})
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record attempt: %w", err)
	}

	return nil
}

// CountAttempts counts attempts inside the window ending at reference.
func (s *AttemptStore) CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	count, err := s.client.ZCount(ctx, s.key(identifier),
		scoreArg(reference.Add(-window)), scoreArg(reference)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount: %w", err)
	}

	return int(count), nil
}

// TrimWindow discards attempts that fell out of the window.
func (s *AttemptStore) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errors.New("window must be positive")
	}

	err := s.client.ZRemRangeByScore(ctx, s.key(identifier), "-inf", scoreArg(reference.Add(-window))).Err()
	if err != nil {
		return fmt.Errorf("redis zremrangebyscore: %w", err)
	}

	return nil
}

// OldestAttempt returns the earliest attempt still inside the window, used to
// compute a Retry-After hint.
func (s *AttemptStore) OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if window <= 0 {
		return time.Time{}, false, errors.New("window must be positive")
	}

	values, err := s.client.ZRangeByScore(ctx, s.key(identifier), &redis.ZRangeBy{
		Min:   scoreArg(reference.Add(-window)),
		Max:   scoreArg(reference),
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	if len(values) == 0 {
		return time.Time{}, false, nil
	}

	tsPart, _, _ := strings.Cut(values[0], ":")
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse attempt timestamp: %w", err)
	}

	return time.Unix(0, ts), true, nil
}

func (s *AttemptStore) key(identifier string) string {
	if s.prefix == "" {
		return identifier
	}
	return s.prefix + ":" + identifier
}

func scoreArg(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

var _ port.RateLimitStore = (*AttemptStore)(nil)
