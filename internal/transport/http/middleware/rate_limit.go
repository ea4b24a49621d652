package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/koshcoop/society-security/internal/core/port"
)

const rateLimitProblemType = "https://security.koshcoop.example.com/errors/rate-limit-exceeded"

// IdentifierFunc extracts the key a limit is scoped by, usually the client IP.
// Returning false skips the limit for the request.
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule is a sliding-window limit applied to one endpoint group.
// Name keeps the attempt log for different endpoints in separate keys.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// ProblemDetails is the RFC 9457 payload returned on a 429.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// RateLimiter enforces per-endpoint attempt limits on top of a
// port.RateLimitStore. It fails open: a broken store never blocks
// authentication traffic, it only stops counting it.
type RateLimiter struct {
	store  port.RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock substitutes the time source for tests.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier scopes a rule by the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		return ip, ip != ""
	}
}

// RateLimit returns middleware enforcing the rule. Requests over the limit
// receive 429 with rate-limit headers; the blocked request itself is not
// recorded as an attempt.
func (rl *RateLimiter) RateLimit(rule RateLimitRule) gin.HandlerFunc {
	if rl.store == nil || rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if rule.Name == "" {
		rule.Name = "default"
	}

	return func(c *gin.Context) {
		identifier, ok := rule.Identifier(c)
		if !ok {
			c.Next()
			return
		}

		now := rl.now()
		key := rule.Name + ":" + identifier
		ctx := c.Request.Context()

		failOpen := func(err error) {
			rl.logger.Warn("rate limit check failed",
				zap.String("rule", rule.Name),
				zap.String("identifier", identifier),
				zap.Error(err),
			)
			c.Next()
		}

		if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
			failOpen(err)
			return
		}

		count, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
		if err != nil {
			failOpen(err)
			return
		}

		reset := now.Add(rule.Window)
		if oldest, has, err := rl.store.OldestAttempt(ctx, key, rule.Window, now); err != nil {
			failOpen(err)
			return
		} else if has {
			reset = oldest.Add(rule.Window)
		}

		if count >= rule.Limit {
			rl.reject(c, rule, reset, now)
			return
		}

		if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
			failOpen(err)
			return
		}

		remaining := rule.Limit - count - 1
		if remaining < 0 {
			remaining = 0
		}
		setRateLimitHeaders(c, rule.Limit, remaining, reset)

		c.Next()
	}
}

func (rl *RateLimiter) reject(c *gin.Context, rule RateLimitRule, reset, now time.Time) {
	retryAfter := int(math.Ceil(reset.Sub(now).Seconds()))
	if retryAfter < 0 {
		retryAfter = 0
	}

	setRateLimitHeaders(c, rule.Limit, 0, reset)
	c.Header("Retry-After", strconv.Itoa(retryAfter))

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      "Rate Limit Exceeded",
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many attempts. Try again in %d seconds.", retryAfter),
		RetryAfter: retryAfter,
		TraceID:    GetTraceID(c),
	})
}

func setRateLimitHeaders(c *gin.Context, limit, remaining int, reset time.Time) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}
