package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TraceIDHeader carries the trace ID on requests and responses.
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the gin context key for the trace ID.
	TraceIDKey = "trace_id"

	requestContextKey = "request_context"
)

// RequestContext carries request-scoped metadata for logging and auditing.
// AccountID stays empty until RequireAuth resolves the caller.
type RequestContext struct {
	TraceID   string
	AccountID string
	IP        string
	UserAgent string
}

// EnrichContext assigns a trace ID (honoring one supplied by the caller)
// and captures client metadata for downstream middleware and handlers.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		c.Set(requestContextKey, &RequestContext{
			TraceID:   traceID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})

		c.Next()
	}
}

// GetTraceID returns the request's trace ID, or "" before EnrichContext ran.
func GetTraceID(c *gin.Context) string {
	if value, exists := c.Get(TraceIDKey); exists {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}

// GetRequestContext returns the request metadata. Never nil.
func GetRequestContext(c *gin.Context) *RequestContext {
	if value, exists := c.Get(requestContextKey); exists {
		if reqCtx, ok := value.(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{}
}
