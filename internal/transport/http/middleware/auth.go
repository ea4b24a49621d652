package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/koshcoop/society-security/internal/core/domain"
	"github.com/koshcoop/society-security/internal/infra/security"
	"github.com/koshcoop/society-security/internal/usecase"
)

const (
	// AccountIDKey is the context key for the authenticated account ID.
	AccountIDKey = "account_id"
	// SessionIDKey is the context key for the validated session ID.
	SessionIDKey = "session_id"
	// RoleKey is the context key for the authenticated account role.
	RoleKey = "role"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireAuth validates the Authorization header and the session it names.
// The session check enforces single-active-session and the idle timeout on
// every authenticated request.
func RequireAuth(issuer *security.TokenIssuer, sessions *usecase.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing access token"))
			return
		}

		claims, err := issuer.Parse(token)
		if err != nil {
			switch {
			case errors.Is(err, security.ErrExpiredAccessToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "access token expired"))
			case errors.Is(err, security.ErrInvalidAccessToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "invalid access token"))
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					newErrorResponse(c, "authentication failed"))
			}
			return
		}

		if sessions != nil {
			ip := c.ClientIP()
			ua := c.Request.UserAgent()
			var ipPtr, uaPtr *string
			if ip != "" {
				ipPtr = &ip
			}
			if ua != "" {
				uaPtr = &ua
			}

			if _, err := sessions.Validate(c.Request.Context(), claims.SessionID, ipPtr, uaPtr); err != nil {
				switch {
				case errors.Is(err, usecase.ErrSessionExpired):
					c.AbortWithStatusJSON(http.StatusUnauthorized,
						newErrorResponse(c, "session expired"))
				case errors.Is(err, usecase.ErrSessionRevoked):
					c.AbortWithStatusJSON(http.StatusUnauthorized,
						newErrorResponse(c, "session revoked"))
				default:
					c.AbortWithStatusJSON(http.StatusInternalServerError,
						newErrorResponse(c, "session validation failed"))
				}
				return
			}
		}

		c.Set(AccountIDKey, claims.AccountID)
		c.Set(SessionIDKey, claims.SessionID)
		c.Set(RoleKey, claims.Role)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.AccountID = claims.AccountID
		}

		c.Next()
	}
}

// RequireRank rejects requests whose authenticated role ranks below min.
// Must run after RequireAuth.
func RequireRank(min domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleValue, exists := c.Get(RoleKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		role, ok := roleValue.(string)
		if !ok || domain.Role(role).Rank() < min.Rank() {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "insufficient privileges"))
			return
		}

		c.Next()
	}
}

// AccountID returns the authenticated account ID from the Gin context.
func AccountID(c *gin.Context) string {
	if v, exists := c.Get(AccountIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// SessionID returns the validated session ID from the Gin context.
func SessionID(c *gin.Context) string {
	if v, exists := c.Get(SessionIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
