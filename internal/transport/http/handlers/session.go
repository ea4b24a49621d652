package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/koshcoop/society-security/internal/transport/http/middleware"
	"github.com/koshcoop/society-security/internal/usecase"
)

// SessionHandler exposes session inspection and revocation endpoints for the
// authenticated account.
type SessionHandler struct {
	sessions *usecase.SessionService
}

// NewSessionHandler constructs SessionHandler.
func NewSessionHandler(sessions *usecase.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// RegisterRoutes binds session routes. The group must already carry
// authentication middleware.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.list)
	r.DELETE("/:sessionId", h.revoke)
	r.DELETE("", h.revokeAll)
}

func (h *SessionHandler) list(c *gin.Context) {
	accountID := middleware.AccountID(c)
	activeOnly := c.Query("active") == "true"

	sessions, err := h.sessions.List(c.Request.Context(), accountID, activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "list sessions failed"))
		return
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, newSessionSummary(session))
	}

	c.JSON(http.StatusOK, SessionListResponse{Sessions: summaries})
}

func (h *SessionHandler) revoke(c *gin.Context) {
	accountID := middleware.AccountID(c)
	sessionID := c.Param("sessionId")

	// Only the owner may revoke through this endpoint.
	session, err := h.sessions.List(c.Request.Context(), accountID, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "revoke session failed"))
		return
	}
	owned := false
	for _, s := range session {
		if s.ID == sessionID {
			owned = true
			break
		}
	}
	if !owned {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "session not found"))
		return
	}

	if err := h.sessions.Revoke(c.Request.Context(), sessionID, usecase.SessionEndRevoked, &accountID); err != nil {
		if errors.Is(err, usecase.ErrSessionRevoked) {
			c.JSON(http.StatusNotFound, NewErrorResponse(c, "session not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "revoke session failed"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "session revoked"})
}

func (h *SessionHandler) revokeAll(c *gin.Context) {
	accountID := middleware.AccountID(c)

	count, err := h.sessions.RevokeAll(c.Request.Context(), accountID, usecase.SessionEndRevoked, &accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "revoke sessions failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "sessions revoked", "count": count})
}
