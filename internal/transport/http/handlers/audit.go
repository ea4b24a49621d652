package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/koshcoop/society-security/internal/core/domain"
	"github.com/koshcoop/society-security/internal/usecase"
)

// AuditHandler exposes the audit trail for compliance review.
type AuditHandler struct {
	audit *usecase.AuditService
}

// NewAuditHandler constructs AuditHandler.
func NewAuditHandler(audit *usecase.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// RegisterRoutes binds audit routes. The group must already carry
// authentication and rank middleware.
func (h *AuditHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit", h.list)
}

func (h *AuditHandler) list(c *gin.Context) {
	filter := domain.AuditFilter{
		SubjectID: c.Query("subject_id"),
		ActorID:   c.Query("actor_id"),
		Action:    domain.AuditAction(c.Query("action")),
		Outcome:   domain.AuditOutcome(c.Query("outcome")),
	}

	if v := c.Query("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid 'from' timestamp"))
			return
		}
		filter.From = &ts
	}
	if v := c.Query("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid 'to' timestamp"))
			return
		}
		filter.To = &ts
	}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid 'limit'"))
			return
		}
		filter.Limit = limit
	}
	if v := c.Query("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid 'offset'"))
			return
		}
		filter.Offset = offset
	}

	page, err := h.audit.Query(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "audit query failed"))
		return
	}

	views := make([]AuditEntryView, 0, len(page.Entries))
	for _, entry := range page.Entries {
		views = append(views, AuditEntryView{
			ID:        entry.ID,
			ActorID:   entry.ActorID,
			SubjectID: entry.SubjectID,
			Action:    string(entry.Action),
			Outcome:   string(entry.Outcome),
			At:        entry.At,
			Metadata:  entry.Metadata,
		})
	}

	c.JSON(http.StatusOK, AuditListResponse{
		Entries: views,
		Total:   page.Total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}
