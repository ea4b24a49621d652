package usecase

import (
	"context"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/koshcoop/society-security/internal/core/domain"
	"github.com/koshcoop/society-security/internal/core/port"
)

const defaultAuditPageSize = 50
const maxAuditPageSize = 500

// AuditService records security transitions. Recording is strictly
// best-effort: a failed append is logged and swallowed so an audit outage
// can never block an authentication decision.
type AuditService struct {
	audit  port.AuditRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditService constructs an AuditService instance.
func NewAuditService(audit port.AuditRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *AuditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Record appends an audit entry. Never returns an error.
func (s *AuditService) Record(ctx context.Context, actorID *string, subjectID string, action domain.AuditAction, outcome domain.AuditOutcome, metadata map[string]any) {
	entry := domain.AuditEntry{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		SubjectID: subjectID,
		Action:    action,
		Outcome:   outcome,
		At:        s.now().UTC(),
		Metadata:  metadata,
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("audit append failed",
			zap.String("subject_id", subjectID),
			zap.String("action", string(action)),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
	}
}

// AuditPage is one page of the trail plus the unpaged total.
type AuditPage struct {
	Entries []domain.AuditEntry
	Total   int
}

// Query returns a filtered page of the trail for compliance review.
func (s *AuditService) Query(ctx context.Context, filter domain.AuditFilter) (*AuditPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditPageSize
	}
	if filter.Limit > maxAuditPageSize {
		filter.Limit = maxAuditPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	entries, err := s.audit.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	total, err := s.audit.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &AuditPage{Entries: entries, Total: total}, nil
}
