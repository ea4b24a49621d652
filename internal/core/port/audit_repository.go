package port

import (
	"context"

	"github.com/koshcoop/society-security/internal/core/domain"
)

// AuditRepository persists the append-only audit trail. No other component
// may write to the audit table directly.
type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error)
	Count(ctx context.Context, filter domain.AuditFilter) (int, error)
}
