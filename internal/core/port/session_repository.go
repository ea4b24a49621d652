package port

import (
	"context"
	"time"

	"github.com/koshcoop/society-security/internal/core/domain"
)

// SessionRepository deals with session storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)
	Touch(ctx context.Context, sessionID string, at time.Time, ip, userAgent *string) error
	Deactivate(ctx context.Context, sessionID, reason string, at time.Time) error
	// DeactivateAllForAccount deactivates every active session owned by the
	// account and returns how many rows changed.
	DeactivateAllForAccount(ctx context.Context, accountID, reason string, at time.Time) (int, error)
	ListByAccount(ctx context.Context, accountID string, activeOnly bool) ([]domain.Session, error)
	// DeactivateIdleBefore marks sessions inactive whose last activity
	// predates the cutoff.
	DeactivateIdleBefore(ctx context.Context, cutoff time.Time, at time.Time) (int, error)
	// DeleteInactiveBefore reclaims inactive rows older than the cutoff.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error)
}
