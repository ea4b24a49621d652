package port

import (
	"context"

	"github.com/koshcoop/society-security/internal/core/domain"
)

// EventPublisher publishes security events to the message bus. Publishing is
// best-effort: callers log failures but never fail a security decision on one.
type EventPublisher interface {
	PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error
	PublishAccountUnlocked(ctx context.Context, event domain.AccountUnlockedEvent) error
	PublishUnlockInitiated(ctx context.Context, event domain.UnlockInitiatedEvent) error
	PublishOTPIssued(ctx context.Context, event domain.OTPIssuedEvent) error
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
	PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error
}
