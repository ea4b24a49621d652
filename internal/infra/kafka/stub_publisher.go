package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/koshcoop/society-security/internal/core/domain"
	"github.com/koshcoop/society-security/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, accountID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("account_id", accountID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishAccountLocked logs security.account.locked events.
func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	payload := map[string]any{
		"account_id": event.AccountID,
		"provenance": event.Provenance,
		"permanent":  event.Permanent,
		"attempts":   event.Attempts,
		"locked_at":  event.LockedAt,
		"metadata":   event.Metadata,
	}
	p.logEvent("security.account.locked", event.AccountID, event.LockedAt, payload)
	return nil
}

// PublishAccountUnlocked logs security.account.unlocked events.
func (p *StubPublisher) PublishAccountUnlocked(_ context.Context, event domain.AccountUnlockedEvent) error {
	payload := map[string]any{
		"account_id":   event.AccountID,
		"unlocked_by":  event.UnlockedBy,
		"completed_at": event.CompletedAt,
		"metadata":     event.Metadata,
	}
	p.logEvent("security.account.unlocked", event.AccountID, event.CompletedAt, payload)
	return nil
}

// PublishUnlockInitiated logs security.unlock.initiated events.
func (p *StubPublisher) PublishUnlockInitiated(_ context.Context, event domain.UnlockInitiatedEvent) error {
	payload := map[string]any{
		"account_id":       event.AccountID,
		"initiated_by":     event.InitiatedBy,
		"reason":           event.Reason,
		"token_expires_at": event.TokenExpiresAt,
		"email_sent":       event.EmailSent,
		"sms_sent":         event.SMSSent,
		"initiated_at":     event.InitiatedAt,
	}
	p.logEvent("security.unlock.initiated", event.AccountID, event.InitiatedAt, payload)
	return nil
}

// PublishOTPIssued logs security.otp.issued events.
func (p *StubPublisher) PublishOTPIssued(_ context.Context, event domain.OTPIssuedEvent) error {
	payload := map[string]any{
		"account_id": event.AccountID,
		"purpose":    event.Purpose,
		"delivery":   event.Delivery,
		"expires_at": event.ExpiresAt,
		"email_sent": event.EmailSent,
		"sms_sent":   event.SMSSent,
		"issued_at":  event.IssuedAt,
	}
	p.logEvent("security.otp.issued", event.AccountID, event.IssuedAt, payload)
	return nil
}

// PublishPasswordChanged logs security.password.changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	payload := map[string]any{
		"account_id":       event.AccountID,
		"changed_by":       event.ChangedBy,
		"changed_at":       event.ChangedAt,
		"sessions_revoked": event.SessionsRevoked,
		"metadata":         event.Metadata,
	}
	p.logEvent("security.password.changed", event.AccountID, event.ChangedAt, payload)
	return nil
}

// PublishSessionRevoked logs security.session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	payload := map[string]any{
		"session_id": event.SessionID,
		"account_id": event.AccountID,
		"reason":     event.Reason,
		"revoked_at": event.RevokedAt,
	}
	p.logEvent("security.session.revoked", event.AccountID, event.RevokedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
