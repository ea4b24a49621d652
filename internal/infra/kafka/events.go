package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/koshcoop/society-security/internal/core/domain"
	"github.com/koshcoop/society-security/internal/core/port"
	"github.com/koshcoop/society-security/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	AccountID string           `json:"account_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, accountID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		AccountID: accountID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata: envelopeMetadata{
			"service":     p.appCfg.Name,
			"environment": p.appCfg.Env,
		},
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(accountID),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAccountLocked publishes security.account.locked events.
func (p *EventPublisher) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	payload := struct {
		AccountID  string         `json:"account_id"`
		Provenance string         `json:"provenance"`
		Permanent  bool           `json:"permanent"`
		Attempts   int            `json:"attempts"`
		LockedAt   time.Time      `json:"locked_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:  event.AccountID,
		Provenance: string(event.Provenance),
		Permanent:  event.Permanent,
		Attempts:   event.Attempts,
		LockedAt:   event.LockedAt.UTC(),
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, "security.account.locked", event.AccountID, event.LockedAt, payload)
}

// PublishAccountUnlocked publishes security.account.unlocked events.
func (p *EventPublisher) PublishAccountUnlocked(ctx context.Context, event domain.AccountUnlockedEvent) error {
	payload := struct {
		AccountID   string         `json:"account_id"`
		UnlockedBy  string         `json:"unlocked_by"`
		CompletedAt time.Time      `json:"completed_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:   event.AccountID,
		UnlockedBy:  event.UnlockedBy,
		CompletedAt: event.CompletedAt.UTC(),
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, "security.account.unlocked", event.AccountID, event.CompletedAt, payload)
}

// PublishUnlockInitiated publishes security.unlock.initiated events.
func (p *EventPublisher) PublishUnlockInitiated(ctx context.Context, event domain.UnlockInitiatedEvent) error {
	payload := struct {
		AccountID      string    `json:"account_id"`
		InitiatedBy    string    `json:"initiated_by"`
		Reason         string    `json:"reason"`
		TokenExpiresAt time.Time `json:"token_expires_at"`
		EmailSent      bool      `json:"email_sent"`
		SMSSent        bool      `json:"sms_sent"`
		InitiatedAt    time.Time `json:"initiated_at"`
	}{
		AccountID:      event.AccountID,
		InitiatedBy:    event.InitiatedBy,
		Reason:         event.Reason,
		TokenExpiresAt: event.TokenExpiresAt.UTC(),
		EmailSent:      event.EmailSent,
		SMSSent:        event.SMSSent,
		InitiatedAt:    event.InitiatedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "security.unlock.initiated", event.AccountID, event.InitiatedAt, payload)
}

// PublishOTPIssued publishes security.otp.issued events.
func (p *EventPublisher) PublishOTPIssued(ctx context.Context, event domain.OTPIssuedEvent) error {
	payload := struct {
		AccountID string    `json:"account_id"`
		Purpose   string    `json:"purpose"`
		Delivery  string    `json:"delivery"`
		ExpiresAt time.Time `json:"expires_at"`
		EmailSent bool      `json:"email_sent"`
		SMSSent   bool      `json:"sms_sent"`
		IssuedAt  time.Time `json:"issued_at"`
	}{
		AccountID: event.AccountID,
		Purpose:   event.Purpose,
		Delivery:  string(event.Delivery),
		ExpiresAt: event.ExpiresAt.UTC(),
		EmailSent: event.EmailSent,
		SMSSent:   event.SMSSent,
		IssuedAt:  event.IssuedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "security.otp.issued", event.AccountID, event.IssuedAt, payload)
}

// PublishPasswordChanged publishes security.password.changed events.
func (p *EventPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	payload := struct {
		AccountID       string         `json:"account_id"`
		ChangedBy       string         `json:"changed_by"`
		ChangedAt       time.Time      `json:"changed_at"`
		SessionsRevoked int            `json:"sessions_revoked"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:       event.AccountID,
		ChangedBy:       event.ChangedBy,
		ChangedAt:       event.ChangedAt.UTC(),
		SessionsRevoked: event.SessionsRevoked,
		Metadata:        event.Metadata,
	}

	return p.publish(ctx, event.EventID, "security.password.changed", event.AccountID, event.ChangedAt, payload)
}

// PublishSessionRevoked publishes security.session.revoked events.
func (p *EventPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	payload := struct {
		SessionID string    `json:"session_id"`
		AccountID string    `json:"account_id"`
		Reason    string    `json:"reason"`
		RevokedAt time.Time `json:"revoked_at"`
	}{
		SessionID: event.SessionID,
		AccountID: event.AccountID,
		Reason:    event.Reason,
		RevokedAt: event.RevokedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "security.session.revoked", event.AccountID, event.RevokedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
