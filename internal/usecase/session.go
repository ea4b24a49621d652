package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/koshcoop/society-security/internal/core/domain"
	"github.com/koshcoop/society-security/internal/core/port"
	"github.com/koshcoop/society-security/internal/infra/config"
	"github.com/koshcoop/society-security/internal/repository"
)

var (
	// ErrSessionRevoked indicates the session was deactivated before validation.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionExpired indicates the session sat idle past the timeout.
	ErrSessionExpired = errors.New("session expired")
)

// Session end reasons stored on deactivated rows.
const (
	SessionEndSuperseded  = "superseded"
	SessionEndIdleTimeout = "idle_timeout"
	SessionEndRevoked     = "revoked"
	SessionEndLocked      = "account_locked"
	SessionEndReset       = "password_reset"
)

// SessionService enforces the single-active-session policy and the idle
// timeout over persisted sessions.
type SessionService struct {
	cfg      config.SessionSettings
	sessions port.SessionRepository
	events   port.EventPublisher
	audit    *AuditService
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionService constructs a SessionService instance.
func NewSessionService(cfg config.SessionSettings, sessions port.SessionRepository, events port.EventPublisher, audit *AuditService, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		cfg:      cfg,
		sessions: sessions,
		events:   events,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Start opens a fresh session for the account. Any other active session the
// account holds is deactivated first, so at most one session is live per
// account at any time.
func (s *SessionService) Start(ctx context.Context, accountID string, ip, userAgent *string) (*domain.Session, error) {
	now := s.now().UTC()

	displaced, err := s.sessions.DeactivateAllForAccount(ctx, accountID, SessionEndSuperseded, now)
	if err != nil {
		return nil, fmt.Errorf("supersede sessions: %w", err)
	}
	if displaced > 0 {
		s.publishRevoked(ctx, "", accountID, SessionEndSuperseded, now)
	}

	session := domain.Session{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		IP:         ip,
		UserAgent:  userAgent,
		IssuedAt:   now,
		LastSeenAt: now,
		Active:     true,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &session, nil
}

// Validate checks that the session is live and refreshes its activity
// timestamp. Idle sessions are deactivated on the spot.
func (s *SessionService) Validate(ctx context.Context, sessionID string, ip, userAgent *string) (*domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionRevoked
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	now := s.now().UTC()

	if !session.Active {
		return nil, ErrSessionRevoked
	}

	if !session.IsLive(now, s.cfg.IdleTimeout) {
		if err := s.sessions.Deactivate(ctx, sessionID, SessionEndIdleTimeout, now); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("deactivate idle session failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil, ErrSessionExpired
	}

	if err := s.sessions.Touch(ctx, sessionID, now, ip, userAgent); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionRevoked
		}
		return nil, fmt.Errorf("touch session: %w", err)
	}

	session.Touch(now, ip, userAgent)
	return session, nil
}

// Revoke deactivates one session.
func (s *SessionService) Revoke(ctx context.Context, sessionID, reason string, actorID *string) error {
	if reason == "" {
		reason = SessionEndRevoked
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionRevoked
		}
		return fmt.Errorf("lookup session: %w", err)
	}

	now := s.now().UTC()
	if err := s.sessions.Deactivate(ctx, sessionID, reason, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionRevoked
		}
		return fmt.Errorf("deactivate session: %w", err)
	}

	s.audit.Record(ctx, actorID, session.AccountID, domain.AuditSessionRevoked, domain.AuditOutcomeSuccess, map[string]any{
		"session_id": sessionID,
		"reason":     reason,
	})
	s.publishRevoked(ctx, sessionID, session.AccountID, reason, now)

	return nil
}

// RevokeAll deactivates every active session the account holds.
func (s *SessionService) RevokeAll(ctx context.Context, accountID, reason string, actorID *string) (int, error) {
	if reason == "" {
		reason = SessionEndRevoked
	}

	now := s.now().UTC()
	count, err := s.sessions.DeactivateAllForAccount(ctx, accountID, reason, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate account sessions: %w", err)
	}

	if count > 0 {
		s.audit.Record(ctx, actorID, accountID, domain.AuditSessionRevoked, domain.AuditOutcomeSuccess, map[string]any{
			"reason":   reason,
			"sessions": count,
		})
		s.publishRevoked(ctx, "", accountID, reason, now)
	}

	return count, nil
}

// List returns the account's sessions, newest first.
func (s *SessionService) List(ctx context.Context, accountID string, activeOnly bool) ([]domain.Session, error) {
	return s.sessions.ListByAccount(ctx, accountID, activeOnly)
}

// Sweep expires idle sessions and purges inactive rows past retention.
// Intended to run on a ticker.
func (s *SessionService) Sweep(ctx context.Context) (expired, purged int, err error) {
	now := s.now().UTC()

	expired, err = s.sessions.DeactivateIdleBefore(ctx, now.Add(-s.cfg.IdleTimeout), now)
	if err != nil {
		return 0, 0, fmt.Errorf("expire idle sessions: %w", err)
	}

	if s.cfg.Retention > 0 {
		purged, err = s.sessions.DeleteInactiveBefore(ctx, now.Add(-s.cfg.Retention))
		if err != nil {
			return expired, 0, fmt.Errorf("purge sessions: %w", err)
		}
	}

	if expired > 0 || purged > 0 {
		s.logger.Info("session sweep complete",
			zap.Int("expired", expired),
			zap.Int("purged", purged),
		)
	}

	return expired, purged, nil
}

func (s *SessionService) publishRevoked(ctx context.Context, sessionID, accountID, reason string, at time.Time) {
	if s.events == nil {
		return
	}
	err := s.events.PublishSessionRevoked(ctx, domain.SessionRevokedEvent{
		SessionID: sessionID,
		AccountID: accountID,
		Reason:    reason,
		RevokedAt: at,
	})
	if err != nil {
		s.logger.Warn("publish session revoked failed", zap.String("account_id", accountID), zap.Error(err))
	}
}
