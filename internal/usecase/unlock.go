package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/koshcoop/society-security/internal/core/domain"
	"github.com/koshcoop/society-security/internal/core/port"
	"github.com/koshcoop/society-security/internal/infra/config"
	"github.com/koshcoop/society-security/internal/infra/security"
	"github.com/koshcoop/society-security/internal/repository"
)

var (
	// ErrUnlockNotPermitted indicates the acting admin does not outrank the target.
	ErrUnlockNotPermitted = errors.New("insufficient rank for this account")
	// ErrReasonTooShort indicates the supplied justification is below the minimum length.
	ErrReasonTooShort = errors.New("reason is too short")
	// ErrAccountNotLocked indicates an unlock was requested for an account that is not locked.
	ErrAccountNotLocked = errors.New("account is not locked")
	// ErrInvalidUnlockToken indicates the unlock token does not match any pending workflow.
	ErrInvalidUnlockToken = errors.New("invalid unlock token")
	// ErrUnlockTokenExpired indicates the unlock token lapsed; a fresh initiation is required.
	ErrUnlockTokenExpired = errors.New("unlock token expired")
	// ErrInvalidResetToken indicates the reset credential does not match any pending workflow.
	ErrInvalidResetToken = errors.New("invalid reset token")
	// ErrResetTokenExpired indicates the reset credential lapsed before the password change.
	ErrResetTokenExpired = errors.New("reset token expired")
	// ErrPasswordReused indicates the candidate password matches a recent one.
	ErrPasswordReused = errors.New("password was used recently")
)

// UnlockTicket reports a freshly initiated unlock workflow. Token is the only
// plaintext copy; storage keeps hashes exclusively.
type UnlockTicket struct {
	AccountID      string
	Token          string
	TokenExpiresAt time.Time
	OTPExpiresAt   time.Time
	Receipt        port.DeliveryReceipt
}

// UnlockStatus describes where an account stands in the unlock workflow.
type UnlockStatus struct {
	AccountID    string
	Username     string
	Stage        domain.UnlockStage
	OTPExpiresAt *time.Time
}

// ResetGrant carries the password-reset credential issued after a successful
// OTP verification.
type ResetGrant struct {
	AccountID  string
	ResetToken string
	ExpiresAt  time.Time
}

// UnlockService drives the admin-initiated unlock workflow: initiation by an
// admin of sufficient rank, member OTP verification, and the final password
// reset that clears the lock. Stage is always derived from stored fields, so
// every step re-validates against the row it is about to mutate.
type UnlockService struct {
	cfg      config.SecuritySettings
	accounts port.AccountRepository
	sessions *SessionService
	audit    *AuditService
	notifier port.NotificationGateway
	events   port.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewUnlockService constructs an UnlockService instance.
func NewUnlockService(
	cfg config.SecuritySettings,
	accounts port.AccountRepository,
	sessions *SessionService,
	audit *AuditService,
	notifier port.NotificationGateway,
	events port.EventPublisher,
	log *zap.Logger,
) *UnlockService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UnlockService{
		cfg:      cfg,
		accounts: accounts,
		sessions: sessions,
		audit:    audit,
		notifier: notifier,
		events:   events,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *UnlockService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Initiate starts the unlock workflow for a locked account. The acting admin
// must hold branch admin rank or better and must outrank the target.
func (s *UnlockService) Initiate(ctx context.Context, adminID, targetID, reason string) (*UnlockTicket, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < s.cfg.UnlockReasonMinChars {
		return nil, ErrReasonTooShort
	}

	admin, err := s.accounts.GetByID(ctx, adminID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnlockNotPermitted
		}
		return nil, fmt.Errorf("lookup admin: %w", err)
	}

	target, err := s.accounts.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lookup target: %w", err)
	}

	if admin.Role.Rank() < domain.RoleBranchAdmin.Rank() || !admin.Role.CanAdminister(target.Role) {
		s.audit.Record(ctx, &adminID, target.ID, domain.AuditUnlockInitiated, domain.AuditOutcomeDenied, map[string]any{
			"admin_role":  string(admin.Role),
			"target_role": string(target.Role),
		})
		return nil, ErrUnlockNotPermitted
	}

	now := s.now().UTC()

	if !target.IsLocked(now) {
		return nil, ErrAccountNotLocked
	}

	token, err := security.GenerateSecureToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate unlock token: %w", err)
	}
	code, err := security.GenerateNumericCode(s.cfg.OTPLength)
	if err != nil {
		return nil, fmt.Errorf("generate unlock otp: %w", err)
	}

	material := port.UnlockMaterial{
		TokenHash:      security.HashSecret(token),
		TokenExpiresAt: now.Add(s.cfg.UnlockTokenTTL),
		OTPHash:        security.HashSecret(code),
		OTPExpiresAt:   now.Add(s.cfg.UnlockOTPTTL),
		RequestedBy:    adminID,
		RequestedAt:    now,
	}

	// Supersedes any earlier unlock attempt for the account.
	if err := s.accounts.BeginUnlock(ctx, target.ID, material); err != nil {
		return nil, fmt.Errorf("begin unlock: %w", err)
	}

	receipt := s.notifier.SendOTP(ctx, port.OTPMessage{
		Purpose:   port.OTPPurposeUnlock,
		Email:     target.Email,
		Phone:     phoneValue(target.Phone),
		Code:      code,
		Recipient: target.Username,
		ExpiresIn: durationPhrase(s.cfg.UnlockOTPTTL),
	})

	s.audit.Record(ctx, &adminID, target.ID, domain.AuditUnlockInitiated, domain.AuditOutcomeSuccess, map[string]any{
		"reason": reason,
	})
	s.audit.Record(ctx, &adminID, target.ID, domain.AuditUnlockOTPSent, domain.AuditOutcomeSuccess, map[string]any{
		"email_sent": receipt.EmailSent,
		"sms_sent":   receipt.SMSSent,
	})

	if s.events != nil {
		err := s.events.PublishUnlockInitiated(ctx, domain.UnlockInitiatedEvent{
			AccountID:      target.ID,
			InitiatedBy:    adminID,
			Reason:         reason,
			TokenExpiresAt: material.TokenExpiresAt,
			EmailSent:      receipt.EmailSent,
			SMSSent:        receipt.SMSSent,
			InitiatedAt:    now,
		})
		if err != nil {
			s.logger.Warn("publish unlock initiated failed", zap.String("account_id", target.ID), zap.Error(err))
		}
	}

	return &UnlockTicket{
		AccountID:      target.ID,
		Token:          token,
		TokenExpiresAt: material.TokenExpiresAt,
		OTPExpiresAt:   material.OTPExpiresAt,
		Receipt:        receipt,
	}, nil
}

// VerifyToken resolves an unlock token to the workflow it belongs to.
func (s *UnlockService) VerifyToken(ctx context.Context, token string) (*UnlockStatus, error) {
	account, err := s.resolveToken(ctx, token)
	if err != nil {
		return nil, err
	}

	return &UnlockStatus{
		AccountID:    account.ID,
		Username:     account.Username,
		Stage:        account.CurrentUnlockStage(s.now().UTC()),
		OTPExpiresAt: account.UnlockOTPExpiresAt,
	}, nil
}

// VerifyOTP checks the unlock code for the workflow the token names and, on
// success, issues the password-reset credential.
func (s *UnlockService) VerifyOTP(ctx context.Context, token, code string) (*ResetGrant, error) {
	account, err := s.resolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.verifyOTP(ctx, account, code)
}

// VerifyOTPDirect is the tokenless entry: the member supplies identifier and
// code, for flows where the unlock link never reached them.
func (s *UnlockService) VerifyOTPDirect(ctx context.Context, identifier, code string) (*ResetGrant, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}

	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidUnlockToken
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if account.CurrentUnlockStage(s.now().UTC()) != domain.UnlockStageInitiated {
		return nil, ErrInvalidUnlockToken
	}

	return s.verifyOTP(ctx, account, code)
}

// ResendOTP reissues the unlock code for a still-live workflow.
func (s *UnlockService) ResendOTP(ctx context.Context, token string) (port.DeliveryReceipt, error) {
	account, err := s.resolveToken(ctx, token)
	if err != nil {
		return port.DeliveryReceipt{}, err
	}

	now := s.now().UTC()
	if account.CurrentUnlockStage(now) != domain.UnlockStageInitiated {
		return port.DeliveryReceipt{}, ErrInvalidUnlockToken
	}

	code, err := security.GenerateNumericCode(s.cfg.OTPLength)
	if err != nil {
		return port.DeliveryReceipt{}, fmt.Errorf("generate unlock otp: %w", err)
	}

	if err := s.accounts.StoreUnlockOTP(ctx, account.ID, security.HashSecret(code), now.Add(s.cfg.UnlockOTPTTL)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return port.DeliveryReceipt{}, ErrInvalidUnlockToken
		}
		return port.DeliveryReceipt{}, fmt.Errorf("store unlock otp: %w", err)
	}

	receipt := s.notifier.SendOTP(ctx, port.OTPMessage{
		Purpose:   port.OTPPurposeUnlock,
		Email:     account.Email,
		Phone:     phoneValue(account.Phone),
		Code:      code,
		Recipient: account.Username,
		ExpiresIn: durationPhrase(s.cfg.UnlockOTPTTL),
	})

	s.audit.Record(ctx, nil, account.ID, domain.AuditUnlockOTPSent, domain.AuditOutcomeSuccess, map[string]any{
		"email_sent": receipt.EmailSent,
		"sms_sent":   receipt.SMSSent,
		"resend":     true,
	})

	return receipt, nil
}

// ResetPassword completes the workflow: validates the new password, enforces
// history, installs the hash and clears every lock and unlock field.
func (s *UnlockService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if resetToken == "" {
		return ErrInvalidResetToken
	}

	account, err := s.accounts.GetByResetTokenHash(ctx, security.HashSecret(resetToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("lookup reset token: %w", err)
	}

	now := s.now().UTC()
	if account.ResetTokenExpiresAt == nil || !account.ResetTokenExpiresAt.After(now) {
		s.audit.Record(ctx, nil, account.ID, domain.AuditUnlockFailed, domain.AuditOutcomeFailure, map[string]any{
			"reason": "reset_token_expired",
		})
		return ErrResetTokenExpired
	}

	policy := security.DefaultPasswordPolicy(account.Username, account.Email)
	if err := policy.Validate(newPassword); err != nil {
		return err
	}

	if err := s.checkHistory(ctx, account, newPassword); err != nil {
		return err
	}

	newHash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.accounts.CompleteUnlock(ctx, account.ID, security.HashSecret(resetToken), newHash, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("complete unlock: %w", err)
	}

	if err := s.accounts.AddPasswordHistory(ctx, domain.PasswordHistoryEntry{
		ID:           uuid.NewString(),
		AccountID:    account.ID,
		PasswordHash: newHash,
		SetAt:        now,
	}); err != nil {
		s.logger.Warn("record password history failed", zap.String("account_id", account.ID), zap.Error(err))
	}
	if err := s.accounts.TrimPasswordHistory(ctx, account.ID, s.cfg.PasswordHistoryLimit); err != nil {
		s.logger.Warn("trim password history failed", zap.String("account_id", account.ID), zap.Error(err))
	}

	if _, err := s.sessions.RevokeAll(ctx, account.ID, SessionEndReset, nil); err != nil {
		s.logger.Warn("revoke sessions on reset failed", zap.String("account_id", account.ID), zap.Error(err))
	}

	unlockedBy := ""
	if account.UnlockRequestedBy != nil {
		unlockedBy = *account.UnlockRequestedBy
	}

	s.audit.Record(ctx, account.UnlockRequestedBy, account.ID, domain.AuditUnlockCompleted, domain.AuditOutcomeSuccess, nil)

	if s.events != nil {
		if err := s.events.PublishAccountUnlocked(ctx, domain.AccountUnlockedEvent{
			AccountID:   account.ID,
			UnlockedBy:  unlockedBy,
			CompletedAt: now,
		}); err != nil {
			s.logger.Warn("publish account unlocked failed", zap.String("account_id", account.ID), zap.Error(err))
		}
		if err := s.events.PublishPasswordChanged(ctx, domain.PasswordChangedEvent{
			AccountID: account.ID,
			ChangedBy: account.ID,
			ChangedAt: now,
		}); err != nil {
			s.logger.Warn("publish password changed failed", zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	return nil
}

// AdminLock places an explicit lock on an account. A nil until locks it
// permanently.
func (s *UnlockService) AdminLock(ctx context.Context, adminID, targetID string, until *time.Time, reason string) error {
	reason = strings.TrimSpace(reason)
	if len(reason) < s.cfg.UnlockReasonMinChars {
		return ErrReasonTooShort
	}

	admin, err := s.accounts.GetByID(ctx, adminID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnlockNotPermitted
		}
		return fmt.Errorf("lookup admin: %w", err)
	}

	target, err := s.accounts.GetByID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("lookup target: %w", err)
	}

	if admin.Role.Rank() < domain.RoleBranchAdmin.Rank() || !admin.Role.CanAdminister(target.Role) {
		s.audit.Record(ctx, &adminID, target.ID, domain.AuditAccountLocked, domain.AuditOutcomeDenied, map[string]any{
			"admin_role":  string(admin.Role),
			"target_role": string(target.Role),
		})
		return ErrUnlockNotPermitted
	}

	now := s.now().UTC()
	if err := s.accounts.Lock(ctx, target.ID, until, domain.LockByAdmin, now); err != nil {
		return fmt.Errorf("lock account: %w", err)
	}

	if _, err := s.sessions.RevokeAll(ctx, target.ID, SessionEndLocked, &adminID); err != nil {
		s.logger.Warn("revoke sessions on lock failed", zap.String("account_id", target.ID), zap.Error(err))
	}

	s.audit.Record(ctx, &adminID, target.ID, domain.AuditAccountLocked, domain.AuditOutcomeSuccess, map[string]any{
		"reason":     reason,
		"provenance": string(domain.LockByAdmin),
		"permanent":  until == nil,
	})

	if s.events != nil {
		if err := s.events.PublishAccountLocked(ctx, domain.AccountLockedEvent{
			AccountID:  target.ID,
			Provenance: domain.LockByAdmin,
			Permanent:  until == nil,
			LockedAt:   now,
			Metadata:   map[string]any{"reason": reason},
		}); err != nil {
			s.logger.Warn("publish account locked failed", zap.String("account_id", target.ID), zap.Error(err))
		}
	}

	return nil
}

func (s *UnlockService) resolveToken(ctx context.Context, token string) (*domain.Account, error) {
	if token == "" {
		return nil, ErrInvalidUnlockToken
	}

	account, err := s.accounts.GetByUnlockTokenHash(ctx, security.HashSecret(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidUnlockToken
		}
		return nil, fmt.Errorf("lookup unlock token: %w", err)
	}

	if account.UnlockTokenExpiresAt == nil || !account.UnlockTokenExpiresAt.After(s.now().UTC()) {
		return nil, ErrUnlockTokenExpired
	}

	return account, nil
}

func (s *UnlockService) verifyOTP(ctx context.Context, account *domain.Account, code string) (*ResetGrant, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}

	now := s.now().UTC()

	if account.UnlockOTPHash == nil {
		return nil, ErrNoPendingChallenge
	}

	if account.UnlockOTPExpired(now) {
		s.audit.Record(ctx, nil, account.ID, domain.AuditUnlockFailed, domain.AuditOutcomeFailure, map[string]any{
			"reason": "otp_expired",
		})
		return nil, ErrOTPExpired
	}

	if account.UnlockOTPAttempts >= s.cfg.UnlockOTPMaxAttempts {
		s.audit.Record(ctx, nil, account.ID, domain.AuditUnlockFailed, domain.AuditOutcomeFailure, map[string]any{
			"reason": "otp_exhausted",
		})
		return nil, ErrOTPExhausted
	}

	if !security.SecretMatches(code, *account.UnlockOTPHash) {
		attempts, err := s.accounts.IncrementUnlockOTPAttempts(ctx, account.ID, *account.UnlockOTPHash)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrNoPendingChallenge
			}
			return nil, fmt.Errorf("count unlock otp attempt: %w", err)
		}

		s.audit.Record(ctx, nil, account.ID, domain.AuditUnlockFailed, domain.AuditOutcomeFailure, map[string]any{
			"reason":   "otp_mismatch",
			"attempts": attempts,
		})

		if attempts >= s.cfg.UnlockOTPMaxAttempts {
			return nil, ErrOTPExhausted
		}
		return nil, &OTPRejectedError{AttemptsRemaining: s.cfg.UnlockOTPMaxAttempts - attempts}
	}

	resetToken, err := security.GenerateSecureToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate reset token: %w", err)
	}
	expiresAt := now.Add(s.cfg.ResetTokenTTL)

	// One transition retires the OTP and issues the reset credential; losing
	// the race surfaces as not-found.
	if err := s.accounts.ConsumeUnlockOTP(ctx, account.ID, *account.UnlockOTPHash, security.HashSecret(resetToken), expiresAt); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoPendingChallenge
		}
		return nil, fmt.Errorf("consume unlock otp: %w", err)
	}

	s.audit.Record(ctx, nil, account.ID, domain.AuditOTPVerified, domain.AuditOutcomeSuccess, map[string]any{
		"purpose": string(port.OTPPurposeUnlock),
	})

	return &ResetGrant{
		AccountID:  account.ID,
		ResetToken: resetToken,
		ExpiresAt:  expiresAt,
	}, nil
}

func (s *UnlockService) checkHistory(ctx context.Context, account *domain.Account, candidate string) error {
	match, err := security.VerifyPassword(candidate, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("compare current password: %w", err)
	}
	if match {
		return ErrPasswordReused
	}

	history, err := s.accounts.ListPasswordHistory(ctx, account.ID, s.cfg.PasswordHistoryLimit)
	if err != nil {
		return fmt.Errorf("list password history: %w", err)
	}

	for _, entry := range history {
		match, err := security.VerifyPassword(candidate, entry.PasswordHash)
		if err != nil {
			return fmt.Errorf("compare historical password: %w", err)
		}
		if match {
			return ErrPasswordReused
		}
	}

	return nil
}
