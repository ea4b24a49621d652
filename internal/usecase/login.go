package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/koshcoop/society-security/internal/core/domain"
	"github.com/koshcoop/society-security/internal/core/port"
	"github.com/koshcoop/society-security/internal/infra/config"
	"github.com/koshcoop/society-security/internal/infra/logger"
	"github.com/koshcoop/society-security/internal/infra/security"
	"github.com/koshcoop/society-security/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the provided identifier or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// AccountLockedError refuses authentication on a locked account.
type AccountLockedError struct {
	Permanent  bool
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	if e.Permanent {
		return "account locked, contact an administrator"
	}
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter)
}

// CredentialsRejectedError is an ErrInvalidCredentials carrying how many
// attempts remain before the account locks.
type CredentialsRejectedError struct {
	AttemptsRemaining int
}

func (e *CredentialsRejectedError) Error() string {
	return fmt.Sprintf("invalid credentials, %d attempts remaining", e.AttemptsRemaining)
}

func (e *CredentialsRejectedError) Unwrap() error {
	return ErrInvalidCredentials
}

// LoginResult reports the outcome of a credential check. When the account has
// a second factor enabled no session exists yet; the caller must complete the
// OTP challenge first.
type LoginResult struct {
	Account           domain.Account
	TwoFactorRequired bool
	Delivery          domain.TwoFactorMethod
	Receipt           port.DeliveryReceipt
	OTPExpiresIn      time.Duration

	Session     *domain.Session
	AccessToken string
	ExpiresIn   time.Duration
}

// LoginService coordinates credential verification, the lockout counter and
// second-factor challenge issuance.
type LoginService struct {
	cfg      config.SecuritySettings
	accounts port.AccountRepository
	sessions *SessionService
	audit    *AuditService
	notifier port.NotificationGateway
	events   port.EventPublisher
	issuer   *security.TokenIssuer
	logger   *zap.Logger
	now      func() time.Time
}

// NewLoginService constructs a LoginService instance.
func NewLoginService(
	cfg config.SecuritySettings,
	accounts port.AccountRepository,
	sessions *SessionService,
	audit *AuditService,
	notifier port.NotificationGateway,
	events port.EventPublisher,
	issuer *security.TokenIssuer,
	log *zap.Logger,
) *LoginService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoginService{
		cfg:      cfg,
		accounts: accounts,
		sessions: sessions,
		audit:    audit,
		notifier: notifier,
		events:   events,
		issuer:   issuer,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *LoginService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Authenticate validates credentials, maintaining the failed-attempt counter.
// Reaching the threshold locks the account permanently in the same statement
// that records the final failure.
func (s *LoginService) Authenticate(ctx context.Context, identifier, password string, ip, userAgent *string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Burn comparable time so a missing account is indistinguishable
			// from a wrong password.
			security.DummyVerifyPassword(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	now := s.now().UTC()

	if account.IsLocked(now) {
		s.audit.Record(ctx, nil, account.ID, domain.AuditLoginLocked, domain.AuditOutcomeDenied, map[string]any{
			"identifier": logger.MaskString(identifier),
			"permanent":  account.PermanentlyLocked(),
		})
		return nil, &AccountLockedError{
			Permanent:  account.PermanentlyLocked(),
			RetryAfter: account.LockRemaining(now),
		}
	}

	ok, err := security.VerifyPassword(password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, s.registerFailure(ctx, account, now)
	}

	if err := s.accounts.ResetLoginFailures(ctx, account.ID, now); err != nil {
		return nil, fmt.Errorf("reset login failures: %w", err)
	}

	if account.TwoFactorEnabled {
		return s.issueLoginChallenge(ctx, account, now)
	}

	return s.finalize(ctx, account, ip, userAgent)
}

func (s *LoginService) registerFailure(ctx context.Context, account *domain.Account, now time.Time) error {
	result, err := s.accounts.RegisterLoginFailure(ctx, account.ID, s.cfg.LockoutThreshold, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("register login failure: %w", err)
	}

	s.audit.Record(ctx, nil, account.ID, domain.AuditLoginFailed, domain.AuditOutcomeFailure, map[string]any{
		"attempts":  result.Attempts,
		"threshold": s.cfg.LockoutThreshold,
	})

	if result.LockState == domain.LockStatePermanent {
		s.audit.Record(ctx, nil, account.ID, domain.AuditAccountLocked, domain.AuditOutcomeSuccess, map[string]any{
			"provenance": string(domain.LockBySystem),
			"attempts":   result.Attempts,
		})
		s.publishLocked(ctx, account.ID, domain.LockBySystem, result.Attempts, now)
		if _, err := s.sessions.RevokeAll(ctx, account.ID, SessionEndLocked, nil); err != nil {
			s.logger.Warn("revoke sessions on lockout failed", zap.String("account_id", account.ID), zap.Error(err))
		}
		return &AccountLockedError{Permanent: true}
	}

	remaining := s.cfg.LockoutThreshold - result.Attempts
	if remaining < 0 {
		remaining = 0
	}
	return &CredentialsRejectedError{AttemptsRemaining: remaining}
}

func (s *LoginService) issueLoginChallenge(ctx context.Context, account *domain.Account, now time.Time) (*LoginResult, error) {
	code, err := security.GenerateNumericCode(s.cfg.OTPLength)
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	// Reissue overwrites any outstanding code and zeroes its counter.
	if err := s.accounts.StoreLoginOTP(ctx, account.ID, security.HashSecret(code), now); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}

	receipt := s.notifier.SendOTP(ctx, port.OTPMessage{
		Purpose:   port.OTPPurposeLogin,
		Email:     account.Email,
		Phone:     phoneValue(account.Phone),
		Code:      code,
		Recipient: account.Username,
		ExpiresIn: durationPhrase(s.cfg.LoginOTPTTL),
	})

	s.audit.Record(ctx, nil, account.ID, domain.AuditOTPIssued, domain.AuditOutcomeSuccess, map[string]any{
		"purpose":    string(port.OTPPurposeLogin),
		"email_sent": receipt.EmailSent,
		"sms_sent":   receipt.SMSSent,
	})
	s.publishOTPIssued(ctx, account, string(port.OTPPurposeLogin), now.Add(s.cfg.LoginOTPTTL), receipt, now)

	if receipt.Degraded() {
		s.logger.Warn("otp delivery degraded",
			zap.String("account_id", account.ID),
			zap.Bool("email_sent", receipt.EmailSent),
			zap.Bool("sms_sent", receipt.SMSSent),
		)
	}

	sanitized := *account
	sanitized.PasswordHash = ""

	return &LoginResult{
		Account:           sanitized,
		TwoFactorRequired: true,
		Delivery:          account.TwoFactorMethod,
		Receipt:           receipt,
		OTPExpiresIn:      s.cfg.LoginOTPTTL,
	}, nil
}

// finalize opens the session and issues the access token once every factor
// has been satisfied.
func (s *LoginService) finalize(ctx context.Context, account *domain.Account, ip, userAgent *string) (*LoginResult, error) {
	session, err := s.sessions.Start(ctx, account.ID, ip, userAgent)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.accounts.UpdateLastLogin(ctx, account.ID, now); err != nil {
		s.logger.Warn("update last login failed", zap.String("account_id", account.ID), zap.Error(err))
	}

	token, err := s.issuer.Issue(account.ID, session.ID, string(account.Role))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	s.audit.Record(ctx, nil, account.ID, domain.AuditLoginSucceeded, domain.AuditOutcomeSuccess, map[string]any{
		"session_id": session.ID,
	})

	sanitized := *account
	sanitized.PasswordHash = ""

	return &LoginResult{
		Account:     sanitized,
		Session:     session,
		AccessToken: token,
		ExpiresIn:   s.issuer.TTL(),
	}, nil
}

func (s *LoginService) publishLocked(ctx context.Context, accountID string, provenance domain.LockProvenance, attempts int, at time.Time) {
	if s.events == nil {
		return
	}
	err := s.events.PublishAccountLocked(ctx, domain.AccountLockedEvent{
		AccountID:  accountID,
		Provenance: provenance,
		Permanent:  true,
		Attempts:   attempts,
		LockedAt:   at,
	})
	if err != nil {
		s.logger.Warn("publish account locked failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (s *LoginService) publishOTPIssued(ctx context.Context, account *domain.Account, purpose string, expiresAt time.Time, receipt port.DeliveryReceipt, at time.Time) {
	if s.events == nil {
		return
	}
	err := s.events.PublishOTPIssued(ctx, domain.OTPIssuedEvent{
		AccountID: account.ID,
		Purpose:   purpose,
		Delivery:  account.TwoFactorMethod,
		ExpiresAt: expiresAt,
		EmailSent: receipt.EmailSent,
		SMSSent:   receipt.SMSSent,
		IssuedAt:  at,
	})
	if err != nil {
		s.logger.Warn("publish otp issued failed", zap.String("account_id", account.ID), zap.Error(err))
	}
}

func phoneValue(phone *string) string {
	if phone == nil {
		return ""
	}
	return *phone
}

func durationPhrase(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	minutes := int(d / time.Minute)
	if minutes <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
