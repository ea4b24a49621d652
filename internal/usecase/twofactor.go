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
	"github.com/koshcoop/society-security/internal/infra/security"
	"github.com/koshcoop/society-security/internal/repository"
)

var (
	// ErrNoPendingChallenge indicates no verification code is outstanding.
	ErrNoPendingChallenge = errors.New("no pending verification code")
	// ErrOTPExpired indicates the verification code lapsed before use.
	ErrOTPExpired = errors.New("verification code expired")
	// ErrOTPExhausted indicates the code burned through its attempt budget.
	ErrOTPExhausted = errors.New("verification code attempts exhausted")
)

// OTPRejectedError is a wrong-code rejection carrying how many attempts the
// code still tolerates.
type OTPRejectedError struct {
	AttemptsRemaining int
}

func (e *OTPRejectedError) Error() string {
	return fmt.Sprintf("invalid verification code, %d attempts remaining", e.AttemptsRemaining)
}

// TwoFactorService verifies login challenges. A code verifies at most once;
// wrong guesses are counted on the stored row so concurrent requests cannot
// stretch the budget.
type TwoFactorService struct {
	cfg      config.SecuritySettings
	accounts port.AccountRepository
	login    *LoginService
	audit    *AuditService
	logger   *zap.Logger
	now      func() time.Time
}

// NewTwoFactorService constructs a TwoFactorService instance.
func NewTwoFactorService(cfg config.SecuritySettings, accounts port.AccountRepository, login *LoginService, audit *AuditService, log *zap.Logger) *TwoFactorService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TwoFactorService{
		cfg:      cfg,
		accounts: accounts,
		login:    login,
		audit:    audit,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *TwoFactorService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Verify checks the submitted code and, on success, completes the login by
// opening the session and issuing the access token.
func (s *TwoFactorService) Verify(ctx context.Context, identifier, code string, ip, userAgent *string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	code = strings.TrimSpace(code)
	if identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}

	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoPendingChallenge
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	now := s.now().UTC()

	if account.IsLocked(now) {
		return nil, &AccountLockedError{
			Permanent:  account.PermanentlyLocked(),
			RetryAfter: account.LockRemaining(now),
		}
	}

	if account.OTPHash == nil {
		return nil, ErrNoPendingChallenge
	}

	if account.LoginOTPExpired(now, s.cfg.LoginOTPTTL) {
		s.audit.Record(ctx, nil, account.ID, domain.AuditOTPRejected, domain.AuditOutcomeFailure, map[string]any{
			"purpose": string(port.OTPPurposeLogin),
			"reason":  "expired",
		})
		return nil, ErrOTPExpired
	}

	if account.OTPAttempts >= s.cfg.LoginOTPMaxAttempts {
		s.audit.Record(ctx, nil, account.ID, domain.AuditOTPRejected, domain.AuditOutcomeFailure, map[string]any{
			"purpose": string(port.OTPPurposeLogin),
			"reason":  "exhausted",
		})
		return nil, ErrOTPExhausted
	}

	if !security.SecretMatches(code, *account.OTPHash) {
		attempts, err := s.accounts.IncrementLoginOTPAttempts(ctx, account.ID, *account.OTPHash)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// The stored code changed underneath us; treat the guess as
				// stale rather than counting it against the new code.
				return nil, ErrNoPendingChallenge
			}
			return nil, fmt.Errorf("count otp attempt: %w", err)
		}

		s.audit.Record(ctx, nil, account.ID, domain.AuditOTPRejected, domain.AuditOutcomeFailure, map[string]any{
			"purpose":  string(port.OTPPurposeLogin),
			"attempts": attempts,
		})

		if attempts >= s.cfg.LoginOTPMaxAttempts {
			return nil, ErrOTPExhausted
		}
		return nil, &OTPRejectedError{AttemptsRemaining: s.cfg.LoginOTPMaxAttempts - attempts}
	}

	// Hash-guarded consume: zero rows means a concurrent verify already
	// burned this code.
	if err := s.accounts.ConsumeLoginOTP(ctx, account.ID, *account.OTPHash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoPendingChallenge
		}
		return nil, fmt.Errorf("consume otp: %w", err)
	}

	s.audit.Record(ctx, nil, account.ID, domain.AuditOTPVerified, domain.AuditOutcomeSuccess, map[string]any{
		"purpose": string(port.OTPPurposeLogin),
	})

	return s.login.finalize(ctx, account, ip, userAgent)
}

// Resend reissues the login challenge, overwriting the outstanding code.
// Only valid while a challenge is actually pending.
func (s *TwoFactorService) Resend(ctx context.Context, identifier string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}

	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoPendingChallenge
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	now := s.now().UTC()

	if account.IsLocked(now) {
		return nil, &AccountLockedError{
			Permanent:  account.PermanentlyLocked(),
			RetryAfter: account.LockRemaining(now),
		}
	}

	if account.OTPHash == nil || !account.TwoFactorEnabled {
		return nil, ErrNoPendingChallenge
	}

	return s.login.issueLoginChallenge(ctx, account, now)
}
