package port

import (
	"context"
	"time"

	"github.com/koshcoop/society-security/internal/core/domain"
)

// LoginFailureResult reports the stored state after an atomic failed-attempt registration.
type LoginFailureResult struct {
	Attempts  int
	LockState domain.LockState
}

// UnlockMaterial bundles the hashed credentials written when an unlock is initiated.
type UnlockMaterial struct {
	TokenHash      string
	TokenExpiresAt time.Time
	OTPHash        string
	OTPExpiresAt   time.Time
	RequestedBy    string
	RequestedAt    time.Time
}

// AccountRepository exposes persistence for accounts and their security state.
//
// Every mutating operation on counters or secrets must execute as one atomic
// conditional statement: concurrent requests against the same account must
// never base a write on a stale read. Operations guarded by a hash argument
// return domain not-found semantics when the stored secret no longer matches,
// which signals the caller lost the race to a concurrent transition.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error)
	GetByUnlockTokenHash(ctx context.Context, tokenHash string) (*domain.Account, error)
	GetByResetTokenHash(ctx context.Context, tokenHash string) (*domain.Account, error)

	// RegisterLoginFailure increments the failed-attempt counter and, when the
	// new count reaches threshold, sets the permanent system lock in the same
	// statement. Returns the post-increment state.
	RegisterLoginFailure(ctx context.Context, id string, threshold int, at time.Time) (*LoginFailureResult, error)

	// ResetLoginFailures clears the counter and any expired temporary lock.
	// Guarded so it never clears a permanent lock placed concurrently.
	ResetLoginFailures(ctx context.Context, id string, at time.Time) error

	// Lock places an explicit lock. A nil until means permanent.
	Lock(ctx context.Context, id string, until *time.Time, provenance domain.LockProvenance, at time.Time) error

	// StoreLoginOTP overwrites the outstanding login OTP and zeroes its
	// attempt counter (reissue overwrites, never appends).
	StoreLoginOTP(ctx context.Context, id, otpHash string, issuedAt time.Time) error

	// IncrementLoginOTPAttempts bumps the attempt counter only while the
	// stored hash still matches, returning the new count.
	IncrementLoginOTPAttempts(ctx context.Context, id, otpHash string) (int, error)

	// ConsumeLoginOTP clears the OTP material when the stored hash matches.
	ConsumeLoginOTP(ctx context.Context, id, otpHash string) error

	// BeginUnlock writes the unlock token and OTP material and marks the
	// unlock as requested.
	BeginUnlock(ctx context.Context, id string, material UnlockMaterial) error

	// StoreUnlockOTP replaces only the unlock OTP (resend path).
	StoreUnlockOTP(ctx context.Context, id, otpHash string, expiresAt time.Time) error

	// IncrementUnlockOTPAttempts bumps the unlock OTP attempt counter while
	// the stored hash matches, returning the new count.
	IncrementUnlockOTPAttempts(ctx context.Context, id, otpHash string) (int, error)

	// ConsumeUnlockOTP clears the unlock OTP and stores the password-reset
	// credential in one transition, guarded on the OTP hash.
	ConsumeUnlockOTP(ctx context.Context, id, otpHash, resetTokenHash string, resetExpiresAt time.Time) error

	// CompleteUnlock sets the new password hash and clears every lock and
	// unlock field in a single transition, guarded on the reset credential.
	CompleteUnlock(ctx context.Context, id, resetTokenHash, passwordHash string, at time.Time) error

	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	ListPasswordHistory(ctx context.Context, id string, limit int) ([]domain.PasswordHistoryEntry, error)
	AddPasswordHistory(ctx context.Context, entry domain.PasswordHistoryEntry) error
	TrimPasswordHistory(ctx context.Context, id string, maxEntries int) error
}
