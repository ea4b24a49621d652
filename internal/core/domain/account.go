package domain

import "time"

// Role enumerates account roles ordered by privilege.
type Role string

const (
	RoleMember      Role = "member"
	RoleStaff       Role = "staff"
	RoleBranchAdmin Role = "branch_admin"
	RoleSuperAdmin  Role = "super_admin"
)

// Rank returns the privilege rank of the role. Higher ranks may administer lower ones.
func (r Role) Rank() int {
	switch r {
	case RoleMember:
		return 1
	case RoleStaff:
		return 2
	case RoleBranchAdmin:
		return 3
	case RoleSuperAdmin:
		return 4
	default:
		return 0
	}
}

// CanAdminister reports whether the role outranks the target role.
func (r Role) CanAdminister(target Role) bool {
	return r.Rank() > target.Rank()
}

// LockState enumerates the lock status stored on an account.
type LockState string

const (
	LockStateNone      LockState = "none"
	LockStateTemporary LockState = "temporary"
	LockStatePermanent LockState = "permanent"
)

// LockProvenance records which party placed the lock.
type LockProvenance string

const (
	LockBySystem LockProvenance = "system"
	LockByAdmin  LockProvenance = "admin"
)

// TwoFactorMethod enumerates supported second-factor delivery channels.
type TwoFactorMethod string

const (
	TwoFactorEmail TwoFactorMethod = "email"
	TwoFactorSMS   TwoFactorMethod = "sms"
)

// Account mirrors the persisted account row including its security state.
// Secrets (password, OTPs, tokens) are stored only as one-way hashes.
type Account struct {
	ID           string
	Username     string
	Email        string
	Phone        *string
	PasswordHash string
	Role         Role

	TwoFactorEnabled bool
	TwoFactorMethod  TwoFactorMethod

	FailedLoginAttempts int
	LockState           LockState
	LockedUntil         *time.Time
	LockProvenance      LockProvenance
	LockedAt            *time.Time

	OTPHash     *string
	OTPIssuedAt *time.Time
	OTPAttempts int

	UnlockRequested      bool
	UnlockRequestedAt    *time.Time
	UnlockRequestedBy    *string
	UnlockTokenHash      *string
	UnlockTokenExpiresAt *time.Time
	UnlockOTPHash        *string
	UnlockOTPExpiresAt   *time.Time
	UnlockOTPAttempts    int

	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time

	RegisteredAt       time.Time
	LastLogin          *time.Time
	LastPasswordChange time.Time
}

// IsLocked reports whether authentication must be refused at the supplied moment.
// Derived from stored fields on every read, never persisted.
func (a Account) IsLocked(at time.Time) bool {
	switch a.LockState {
	case LockStatePermanent:
		return true
	case LockStateTemporary:
		return a.LockedUntil != nil && a.LockedUntil.After(at)
	default:
		return false
	}
}

// PermanentlyLocked reports whether the lock requires admin intervention to clear.
func (a Account) PermanentlyLocked() bool {
	return a.LockState == LockStatePermanent
}

// LockRemaining returns how long a temporary lock still holds. Zero for
// permanent locks and unlocked accounts.
func (a Account) LockRemaining(at time.Time) time.Duration {
	if a.LockState != LockStateTemporary || a.LockedUntil == nil {
		return 0
	}
	remaining := a.LockedUntil.Sub(at)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// PasswordHistoryEntry tracks historical password hashes for reuse prevention.
type PasswordHistoryEntry struct {
	ID           string
	AccountID    string
	PasswordHash string
	SetAt        time.Time
}
