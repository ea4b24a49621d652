package domain

import "time"

// AccountLockedEvent is published when an account transitions into a locked state.
type AccountLockedEvent struct {
	EventID    string
	AccountID  string
	Provenance LockProvenance
	Permanent  bool
	Attempts   int
	LockedAt   time.Time
	Metadata   map[string]any
}

// AccountUnlockedEvent is published when the unlock workflow fully completes.
type AccountUnlockedEvent struct {
	EventID     string
	AccountID   string
	UnlockedBy  string
	CompletedAt time.Time
	Metadata    map[string]any
}

// UnlockInitiatedEvent is published when an admin starts the unlock workflow.
type UnlockInitiatedEvent struct {
	EventID        string
	AccountID      string
	InitiatedBy    string
	Reason         string
	TokenExpiresAt time.Time
	EmailSent      bool
	SMSSent        bool
	InitiatedAt    time.Time
}

// OTPIssuedEvent is published whenever a one-time code is generated.
type OTPIssuedEvent struct {
	EventID   string
	AccountID string
	Purpose   string
	Delivery  TwoFactorMethod
	ExpiresAt time.Time
	EmailSent bool
	SMSSent   bool
	IssuedAt  time.Time
}

// PasswordChangedEvent is published when a password is replaced.
type PasswordChangedEvent struct {
	EventID         string
	AccountID       string
	ChangedBy       string
	ChangedAt       time.Time
	SessionsRevoked int
	Metadata        map[string]any
}

// SessionRevokedEvent is published when a session is deactivated.
type SessionRevokedEvent struct {
	EventID   string
	SessionID string
	AccountID string
	Reason    string
	RevokedAt time.Time
}
