package domain

import "time"

// AuditAction identifies a security-relevant state transition.
type AuditAction string

const (
	AuditLoginSucceeded  AuditAction = "login_succeeded"
	AuditLoginFailed     AuditAction = "login_failed"
	AuditLoginLocked     AuditAction = "login_locked"
	AuditAccountLocked   AuditAction = "account_locked"
	AuditOTPIssued       AuditAction = "otp_issued"
	AuditOTPVerified     AuditAction = "otp_verified"
	AuditOTPRejected     AuditAction = "otp_rejected"
	AuditUnlockInitiated AuditAction = "unlock_initiated"
	AuditUnlockOTPSent   AuditAction = "otp_sent"
	AuditUnlockFailed    AuditAction = "unlock_failed"
	AuditUnlockCompleted AuditAction = "unlock_completed"
	AuditSessionRevoked  AuditAction = "session_revoked"
)

// AuditOutcome classifies how the audited transition concluded.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
	AuditOutcomeDenied  AuditOutcome = "denied"
)

// AuditEntry is an immutable record of a security transition. Entries are
// append-only; nothing in the service updates or deletes them.
type AuditEntry struct {
	ID        string
	ActorID   *string // nil when the system itself acted
	SubjectID string
	Action    AuditAction
	Outcome   AuditOutcome
	At        time.Time
	Metadata  map[string]any
}

// AuditFilter narrows audit queries for compliance review.
type AuditFilter struct {
	SubjectID string
	ActorID   string
	Action    AuditAction
	Outcome   AuditOutcome
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
