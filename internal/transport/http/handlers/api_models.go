package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/koshcoop/society-security/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error             string `json:"error"`
	TraceID           string `json:"trace_id,omitempty"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
	RetryAfterSeconds *int   `json:"retry_after_seconds,omitempty"`
	Permanent         *bool  `json:"permanent,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AccountSummary describes a minimal view of an account returned by the API.
type AccountSummary struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
	Email    string      `json:"email,omitempty"`
	Phone    *string     `json:"phone,omitempty"`
}

func newAccountSummary(account domain.Account) AccountSummary {
	return AccountSummary{
		ID:       account.ID,
		Username: account.Username,
		Role:     account.Role,
		Email:    account.Email,
		Phone:    account.Phone,
	}
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// SessionSummary provides a compact view of a session.
type SessionSummary struct {
	ID            string     `json:"id"`
	IP            *string    `json:"ip,omitempty"`
	UserAgent     *string    `json:"user_agent,omitempty"`
	IssuedAt      time.Time  `json:"issued_at"`
	LastSeenAt    time.Time  `json:"last_seen_at"`
	Active        bool       `json:"active"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	EndReason     *string    `json:"end_reason,omitempty"`
}

func newSessionSummary(session domain.Session) SessionSummary {
	return SessionSummary{
		ID:            session.ID,
		IP:            session.IP,
		UserAgent:     session.UserAgent,
		IssuedAt:      session.IssuedAt,
		LastSeenAt:    session.LastSeenAt,
		Active:        session.Active,
		DeactivatedAt: session.DeactivatedAt,
		EndReason:     session.EndReason,
	}
}

// LoginResponse describes a fully authenticated login.
type LoginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresIn   int            `json:"expires_in"`
	Account     AccountSummary `json:"account"`
	Session     SessionSummary `json:"session"`
}

// TwoFactorPendingResponse is returned when the password checked out but a
// second factor is still outstanding.
type TwoFactorPendingResponse struct {
	Message          string         `json:"message"`
	TwoFactorPending bool           `json:"two_factor_pending"`
	Delivery         string         `json:"delivery,omitempty"`
	EmailSent        bool           `json:"email_sent"`
	SMSSent          bool           `json:"sms_sent"`
	ExpiresIn        int            `json:"expires_in"`
	Account          AccountSummary `json:"account"`
}

// TwoFactorVerifyRequest defines the payload for the OTP verification endpoint.
type TwoFactorVerifyRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Code       string `json:"code" binding:"required"`
}

// TwoFactorResendRequest defines the payload for the OTP resend endpoint.
type TwoFactorResendRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

// UnlockInitiateRequest defines the admin payload starting an unlock.
type UnlockInitiateRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// UnlockInitiateResponse reports the freshly started workflow.
type UnlockInitiateResponse struct {
	AccountID      string    `json:"account_id"`
	UnlockToken    string    `json:"unlock_token"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	OTPExpiresAt   time.Time `json:"otp_expires_at"`
	EmailSent      bool      `json:"email_sent"`
	SMSSent        bool      `json:"sms_sent"`
}

// AdminLockRequest defines the admin payload locking an account.
type AdminLockRequest struct {
	Reason string     `json:"reason" binding:"required"`
	Until  *time.Time `json:"until,omitempty"`
}

// UnlockStatusResponse reports where an unlock workflow stands.
type UnlockStatusResponse struct {
	AccountID    string     `json:"account_id"`
	Username     string     `json:"username"`
	Stage        string     `json:"stage"`
	OTPExpiresAt *time.Time `json:"otp_expires_at,omitempty"`
}

// UnlockVerifyOTPRequest defines the payload for unlock OTP verification.
type UnlockVerifyOTPRequest struct {
	Code string `json:"code" binding:"required"`
}

// UnlockVerifyOTPDirectRequest is the tokenless variant.
type UnlockVerifyOTPDirectRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Code       string `json:"code" binding:"required"`
}

// ResetGrantResponse carries the password-reset credential.
type ResetGrantResponse struct {
	ResetToken string    `json:"reset_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ResetPasswordRequest defines the payload completing the unlock.
type ResetPasswordRequest struct {
	NewPassword string `json:"new_password" binding:"required"`
}

// DeliveryResponse reports per-channel delivery outcomes.
type DeliveryResponse struct {
	Message   string `json:"message"`
	EmailSent bool   `json:"email_sent"`
	SMSSent   bool   `json:"sms_sent"`
}

// AuditEntryView is the API projection of an audit record.
type AuditEntryView struct {
	ID        string         `json:"id"`
	ActorID   *string        `json:"actor_id,omitempty"`
	SubjectID string         `json:"subject_id"`
	Action    string         `json:"action"`
	Outcome   string         `json:"outcome"`
	At        time.Time      `json:"at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditListResponse is one page of the audit trail.
type AuditListResponse struct {
	Entries []AuditEntryView `json:"entries"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// SessionListResponse lists an account's sessions.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports dependency readiness.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
