package port

import "context"

// OTPPurpose distinguishes the message template used for a code.
type OTPPurpose string

const (
	OTPPurposeLogin  OTPPurpose = "login_2fa"
	OTPPurposeUnlock OTPPurpose = "account_unlock"
)

// OTPMessage carries a plaintext code to the delivery layer. The code exists
// only transiently here; storage keeps hashes exclusively.
type OTPMessage struct {
	Purpose   OTPPurpose
	Email     string
	Phone     string
	Code      string
	Recipient string
	ExpiresIn string
}

// DeliveryReceipt reports per-channel delivery outcomes. Delivery failures
// are represented here, never as returned errors.
type DeliveryReceipt struct {
	EmailSent bool
	SMSSent   bool
	EmailErr  string
	SMSErr    string
}

// Attempted reports whether at least one channel accepted the message.
func (r DeliveryReceipt) Attempted() bool {
	return r.EmailSent || r.SMSSent
}

// Degraded reports whether any configured channel failed.
func (r DeliveryReceipt) Degraded() bool {
	return r.EmailErr != "" || r.SMSErr != ""
}

// NotificationGateway dispatches one-time codes over the configured channels.
// Implementations must bound each channel with a timeout and must not return
// an error for delivery failures; the receipt carries the outcome.
type NotificationGateway interface {
	SendOTP(ctx context.Context, msg OTPMessage) DeliveryReceipt
}
