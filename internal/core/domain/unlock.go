package domain

import "time"

// UnlockStage identifies the position of an account inside the admin unlock
// workflow. The stage is a pure function of the stored unlock fields so it can
// never drift from the persisted state.
type UnlockStage string

const (
	// UnlockStageNone means no unlock is pending for the account.
	UnlockStageNone UnlockStage = "none"
	// UnlockStageInitiated means an admin issued an unlock token and OTP
	// that are still live.
	UnlockStageInitiated UnlockStage = "initiated"
	// UnlockStageOTPVerified means the OTP was consumed and a password reset
	// credential is outstanding.
	UnlockStageOTPVerified UnlockStage = "otp_verified"
	// UnlockStageExpired means unlock material exists but every credential in
	// it has lapsed; a fresh initiation is required.
	UnlockStageExpired UnlockStage = "expired"
)

// CurrentUnlockStage derives the workflow stage at the supplied moment.
func (a Account) CurrentUnlockStage(at time.Time) UnlockStage {
	if !a.UnlockRequested {
		return UnlockStageNone
	}

	if a.ResetTokenHash != nil {
		if a.ResetTokenExpiresAt != nil && a.ResetTokenExpiresAt.After(at) {
			return UnlockStageOTPVerified
		}
		return UnlockStageExpired
	}

	if a.UnlockTokenHash != nil {
		if a.UnlockTokenExpiresAt != nil && a.UnlockTokenExpiresAt.After(at) {
			return UnlockStageInitiated
		}
		return UnlockStageExpired
	}

	return UnlockStageExpired
}

// UnlockOTPExpired reports whether the pending unlock OTP has lapsed.
func (a Account) UnlockOTPExpired(at time.Time) bool {
	return a.UnlockOTPExpiresAt == nil || !a.UnlockOTPExpiresAt.After(at)
}

// LoginOTPExpired reports whether the pending login OTP has lapsed given its
// validity window.
func (a Account) LoginOTPExpired(at time.Time, window time.Duration) bool {
	return a.OTPIssuedAt == nil || !a.OTPIssuedAt.Add(window).After(at)
}
