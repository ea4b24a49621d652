package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koshcoop/society-security/internal/core/domain"
)

func TestAuthenticateSuccessOpensSession(t *testing.T) {
	account := memberAccount(t, "acc-1", "amara", "Str0ng!Passphrase")
	st := newTestStack(t, account)

	result, err := st.login.Authenticate(context.Background(), "amara", "Str0ng!Passphrase", nil, nil)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if result.TwoFactorRequired {
		t.Fatal("expected no second factor for this account")
	}
	if result.Session == nil {
		t.Fatal("expected a session")
	}
	if result.AccessToken == "" {
		t.Fatal("expected an access token")
	}
	if result.Account.PasswordHash != "" {
		t.Fatal("password hash must not leak out of the service")
	}

	claims, err := st.issuer.Parse(result.AccessToken)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.AccountID != "acc-1" {
		t.Fatalf("token account = %q, want acc-1", claims.AccountID)
	}
	if claims.SessionID != result.Session.ID {
		t.Fatalf("token session = %q, want %q", claims.SessionID, result.Session.ID)
	}

	stored, err := st.accounts.GetByID(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if stored.LastLogin == nil {
		t.Fatal("expected last login to be recorded")
	}
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	account := memberAccount(t, "acc-1", "amara", "Str0ng!Passphrase")
	st := newTestStack(t, account)

	_, err := st.login.Authenticate(context.Background(), "amara", "wrong-password", nil, nil)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	var rejected *CredentialsRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected CredentialsRejectedError, got %T", err)
	}
	if rejected.AttemptsRemaining != 2 {
		t.Fatalf("attempts remaining = %d, want 2", rejected.AttemptsRemaining)
	}
}

func TestAuthenticateLocksAtThreshold(t *testing.T) {
	account := memberAccount(t, "acc-1", "amara", "Str0ng!Passphrase")
	st := newTestStack(t, account)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := st.login.Authenticate(ctx, "amara", "wrong-password", nil, nil); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	_, err := st.login.Authenticate(ctx, "amara", "wrong-password", nil, nil)
	var locked *AccountLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected AccountLockedError on third failure, got %v", err)
	}
	if !locked.Permanent {
		t.Fatal("threshold lock must be permanent")
	}

	stored, err := st.accounts.GetByID(ctx, "acc-1")
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if stored.LockState != domain.LockStatePermanent {
		t.Fatalf("lock state = %q, want permanent", stored.LockState)
	}
	if stored.LockProvenance != domain.LockBySystem {
		t.Fatalf("lock provenance = %q, want system", stored.LockProvenance)
	}
	if len(st.events.locked) != 1 {
		t.Fatalf("expected one locked event, got %d", len(st.events.locked))
	}

	// Even the correct password is refused once locked.
	_, err = st.login.Authenticate(ctx, "amara", "Str0ng!Passphrase", nil, nil)
	if !errors.As(err, &locked) {
		t.Fatalf("expected AccountLockedError after lockout, got %v", err)
	}
}

func TestAuthenticateLockoutRevokesSessions(t *testing.T) {
	account := memberAccount(t, "acc-1", "amara", "Str0ng!Passphrase")
	st := newTestStack(t, account)
	ctx := context.Background()

	if _, err := st.login.Authenticate(ctx, "amara", "Str0ng!Passphrase", nil, nil); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	for i := 0; i < 3; i++ {
		_, _ = st.login.Authenticate(ctx, "amara", "wrong-password", nil, nil)
	}

	active, err := st.sessions.ListByAccount(ctx, "acc-1", true)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active sessions after lockout, got %d", len(active))
	}
}

func TestAuthenticateResetsCounterOnSuccess(t *testing.T) {
	account := memberAccount(t, "acc-1", "amara", "Str0ng!Passphrase")
	account.FailedLoginAttempts = 2
	st := newTestStack(t, account)
	ctx := context.Background()

	if _, err := st.login.Authenticate(ctx, "amara", "Str0ng!Passphrase", nil, nil); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	stored, err := st.accounts.GetByID(ctx, "acc-1")
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if stored.FailedLoginAttempts != 0 {
		t.Fatalf("failed attempts = %d, want 0", stored.FailedLoginAttempts)
	}

	// A later wrong guess starts counting from scratch.
	_, err = st.login.Authenticate(ctx, "amara", "wrong-password", nil, nil)
	var rejected *CredentialsRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected CredentialsRejectedError, got %v", err)
	}
	if rejected.AttemptsRemaining != 2 {
		t.Fatalf("attempts remaining = %d, want 2", rejected.AttemptsRemaining)
	}
}

func TestAuthenticateUnknownIdentifier(t *testing.T) {
	st := newTestStack(t)

	_, err := st.login.Authenticate(context.Background(), "nobody", "whatever-password", nil, nil)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	// Unknown identifiers must not be distinguishable via the error shape.
	var rejected *CredentialsRejectedError
	if errors.As(err, &rejected) {
		t.Fatal("unknown identifier must not leak an attempt counter")
	}
}

func TestAuthenticateTemporaryLockReportsRetryAfter(t *testing.T) {
	account := memberAccount(t, "acc-1", "amara", "Str0ng!Passphrase")
	until := testNow.Add(20 * time.Minute)
	account.LockState = domain.LockStateTemporary
	account.LockedUntil = &until
	st := newTestStack(t, account)

	_, err := st.login.Authenticate(context.Background(), "amara", "Str0ng!Passphrase", nil, nil)
	var locked *AccountLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected AccountLockedError, got %v", err)
	}
	if locked.Permanent {
		t.Fatal("temporary lock must not report permanent")
	}
	if locked.RetryAfter <= 0 {
		t.Fatalf("retry after = %v, want positive", locked.RetryAfter)
	}
}

func TestAuthenticateIssuesChallengeWhenTwoFactorEnabled(t *testing.T) {
	account := memberAccount(t, "acc-1", "amara", "Str0ng!Passphrase")
	account.TwoFactorEnabled = true
	account.TwoFactorMethod = domain.TwoFactorEmail
	st := newTestStack(t, account)
	ctx := context.Background()

	result, err := st.login.Authenticate(ctx, "amara", "Str0ng!Passphrase", nil, nil)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if !result.TwoFactorRequired {
		t.Fatal("expected a pending second factor")
	}
	if result.Session != nil || result.AccessToken != "" {
		t.Fatal("no session may exist before the code verifies")
	}
	if code := st.notifier.lastCode(); len(code) != 6 {
		t.Fatalf("delivered code %q, want 6 digits", code)
	}

	stored, err := st.accounts.GetByID(ctx, "acc-1")
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if stored.OTPHash == nil {
		t.Fatal("expected a stored code hash")
	}
	if *stored.OTPHash == st.notifier.lastCode() {
		t.Fatal("plaintext code must never be stored")
	}
}

func TestAuditTrailRecordsLoginOutcomes(t *testing.T) {
	account := memberAccount(t, "acc-1", "amara", "Str0ng!Passphrase")
	st := newTestStack(t, account)
	ctx := context.Background()

	_, _ = st.login.Authenticate(ctx, "amara", "wrong-password", nil, nil)
	if _, err := st.login.Authenticate(ctx, "amara", "Str0ng!Passphrase", nil, nil); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	actions := st.auditRepo.actions("acc-1")
	want := []domain.AuditAction{domain.AuditLoginFailed, domain.AuditLoginSucceeded}
	if len(actions) != len(want) {
		t.Fatalf("audit actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("audit actions = %v, want %v", actions, want)
		}
	}
}
