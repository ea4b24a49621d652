package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/koshcoop/society-security/internal/core/domain"
	"github.com/koshcoop/society-security/internal/core/port"
	"github.com/koshcoop/society-security/internal/repository"
)

// anyArgs builds a matcher list that accepts any value for each of the
// statement's n placeholders; pgxmock requires the argument count to match
// even when the test does not assert specific values.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockedAccountRepo(t *testing.T) (*AccountRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewAccountRepository(mock), mock
}

func TestRegisterLoginFailureReturnsPostIncrementState(t *testing.T) {
	repo, mock := newMockedAccountRepo(t)
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("UPDATE soc\\.accounts SET failed_login_attempts = failed_login_attempts \\+ 1").
		WithArgs(anyArgs(5)...).
		WillReturnRows(pgxmock.NewRows([]string{"failed_login_attempts", "lock_state"}).
			AddRow(3, domain.LockStatePermanent))

	result, err := repo.RegisterLoginFailure(context.Background(), "acc-1", 3, at)
	if err != nil {
		t.Fatalf("register login failure: %v", err)
	}
	if result.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", result.Attempts)
	}
	if result.LockState != domain.LockStatePermanent {
		t.Fatalf("lock state = %q, want permanent", result.LockState)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRegisterLoginFailureMissingAccount(t *testing.T) {
	repo, mock := newMockedAccountRepo(t)

	mock.ExpectQuery("UPDATE soc\\.accounts").
		WithArgs(anyArgs(5)...).
		WillReturnRows(pgxmock.NewRows([]string{"failed_login_attempts", "lock_state"}))

	_, err := repo.RegisterLoginFailure(context.Background(), "missing", 3, time.Now())
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResetLoginFailuresSkipsPermanentLock(t *testing.T) {
	repo, mock := newMockedAccountRepo(t)

	// The permanent-lock guard sits in the WHERE clause; zero rows is fine.
	mock.ExpectExec("UPDATE soc\\.accounts SET failed_login_attempts = .+ lock_state <> \\$").
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.ResetLoginFailures(context.Background(), "acc-1", time.Now()); err != nil {
		t.Fatalf("reset login failures: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConsumeLoginOTPReportsLostRace(t *testing.T) {
	repo, mock := newMockedAccountRepo(t)

	mock.ExpectExec("UPDATE soc\\.accounts SET otp_hash = ").
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.ConsumeLoginOTP(context.Background(), "acc-1", "stale-hash")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a stale hash, got %v", err)
	}
}

func TestIncrementLoginOTPAttemptsGuardedByHash(t *testing.T) {
	repo, mock := newMockedAccountRepo(t)

	mock.ExpectQuery("UPDATE soc\\.accounts SET otp_attempts = otp_attempts \\+ 1").
		WithArgs("acc-1", "current-hash").
		WillReturnRows(pgxmock.NewRows([]string{"otp_attempts"}).AddRow(2))

	attempts, err := repo.IncrementLoginOTPAttempts(context.Background(), "acc-1", "current-hash")
	if err != nil {
		t.Fatalf("increment otp attempts: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestCompleteUnlockExpiredCredential(t *testing.T) {
	repo, mock := newMockedAccountRepo(t)

	mock.ExpectExec("UPDATE soc\\.accounts SET password_hash = ").
		WithArgs(anyArgs(22)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.CompleteUnlock(context.Background(), "acc-1", "reset-hash", "new-hash", time.Now())
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound when the credential lapsed, got %v", err)
	}
}

func TestBeginUnlockWritesMaterial(t *testing.T) {
	repo, mock := newMockedAccountRepo(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE soc\\.accounts SET unlock_requested = ").
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.BeginUnlock(context.Background(), "acc-1", port.UnlockMaterial{
		TokenHash:      "token-hash",
		TokenExpiresAt: now.Add(24 * time.Hour),
		OTPHash:        "otp-hash",
		OTPExpiresAt:   now.Add(10 * time.Minute),
		RequestedBy:    "adm-1",
		RequestedAt:    now,
	})
	if err != nil {
		t.Fatalf("begin unlock: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListPasswordHistoryScansRows(t *testing.T) {
	repo, mock := newMockedAccountRepo(t)
	setAt := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, account_id, password_hash, set_at FROM soc\\.password_history").
		WithArgs(anyArgs(1)...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "account_id", "password_hash", "set_at"}).
			AddRow("hist-1", "acc-1", "old-hash", setAt))

	entries, err := repo.ListPasswordHistory(context.Background(), "acc-1", 5)
	if err != nil {
		t.Fatalf("list password history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].PasswordHash != "old-hash" {
		t.Fatalf("hash = %q, want old-hash", entries[0].PasswordHash)
	}
}
