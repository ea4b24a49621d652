package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/koshcoop/society-security/internal/core/domain"
	"github.com/koshcoop/society-security/internal/core/port"
	"github.com/koshcoop/society-security/internal/repository"
)

const accountsTable = "soc.accounts"
const passwordHistoryTable = "soc.password_history"

var accountColumns = []string{
	"id",
	"username",
	"email",
	"phone",
	"password_hash",
	"role",
	"two_factor_enabled",
	"two_factor_method",
	"failed_login_attempts",
	"lock_state",
	"locked_until",
	"lock_provenance",
	"locked_at",
	"otp_hash",
	"otp_issued_at",
	"otp_attempts",
	"unlock_requested",
	"unlock_requested_at",
	"unlock_requested_by",
	"unlock_token_hash",
	"unlock_token_expires_at",
	"unlock_otp_hash",
	"unlock_otp_expires_at",
	"unlock_otp_attempts",
	"reset_token_hash",
	"reset_token_expires_at",
	"registered_at",
	"last_login",
	"last_password_change",
}

// AccountRepository implements port.AccountRepository using PostgreSQL.
//
// Counter and secret transitions run as single conditional statements so that
// concurrent requests against the same row serialize inside the database.
type AccountRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccountRepository wires a PostgreSQL-backed account repository.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	return &AccountRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *AccountRepository) getBy(ctx context.Context, pred squirrel.Sqlizer) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From(accountsTable).
		Where(pred).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var account domain.Account
	if err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.Phone,
		&account.PasswordHash,
		&account.Role,
		&account.TwoFactorEnabled,
		&account.TwoFactorMethod,
		&account.FailedLoginAttempts,
		&account.LockState,
		&account.LockedUntil,
		&account.LockProvenance,
		&account.LockedAt,
		&account.OTPHash,
		&account.OTPIssuedAt,
		&account.OTPAttempts,
		&account.UnlockRequested,
		&account.UnlockRequestedAt,
		&account.UnlockRequestedBy,
		&account.UnlockTokenHash,
		&account.UnlockTokenExpiresAt,
		&account.UnlockOTPHash,
		&account.UnlockOTPExpiresAt,
		&account.UnlockOTPAttempts,
		&account.ResetTokenHash,
		&account.ResetTokenExpiresAt,
		&account.RegisteredAt,
		&account.LastLogin,
		&account.LastPasswordChange,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	return &account, nil
}

// GetByID retrieves an account by identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.getBy(ctx, squirrel.Eq{"id": id})
}

// GetByIdentifier retrieves an account by username or email.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	return r.getBy(ctx, squirrel.Or{
		squirrel.Eq{"username": identifier},
		squirrel.Eq{"email": identifier},
	})
}

// GetByUnlockTokenHash retrieves the account holding the hashed unlock token.
func (r *AccountRepository) GetByUnlockTokenHash(ctx context.Context, tokenHash string) (*domain.Account, error) {
	return r.getBy(ctx, squirrel.Eq{"unlock_token_hash": tokenHash})
}

// GetByResetTokenHash retrieves the account holding the hashed reset credential.
func (r *AccountRepository) GetByResetTokenHash(ctx context.Context, tokenHash string) (*domain.Account, error) {
	return r.getBy(ctx, squirrel.Eq{"reset_token_hash": tokenHash})
}

// RegisterLoginFailure increments the failed-attempt counter and applies the
// permanent system lock in the same statement once the threshold is reached.
func (r *AccountRepository) RegisterLoginFailure(ctx context.Context, id string, threshold int, at time.Time) (*port.LoginFailureResult, error) {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("failed_login_attempts", squirrel.Expr("failed_login_attempts + 1")).
		Set("lock_state", squirrel.Expr(
			"CASE WHEN failed_login_attempts + 1 >= ? AND lock_state <> 'permanent' THEN 'permanent' ELSE lock_state END",
			threshold,
		)).
		Set("lock_provenance", squirrel.Expr(
			"CASE WHEN failed_login_attempts + 1 >= ? AND lock_state <> 'permanent' THEN 'system' ELSE lock_provenance END",
			threshold,
		)).
		Set("locked_at", squirrel.Expr(
			"CASE WHEN failed_login_attempts + 1 >= ? AND lock_state <> 'permanent' THEN ?::timestamptz ELSE locked_at END",
			threshold, at,
		)).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING failed_login_attempts, lock_state").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build register login failure sql: %w", err)
	}

	var result port.LoginFailureResult
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&result.Attempts, &result.LockState); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("register login failure: %w", err)
	}

	return &result, nil
}

// ResetLoginFailures zeroes the counter and releases an expired temporary
// lock. The predicate leaves permanent locks untouched even when one was
// placed between the caller's read and this write.
func (r *AccountRepository) ResetLoginFailures(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("failed_login_attempts", 0).
		Set("lock_state", squirrel.Expr(
			"CASE WHEN lock_state = 'temporary' AND (locked_until IS NULL OR locked_until <= ?::timestamptz) THEN 'none' ELSE lock_state END",
			at,
		)).
		Set("locked_until", squirrel.Expr(
			"CASE WHEN lock_state = 'temporary' AND (locked_until IS NULL OR locked_until <= ?::timestamptz) THEN NULL ELSE locked_until END",
			at,
		)).
		Where(squirrel.And{
			squirrel.Eq{"id": id},
			squirrel.NotEq{"lock_state": string(domain.LockStatePermanent)},
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reset login failures sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}

	return nil
}

// Lock places an explicit lock on the account. A nil until means permanent.
func (r *AccountRepository) Lock(ctx context.Context, id string, until *time.Time, provenance domain.LockProvenance, at time.Time) error {
	state := domain.LockStateTemporary
	if until == nil {
		state = domain.LockStatePermanent
	}

	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("lock_state", string(state)).
		Set("locked_until", until).
		Set("lock_provenance", string(provenance)).
		Set("locked_at", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build lock account sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// StoreLoginOTP overwrites the outstanding login OTP and zeroes its counter.
func (r *AccountRepository) StoreLoginOTP(ctx context.Context, id, otpHash string, issuedAt time.Time) error {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("otp_hash", otpHash).
		Set("otp_issued_at", issuedAt).
		Set("otp_attempts", 0).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build store login otp sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("store login otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// IncrementLoginOTPAttempts bumps the counter while the stored hash still
// matches. Zero rows means a concurrent verify or reissue won the race.
func (r *AccountRepository) IncrementLoginOTPAttempts(ctx context.Context, id, otpHash string) (int, error) {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("otp_attempts", squirrel.Expr("otp_attempts + 1")).
		Where(squirrel.Eq{"id": id, "otp_hash": otpHash}).
		Suffix("RETURNING otp_attempts").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build increment login otp attempts sql: %w", err)
	}

	var attempts int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("increment login otp attempts: %w", err)
	}

	return attempts, nil
}

// ConsumeLoginOTP clears the OTP material, guarded on the stored hash so a
// code verifies at most once.
func (r *AccountRepository) ConsumeLoginOTP(ctx context.Context, id, otpHash string) error {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("otp_hash", nil).
		Set("otp_issued_at", nil).
		Set("otp_attempts", 0).
		Where(squirrel.Eq{"id": id, "otp_hash": otpHash}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build consume login otp sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("consume login otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// BeginUnlock writes the unlock token and OTP material, superseding any
// earlier unlock attempt for the account.
func (r *AccountRepository) BeginUnlock(ctx context.Context, id string, material port.UnlockMaterial) error {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("unlock_requested", true).
		Set("unlock_requested_at", material.RequestedAt).
		Set("unlock_requested_by", material.RequestedBy).
		Set("unlock_token_hash", material.TokenHash).
		Set("unlock_token_expires_at", material.TokenExpiresAt).
		Set("unlock_otp_hash", material.OTPHash).
		Set("unlock_otp_expires_at", material.OTPExpiresAt).
		Set("unlock_otp_attempts", 0).
		Set("reset_token_hash", nil).
		Set("reset_token_expires_at", nil).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build begin unlock sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("begin unlock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// StoreUnlockOTP replaces only the unlock OTP for the resend path.
func (r *AccountRepository) StoreUnlockOTP(ctx context.Context, id, otpHash string, expiresAt time.Time) error {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("unlock_otp_hash", otpHash).
		Set("unlock_otp_expires_at", expiresAt).
		Set("unlock_otp_attempts", 0).
		Where(squirrel.Eq{"id": id, "unlock_requested": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build store unlock otp sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("store unlock otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// IncrementUnlockOTPAttempts bumps the unlock OTP counter while the stored
// hash still matches.
func (r *AccountRepository) IncrementUnlockOTPAttempts(ctx context.Context, id, otpHash string) (int, error) {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("unlock_otp_attempts", squirrel.Expr("unlock_otp_attempts + 1")).
		Where(squirrel.Eq{"id": id, "unlock_otp_hash": otpHash}).
		Suffix("RETURNING unlock_otp_attempts").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build increment unlock otp attempts sql: %w", err)
	}

	var attempts int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("increment unlock otp attempts: %w", err)
	}

	return attempts, nil
}

// ConsumeUnlockOTP retires the unlock OTP and issues the reset credential in
// one transition, guarded on the OTP hash.
func (r *AccountRepository) ConsumeUnlockOTP(ctx context.Context, id, otpHash, resetTokenHash string, resetExpiresAt time.Time) error {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("unlock_otp_hash", nil).
		Set("unlock_otp_expires_at", nil).
		Set("unlock_otp_attempts", 0).
		Set("reset_token_hash", resetTokenHash).
		Set("reset_token_expires_at", resetExpiresAt).
		Where(squirrel.Eq{"id": id, "unlock_otp_hash": otpHash}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build consume unlock otp sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("consume unlock otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// CompleteUnlock installs the new password hash and clears every lock and
// unlock field in a single statement, guarded on a live reset credential.
func (r *AccountRepository) CompleteUnlock(ctx context.Context, id, resetTokenHash, passwordHash string, at time.Time) error {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("password_hash", passwordHash).
		Set("last_password_change", at).
		Set("failed_login_attempts", 0).
		Set("lock_state", string(domain.LockStateNone)).
		Set("locked_until", nil).
		Set("locked_at", nil).
		Set("otp_hash", nil).
		Set("otp_issued_at", nil).
		Set("otp_attempts", 0).
		Set("unlock_requested", false).
		Set("unlock_requested_at", nil).
		Set("unlock_requested_by", nil).
		Set("unlock_token_hash", nil).
		Set("unlock_token_expires_at", nil).
		Set("unlock_otp_hash", nil).
		Set("unlock_otp_expires_at", nil).
		Set("unlock_otp_attempts", 0).
		Set("reset_token_hash", nil).
		Set("reset_token_expires_at", nil).
		Where(squirrel.And{
			squirrel.Eq{"id": id, "reset_token_hash": resetTokenHash},
			squirrel.Expr("reset_token_expires_at > ?", at),
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build complete unlock sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("complete unlock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateLastLogin records a successful authentication.
func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("last_login", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update last login sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ListPasswordHistory returns the newest password hashes first.
func (r *AccountRepository) ListPasswordHistory(ctx context.Context, id string, limit int) ([]domain.PasswordHistoryEntry, error) {
	query := r.builder.
		Select("id", "account_id", "password_hash", "set_at").
		From(passwordHistoryTable).
		Where(squirrel.Eq{"account_id": id}).
		OrderBy("set_at DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list password history sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list password history: %w", err)
	}
	defer rows.Close()

	var entries []domain.PasswordHistoryEntry
	for rows.Next() {
		var entry domain.PasswordHistoryEntry
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.PasswordHash, &entry.SetAt); err != nil {
			return nil, fmt.Errorf("scan password history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate password history: %w", err)
	}

	return entries, nil
}

// AddPasswordHistory records a retired password hash.
func (r *AccountRepository) AddPasswordHistory(ctx context.Context, entry domain.PasswordHistoryEntry) error {
	stmt, args, err := r.builder.
		Insert(passwordHistoryTable).
		Columns("id", "account_id", "password_hash", "set_at").
		Values(entry.ID, entry.AccountID, entry.PasswordHash, entry.SetAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert password history sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert password history: %w", err)
	}

	return nil
}

// TrimPasswordHistory drops entries beyond the newest maxEntries.
func (r *AccountRepository) TrimPasswordHistory(ctx context.Context, id string, maxEntries int) error {
	stmt, args, err := r.builder.
		Delete(passwordHistoryTable).
		Where(squirrel.Eq{"account_id": id}).
		Where(squirrel.Expr(
			"id NOT IN (SELECT id FROM "+passwordHistoryTable+" WHERE account_id = ? ORDER BY set_at DESC LIMIT ?)",
			id, maxEntries,
		)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build trim password history sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("trim password history: %w", err)
	}

	return nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
