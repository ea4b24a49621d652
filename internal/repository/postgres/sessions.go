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

const sessionsTable = "soc.sessions"

var sessionColumns = []string{
	"id",
	"account_id",
	"ip",
	"user_agent",
	"issued_at",
	"last_seen_at",
	"active",
	"deactivated_at",
	"end_reason",
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a session row.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	stmt, args, err := r.builder.
		Insert(sessionsTable).
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.AccountID,
			session.IP,
			session.UserAgent,
			session.IssuedAt,
			session.LastSeenAt,
			session.Active,
			session.DeactivatedAt,
			session.EndReason,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by identifier.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From(sessionsTable).
		Where(squirrel.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	var session domain.Session
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&session.ID,
		&session.AccountID,
		&session.IP,
		&session.UserAgent,
		&session.IssuedAt,
		&session.LastSeenAt,
		&session.Active,
		&session.DeactivatedAt,
		&session.EndReason,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return &session, nil
}

// Touch refreshes last-seen metadata. Only active rows accept activity.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, at time.Time, ip, userAgent *string) error {
	query := r.builder.
		Update(sessionsTable).
		Set("last_seen_at", at).
		Where(squirrel.Eq{"id": sessionID, "active": true})
	if ip != nil {
		query = query.Set("ip", *ip)
	}
	if userAgent != nil {
		query = query.Set("user_agent", *userAgent)
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build touch session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Deactivate ends a single session, recording when and why.
func (r *SessionRepository) Deactivate(ctx context.Context, sessionID, reason string, at time.Time) error {
	stmt, args, err := r.builder.
		Update(sessionsTable).
		Set("active", false).
		Set("deactivated_at", at).
		Set("end_reason", reason).
		Where(squirrel.Eq{"id": sessionID, "active": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build deactivate session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// DeactivateAllForAccount ends every active session owned by the account.
func (r *SessionRepository) DeactivateAllForAccount(ctx context.Context, accountID, reason string, at time.Time) (int, error) {
	stmt, args, err := r.builder.
		Update(sessionsTable).
		Set("active", false).
		Set("deactivated_at", at).
		Set("end_reason", reason).
		Where(squirrel.Eq{"account_id": accountID, "active": true}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build deactivate account sessions sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("deactivate account sessions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// ListByAccount returns the account's sessions, newest first.
func (r *SessionRepository) ListByAccount(ctx context.Context, accountID string, activeOnly bool) ([]domain.Session, error) {
	query := r.builder.
		Select(sessionColumns...).
		From(sessionsTable).
		Where(squirrel.Eq{"account_id": accountID}).
		OrderBy("issued_at DESC")
	if activeOnly {
		query = query.Where(squirrel.Eq{"active": true})
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var session domain.Session
		if err := rows.Scan(
			&session.ID,
			&session.AccountID,
			&session.IP,
			&session.UserAgent,
			&session.IssuedAt,
			&session.LastSeenAt,
			&session.Active,
			&session.DeactivatedAt,
			&session.EndReason,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// DeactivateIdleBefore expires sessions whose last activity predates cutoff.
func (r *SessionRepository) DeactivateIdleBefore(ctx context.Context, cutoff time.Time, at time.Time) (int, error) {
	stmt, args, err := r.builder.
		Update(sessionsTable).
		Set("active", false).
		Set("deactivated_at", at).
		Set("end_reason", "idle_timeout").
		Where(squirrel.And{
			squirrel.Eq{"active": true},
			squirrel.Lt{"last_seen_at": cutoff},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build expire idle sessions sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("expire idle sessions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// DeleteInactiveBefore reclaims inactive rows older than cutoff.
func (r *SessionRepository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	stmt, args, err := r.builder.
		Delete(sessionsTable).
		Where(squirrel.And{
			squirrel.Eq{"active": false},
			squirrel.Lt{"deactivated_at": cutoff},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge sessions sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
