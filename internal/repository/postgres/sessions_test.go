package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/koshcoop/society-security/internal/core/domain"
	"github.com/koshcoop/society-security/internal/repository"
)

func newMockedSessionRepo(t *testing.T) (*SessionRepository, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	return NewSessionRepository(mock), mock
}

func TestSessionCreateInsertsRow(t *testing.T) {
	repo, mock := newMockedSessionRepo(t)

	issuedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ip := "203.0.113.7"
	agent := "society-mobile/2.4"
	session := domain.Session{
		ID:         "sess-1",
		AccountID:  "acc-1",
		IP:         &ip,
		UserAgent:  &agent,
		IssuedAt:   issuedAt,
		LastSeenAt: issuedAt,
		Active:     true,
	}

	mock.ExpectExec(`INSERT INTO soc\.sessions`).
		WithArgs(
			session.ID,
			session.AccountID,
			&ip,
			&agent,
			session.IssuedAt,
			session.LastSeenAt,
			true,
			(*time.Time)(nil),
			(*string)(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Create(context.Background(), session); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionGetByIDMissing(t *testing.T) {
	repo, mock := newMockedSessionRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM soc\.sessions WHERE id = \$1`).
		WithArgs("sess-missing").
		WillReturnRows(pgxmock.NewRows(sessionColumns))

	if _, err := repo.GetByID(context.Background(), "sess-missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionTouchRequiresActiveRow(t *testing.T) {
	repo, mock := newMockedSessionRepo(t)

	at := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)

	// Eq map keys serialize alphabetically: active before id.
	mock.ExpectExec(`UPDATE soc\.sessions SET last_seen_at = \$1 WHERE active = \$2 AND id = \$3`).
		WithArgs(at, true, "sess-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.Touch(context.Background(), "sess-1", at, nil, nil); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for already-ended session, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionTouchRefreshesClientMetadata(t *testing.T) {
	repo, mock := newMockedSessionRepo(t)

	at := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	ip := "198.51.100.4"
	agent := "society-web/1.9"

	mock.ExpectExec(`UPDATE soc\.sessions SET last_seen_at = \$1, ip = \$2, user_agent = \$3`).
		WithArgs(at, ip, agent, true, "sess-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.Touch(context.Background(), "sess-1", at, &ip, &agent); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionDeactivateRecordsReason(t *testing.T) {
	repo, mock := newMockedSessionRepo(t)

	at := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE soc\.sessions SET active = \$1, deactivated_at = \$2, end_reason = \$3`).
		WithArgs(false, at, "revoked", true, "sess-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.Deactivate(context.Background(), "sess-1", "revoked", at); err != nil {
		t.Fatalf("Deactivate returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionDeactivateAllForAccountCountsRows(t *testing.T) {
	repo, mock := newMockedSessionRepo(t)

	at := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE soc\.sessions SET active = \$1, deactivated_at = \$2, end_reason = \$3`).
		WithArgs(false, at, "account_locked", "acc-1", true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	count, err := repo.DeactivateAllForAccount(context.Background(), "acc-1", "account_locked", at)
	if err != nil {
		t.Fatalf("DeactivateAllForAccount returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 deactivated sessions, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionListByAccountScansRows(t *testing.T) {
	repo, mock := newMockedSessionRepo(t)

	issuedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ip := "203.0.113.7"

	rows := pgxmock.NewRows(sessionColumns).
		AddRow("sess-2", "acc-1", &ip, nil, issuedAt.Add(time.Hour), issuedAt.Add(time.Hour), true, nil, nil).
		AddRow("sess-1", "acc-1", nil, nil, issuedAt, issuedAt, true, nil, nil)

	mock.ExpectQuery(`SELECT .+ FROM soc\.sessions WHERE account_id = \$1 AND active = \$2 ORDER BY issued_at DESC`).
		WithArgs("acc-1", true).
		WillReturnRows(rows)

	sessions, err := repo.ListByAccount(context.Background(), "acc-1", true)
	if err != nil {
		t.Fatalf("ListByAccount returned error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "sess-2" || sessions[1].ID != "sess-1" {
		t.Fatalf("unexpected ordering: %q then %q", sessions[0].ID, sessions[1].ID)
	}
	if sessions[0].IP == nil || *sessions[0].IP != ip {
		t.Fatalf("expected IP %q on newest session, got %v", ip, sessions[0].IP)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionDeactivateIdleBefore(t *testing.T) {
	repo, mock := newMockedSessionRepo(t)

	at := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	cutoff := at.Add(-30 * time.Minute)

	mock.ExpectExec(`UPDATE soc\.sessions SET active = \$1, deactivated_at = \$2, end_reason = \$3 WHERE \(active = \$4 AND last_seen_at < \$5\)`).
		WithArgs(false, at, "idle_timeout", true, cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	count, err := repo.DeactivateIdleBefore(context.Background(), cutoff, at)
	if err != nil {
		t.Fatalf("DeactivateIdleBefore returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 expired sessions, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionDeleteInactiveBefore(t *testing.T) {
	repo, mock := newMockedSessionRepo(t)

	cutoff := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM soc\.sessions WHERE \(active = \$1 AND deactivated_at < \$2\)`).
		WithArgs(false, cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	count, err := repo.DeleteInactiveBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DeleteInactiveBefore returned error: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 purged sessions, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
