package usecase

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStartSupersedesExistingSession(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	first, err := st.session.Start(ctx, "acc-1", nil, nil)
	if err != nil {
		t.Fatalf("start first session: %v", err)
	}
	second, err := st.session.Start(ctx, "acc-1", nil, nil)
	if err != nil {
		t.Fatalf("start second session: %v", err)
	}

	if first.ID == second.ID {
		t.Fatal("expected distinct session ids")
	}

	active, err := st.sessions.ListByAccount(ctx, "acc-1", true)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active sessions = %d, want 1", len(active))
	}
	if active[0].ID != second.ID {
		t.Fatal("only the newest session may stay active")
	}

	displaced, err := st.sessions.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("reload first session: %v", err)
	}
	if displaced.EndReason == nil || *displaced.EndReason != SessionEndSuperseded {
		t.Fatal("displaced session must record the superseded reason")
	}
}

func TestValidateRefreshesActivity(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	session, err := st.session.Start(ctx, "acc-1", nil, nil)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	later := testNow.Add(10 * time.Minute)
	st.session.WithClock(func() time.Time { return later })

	ip := "10.1.2.3"
	validated, err := st.session.Validate(ctx, session.ID, &ip, nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !validated.LastSeenAt.Equal(later) {
		t.Fatalf("last seen = %v, want %v", validated.LastSeenAt, later)
	}
	if validated.IP == nil || *validated.IP != ip {
		t.Fatal("expected the ip to be refreshed")
	}
}

func TestValidateExpiresIdleSession(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	session, err := st.session.Start(ctx, "acc-1", nil, nil)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	st.session.WithClock(func() time.Time { return testNow.Add(31 * time.Minute) })

	if _, err := st.session.Validate(ctx, session.ID, nil, nil); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	stored, err := st.sessions.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if stored.Active {
		t.Fatal("idle session must be deactivated on validation")
	}
	if stored.EndReason == nil || *stored.EndReason != SessionEndIdleTimeout {
		t.Fatal("expected the idle timeout reason")
	}
}

func TestValidateRevokedSession(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	session, err := st.session.Start(ctx, "acc-1", nil, nil)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	if err := st.session.Revoke(ctx, session.ID, "", nil); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := st.session.Validate(ctx, session.ID, nil, nil); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
	if len(st.events.revoked) != 1 {
		t.Fatalf("expected one revoked event, got %d", len(st.events.revoked))
	}
}

func TestValidateUnknownSession(t *testing.T) {
	st := newTestStack(t)

	if _, err := st.session.Validate(context.Background(), "missing", nil, nil); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked for unknown session, got %v", err)
	}
}

func TestRevokeAllDeactivatesEverySession(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	if _, err := st.session.Start(ctx, "acc-1", nil, nil); err != nil {
		t.Fatalf("start session: %v", err)
	}

	count, err := st.session.RevokeAll(ctx, "acc-1", SessionEndLocked, nil)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if count != 1 {
		t.Fatalf("revoked = %d, want 1", count)
	}

	active, err := st.sessions.ListByAccount(ctx, "acc-1", true)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active sessions = %d, want 0", len(active))
	}
}

func TestSweepExpiresIdleAndPurgesOld(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	idle, err := st.session.Start(ctx, "acc-1", nil, nil)
	if err != nil {
		t.Fatalf("start idle session: %v", err)
	}

	// An old revoked session past retention.
	if _, err := st.session.Start(ctx, "acc-2", nil, nil); err != nil {
		t.Fatalf("start old session: %v", err)
	}
	oldAt := testNow.Add(-1000 * time.Hour)
	if _, err := st.sessions.DeactivateAllForAccount(ctx, "acc-2", SessionEndRevoked, oldAt); err != nil {
		t.Fatalf("deactivate old session: %v", err)
	}

	st.session.WithClock(func() time.Time { return testNow.Add(45 * time.Minute) })

	expired, purged, err := st.session.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}

	stored, err := st.sessions.GetByID(ctx, idle.ID)
	if err != nil {
		t.Fatalf("reload idle session: %v", err)
	}
	if stored.Active {
		t.Fatal("idle session must be deactivated by the sweep")
	}
}
