package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koshcoop/society-security/internal/core/domain"
)

func TestRecordAppendsEntry(t *testing.T) {
	repo := &memAuditRepo{}
	svc := NewAuditService(repo, nil)
	svc.WithClock(func() time.Time { return testNow })

	actor := "adm-1"
	svc.Record(context.Background(), &actor, "acc-1", domain.AuditUnlockInitiated, domain.AuditOutcomeSuccess, map[string]any{
		"reason": "member verified identity at the branch office",
	})

	if len(repo.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.SubjectID != "acc-1" {
		t.Fatalf("subject = %q, want acc-1", entry.SubjectID)
	}
	if entry.ActorID == nil || *entry.ActorID != "adm-1" {
		t.Fatal("expected actor adm-1")
	}
	if entry.ID == "" {
		t.Fatal("expected a generated entry id")
	}
	if !entry.At.Equal(testNow) {
		t.Fatalf("at = %v, want %v", entry.At, testNow)
	}
}

func TestRecordNeverFailsCaller(t *testing.T) {
	repo := &memAuditRepo{err: errors.New("db down")}
	svc := NewAuditService(repo, nil)

	// Must not panic or propagate anything.
	svc.Record(context.Background(), nil, "acc-1", domain.AuditLoginFailed, domain.AuditOutcomeFailure, nil)
}

func TestQueryAppliesDefaultLimit(t *testing.T) {
	repo := &memAuditRepo{}
	svc := NewAuditService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		svc.Record(ctx, nil, "acc-1", domain.AuditLoginFailed, domain.AuditOutcomeFailure, nil)
	}

	page, err := svc.Query(ctx, domain.AuditFilter{SubjectID: "acc-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Entries) != 50 {
		t.Fatalf("entries = %d, want the default limit of 50", len(page.Entries))
	}
	if page.Total != 60 {
		t.Fatalf("total = %d, want 60", page.Total)
	}
}

func TestQueryFiltersByActionAndOutcome(t *testing.T) {
	repo := &memAuditRepo{}
	svc := NewAuditService(repo, nil)
	ctx := context.Background()

	svc.Record(ctx, nil, "acc-1", domain.AuditLoginFailed, domain.AuditOutcomeFailure, nil)
	svc.Record(ctx, nil, "acc-1", domain.AuditLoginSucceeded, domain.AuditOutcomeSuccess, nil)
	svc.Record(ctx, nil, "acc-2", domain.AuditLoginFailed, domain.AuditOutcomeFailure, nil)

	page, err := svc.Query(ctx, domain.AuditFilter{
		SubjectID: "acc-1",
		Action:    domain.AuditLoginFailed,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("total = %d, want 1", page.Total)
	}
	if page.Entries[0].Outcome != domain.AuditOutcomeFailure {
		t.Fatalf("outcome = %q, want failure", page.Entries[0].Outcome)
	}
}
