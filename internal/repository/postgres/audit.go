package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/koshcoop/society-security/internal/core/domain"
	"github.com/koshcoop/society-security/internal/core/port"
)

const auditTable = "soc.audit_events"

// AuditRepository implements port.AuditRepository using PostgreSQL. The table
// is append-only; nothing here updates or deletes rows.
type AuditRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAuditRepository wires a PostgreSQL-backed audit repository.
func NewAuditRepository(exec pgExecutor) *AuditRepository {
	return &AuditRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Append inserts an audit record.
func (r *AuditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	var metadata any
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadata = encoded
	}

	stmt, args, err := r.builder.
		Insert(auditTable).
		Columns("id", "actor_id", "subject_id", "action", "outcome", "occurred_at", "metadata").
		Values(entry.ID, entry.ActorID, entry.SubjectID, string(entry.Action), string(entry.Outcome), entry.At, metadata).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return nil
}

func (r *AuditRepository) applyFilter(query squirrel.SelectBuilder, filter domain.AuditFilter) squirrel.SelectBuilder {
	if filter.SubjectID != "" {
		query = query.Where(squirrel.Eq{"subject_id": filter.SubjectID})
	}
	if filter.ActorID != "" {
		query = query.Where(squirrel.Eq{"actor_id": filter.ActorID})
	}
	if filter.Action != "" {
		query = query.Where(squirrel.Eq{"action": string(filter.Action)})
	}
	if filter.Outcome != "" {
		query = query.Where(squirrel.Eq{"outcome": string(filter.Outcome)})
	}
	if filter.From != nil {
		query = query.Where(squirrel.GtOrEq{"occurred_at": *filter.From})
	}
	if filter.To != nil {
		query = query.Where(squirrel.Lt{"occurred_at": *filter.To})
	}
	return query
}

// Query returns matching entries, newest first.
func (r *AuditRepository) Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	query := r.applyFilter(
		r.builder.
			Select("id", "actor_id", "subject_id", "action", "outcome", "occurred_at", "metadata").
			From(auditTable),
		filter,
	).OrderBy("occurred_at DESC")

	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			entry    domain.AuditEntry
			metadata []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.SubjectID, &entry.Action, &entry.Outcome, &entry.At, &metadata); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, nil
}

// Count returns how many entries match the filter.
func (r *AuditRepository) Count(ctx context.Context, filter domain.AuditFilter) (int, error) {
	stmt, args, err := r.applyFilter(
		r.builder.Select("COUNT(*)").From(auditTable),
		filter,
	).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build audit count sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}

	return count, nil
}

var _ port.AuditRepository = (*AuditRepository)(nil)
