package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/repository"
)

type auditRepository struct {
	db DBTX
}

func NewAuditRepository(db DBTX) repository.AuditRepository {
	return &auditRepository{db: db}
}

func encodeDetails(details map[string]any) ([]byte, error) {
	if details == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(details)
}

func decodeDetails(raw []byte) (map[string]any, error) {
	details := map[string]any{}
	if len(raw) == 0 {
		return details, nil
	}
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, err
	}
	return details, nil
}

func (r *auditRepository) Enqueue(ctx context.Context, entry *domain.AuditLogEntry) error {
	details, err := encodeDetails(entry.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	return withSavepoint(ctx, r.db, "audit_outbox", func() error {
		query := `INSERT INTO audit_outbox (action, target_resource, target_id, performed_by, details, created_at)
		          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
		err := r.db.QueryRowContext(ctx, query,
			entry.Action, entry.TargetResource, entry.TargetID, entry.PerformedBy, details, entry.CreatedAt).Scan(&entry.ID)
		if err != nil {
			return fmt.Errorf("insert audit outbox: %w", err)
		}
		return nil
	})
}

func (r *auditRepository) ClaimPending(ctx context.Context, limit int) ([]domain.AuditOutboxEntry, error) {
	query := `SELECT id, action, target_resource, target_id, performed_by, details, attempts, last_error, created_at
	          FROM audit_outbox
	          WHERE dispatched_at IS NULL
	          ORDER BY id
	          LIMIT $1
	          FOR UPDATE SKIP LOCKED`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim audit outbox: %w", err)
	}
	defer rows.Close()

	out := []domain.AuditOutboxEntry{}
	for rows.Next() {
		var item domain.AuditOutboxEntry
		var raw []byte
		if err := rows.Scan(&item.ID, &item.Entry.Action, &item.Entry.TargetResource, &item.Entry.TargetID,
			&item.Entry.PerformedBy, &raw, &item.Attempts, &item.LastError, &item.CreatedAt); err != nil {
			return nil, err
		}
		if item.Entry.Details, err = decodeDetails(raw); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		item.Entry.CreatedAt = item.CreatedAt
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *auditRepository) Publish(ctx context.Context, item *domain.AuditOutboxEntry) error {
	details, err := encodeDetails(item.Entry.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	return withSavepoint(ctx, r.db, "audit_publish", func() error {
		query := `INSERT INTO audit_logs (action, target_resource, target_id, performed_by, details, created_at)
		          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
		err := r.db.QueryRowContext(ctx, query,
			item.Entry.Action, item.Entry.TargetResource, item.Entry.TargetID, item.Entry.PerformedBy, details, item.Entry.CreatedAt).
			Scan(&item.Entry.ID)
		if err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}

		if _, err := r.db.ExecContext(ctx,
			`UPDATE audit_outbox SET dispatched_at = NOW(), attempts = attempts + 1 WHERE id = $1`, item.ID); err != nil {
			return fmt.Errorf("mark audit outbox dispatched: %w", err)
		}
		return nil
	})
}

func (r *auditRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE audit_outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("mark audit outbox failed: %w", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	query := `SELECT id, action, target_resource, target_id, performed_by, details, created_at FROM audit_logs WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filter.TargetResource != "" {
		query += fmt.Sprintf(" AND target_resource = $%d", argIndex)
		args = append(args, filter.TargetResource)
		argIndex++
	}
	if filter.TargetID != "" {
		query += fmt.Sprintf(" AND target_id = $%d", argIndex)
		args = append(args, filter.TargetID)
		argIndex++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	out := []domain.AuditLogEntry{}
	for rows.Next() {
		var e domain.AuditLogEntry
		var raw []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.TargetResource, &e.TargetID, &e.PerformedBy, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Details, err = decodeDetails(raw); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
