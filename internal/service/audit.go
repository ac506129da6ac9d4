package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/logger"
	"returns-credit-backend/internal/repository"
	"returns-credit-backend/internal/security"
)

const (
	defaultAuditListLimit = 100
	maxAuditListLimit     = 500
)

// recordAudit writes an audit intent into the outbox of the surrounding
// transaction. Failure is logged and never reaches the caller.
func recordAudit(ctx context.Context, tx repository.Tx, entry domain.AuditLogEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := tx.Audit().Enqueue(ctx, &entry); err != nil {
		logger.ErrorContext(ctx, "Failed to record audit entry",
			"action", entry.Action, "target", entry.TargetResource, "targetID", entry.TargetID, "error", err)
	}
}

func actorOf(session *security.Session) *uuid.UUID {
	if session == nil || session.UserID == uuid.Nil {
		return nil
	}
	id := session.UserID
	return &id
}

type auditService struct {
	store repository.Provider
}

func NewAuditService(store repository.Provider) AuditService {
	return &auditService{store: store}
}

func (s *auditService) List(ctx context.Context, session *security.Session, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	if err := security.Authorize(session, security.PermAuditView); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditListLimit
	}
	if filter.Limit > maxAuditListLimit {
		filter.Limit = maxAuditListLimit
	}

	var out []domain.AuditLogEntry
	err := s.store.AsUser(session).WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.Audit().List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return out, nil
}

// DispatchPending copies a batch of outbox rows into the audit log. A row
// that fails stays pending with its attempt count bumped.
func (s *auditService) DispatchPending(ctx context.Context, batchSize int) (*DispatchResult, error) {
	result := &DispatchResult{}
	err := s.store.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
		pending, err := tx.Audit().ClaimPending(ctx, batchSize)
		if err != nil {
			return err
		}
		result.Claimed = len(pending)

		for i := range pending {
			item := &pending[i]
			if err := tx.Audit().Publish(ctx, item); err != nil {
				result.Failed++
				logger.Warn("Audit outbox dispatch failed", "outboxID", item.ID, "attempts", item.Attempts+1, "error", err)
				if markErr := tx.Audit().MarkFailed(ctx, item.ID, err.Error()); markErr != nil {
					return markErr
				}
				continue
			}
			result.Published++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch audit outbox: %w", err)
	}
	return result, nil
}
