package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"returns-credit-backend/internal/config"
	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/repository"
	"returns-credit-backend/internal/repository/memory"
	"returns-credit-backend/internal/service"
)

func newRunner(db *memory.DB, batch int) *JobRunner {
	cfg := &config.Config{Scheduler: config.SchedulerConfig{
		DispatchAuditOutbox:  "0 * * * * *",
		ReportStalledPickups: "0 0 6 * * *",
		OutboxBatchSize:      batch,
		StalledAfterDays:     7,
	}}
	return NewJobRunner(db, &Services{Audit: service.NewAuditService(db)}, cfg)
}

func enqueue(t *testing.T, db *memory.DB, n int) {
	t.Helper()
	ctx := context.Background()
	err := db.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
		for i := 0; i < n; i++ {
			err := tx.Audit().Enqueue(ctx, &domain.AuditLogEntry{
				Action:         domain.AuditActionWalletCredit,
				TargetResource: domain.AuditResourceWallet,
				TargetID:       uuid.NewString(),
				CreatedAt:      time.Now(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestDispatchAuditOutbox_DrainsInBatches(t *testing.T) {
	db := memory.New()
	enqueue(t, db, 5)
	jr := newRunner(db, 2)

	total, err := jr.dispatchAuditOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, total.Claimed)
	assert.Equal(t, 5, total.Published)
	assert.Empty(t, db.PendingOutbox())

	// the wrapper logs and never panics
	jr.DispatchAuditOutbox()
}

func TestDispatchAuditOutbox_StopsWhenNothingPublishes(t *testing.T) {
	db := memory.New()
	enqueue(t, db, 5)
	jr := newRunner(db, 2)

	db.FailAuditWith(errors.New("audit_logs unavailable"))
	total, err := jr.dispatchAuditOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, total.Claimed)
	assert.Equal(t, 2, total.Failed)
	assert.Len(t, db.PendingOutbox(), 5)
}

// partialDispatcher publishes half of every full batch and fails the rest.
type partialDispatcher struct {
	service.AuditService
	calls int
}

func (d *partialDispatcher) DispatchPending(ctx context.Context, batchSize int) (*service.DispatchResult, error) {
	d.calls++
	return &service.DispatchResult{Claimed: batchSize, Published: batchSize / 2, Failed: batchSize - batchSize/2}, nil
}

func TestDispatchAuditOutbox_StopsAfterPartialFailure(t *testing.T) {
	db := memory.New()
	jr := newRunner(db, 4)
	dispatcher := &partialDispatcher{}
	jr.services.Audit = dispatcher

	total, err := jr.dispatchAuditOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatcher.calls)
	assert.Equal(t, 4, total.Claimed)
	assert.Equal(t, 2, total.Published)
	assert.Equal(t, 2, total.Failed)
}

func TestStalledPickups(t *testing.T) {
	db := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)

	mk := func(status domain.ReturnStatus, updated time.Time) uuid.UUID {
		r := &domain.ReturnRequest{
			ID:        uuid.New(),
			OrderID:   uuid.New(),
			Status:    status,
			Reason:    "Wrong colour",
			CreatedAt: updated,
			UpdatedAt: updated,
		}
		err := db.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
			return tx.Returns().Create(ctx, r)
		})
		require.NoError(t, err)
		return r.ID
	}

	oldScheduled := mk(domain.ReturnStatusPickupScheduled, now.AddDate(0, 0, -10))
	oldTransit := mk(domain.ReturnStatusInTransit, now.AddDate(0, 0, -8))
	mk(domain.ReturnStatusPickupScheduled, now.AddDate(0, 0, -2))
	mk(domain.ReturnStatusApproved, now.AddDate(0, 0, -30))
	mk(domain.ReturnStatusCredited, now.AddDate(0, 0, -30))

	jr := newRunner(db, 100)
	jr.now = func() time.Time { return now }

	stalled, err := jr.stalledPickups(ctx)
	require.NoError(t, err)
	require.Len(t, stalled, 2)
	assert.Equal(t, oldScheduled, stalled[0].ID)
	assert.Equal(t, oldTransit, stalled[1].ID)

	jr.ReportStalledPickups()
}
