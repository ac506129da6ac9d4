package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/repository"
)

func TestDispatchPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.fullReturn(t, f.demo.OrderID)
	_, err := f.returns.Approve(ctx, f.admin, r.ID, "ok")
	require.NoError(t, err)

	pending := f.db.PendingOutbox()
	require.Len(t, pending, 2)

	res, err := f.audit.DispatchPending(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, &DispatchResult{Claimed: 2, Published: 2}, res)
	assert.Empty(t, f.db.PendingOutbox())

	entries, err := f.audit.List(ctx, f.admin, domain.AuditFilter{TargetResource: domain.AuditResourceReturn, TargetID: r.ID.String()})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditActionReturnApprove, entries[0].Action)
	assert.Equal(t, domain.AuditActionReturnCreate, entries[1].Action)
	require.NotNil(t, entries[0].PerformedBy)
	assert.Equal(t, f.admin.UserID, *entries[0].PerformedBy)
	assert.Equal(t, "requested", entries[0].Details["from"])
	assert.Equal(t, "approved", entries[0].Details["to"])

	res, err = f.audit.DispatchPending(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
}

func TestDispatchPending_RetriesFailedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fullReturn(t, f.demo.OrderID)

	f.db.FailAuditWith(errors.New("audit log locked"))
	res, err := f.audit.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	pending := f.db.PendingOutbox()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	require.NotNil(t, pending[0].LastError)
	assert.Contains(t, *pending[0].LastError, "audit log locked")

	f.db.FailAuditWith(nil)
	res, err = f.audit.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
	assert.Empty(t, f.db.PendingOutbox())
}

func TestDispatchPending_BatchSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.db.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
		for i := 0; i < 5; i++ {
			recordAudit(ctx, tx, domain.AuditLogEntry{Action: domain.AuditActionWalletCredit, TargetResource: domain.AuditResourceWallet, TargetID: "w"})
		}
		return nil
	})
	require.NoError(t, err)

	res, err := f.audit.DispatchPending(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Published)
	assert.Len(t, f.db.PendingOutbox(), 2)
}

func TestAuditList_RequiresPermission(t *testing.T) {
	f := newFixture(t)
	_, err := f.audit.List(context.Background(), f.customer, domain.AuditFilter{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
