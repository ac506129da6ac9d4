package jobs

import (
	"context"

	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/logger"
	"returns-credit-backend/internal/repository"
	"returns-credit-backend/internal/service"
)

// maxDispatchBatches bounds one run so a stuck outbox cannot hold the job.
const maxDispatchBatches = 50

// DispatchAuditOutbox copies pending audit intents into the audit log
func (jr *JobRunner) DispatchAuditOutbox() {
	jr.runWithRecovery("DispatchAuditOutbox", func() {
		total, err := jr.dispatchAuditOutbox(context.Background())
		if err != nil {
			logger.Error("Failed to dispatch audit outbox", "error", err)
			return
		}
		logger.Info("Audit outbox dispatched", "claimed", total.Claimed, "published", total.Published, "failed", total.Failed)
	})
}

func (jr *JobRunner) dispatchAuditOutbox(ctx context.Context) (*service.DispatchResult, error) {
	batch := jr.config.Scheduler.OutboxBatchSize
	total := &service.DispatchResult{}

	for i := 0; i < maxDispatchBatches; i++ {
		res, err := jr.services.Audit.DispatchPending(ctx, batch)
		if err != nil {
			return total, err
		}
		total.Claimed += res.Claimed
		total.Published += res.Published
		total.Failed += res.Failed

		// failed rows keep their place at the head of the queue, so any
		// failure ends the run instead of reclaiming them
		if res.Claimed < batch || res.Published == 0 || res.Failed > 0 {
			break
		}
	}
	return total, nil
}

// ReportStalledPickups logs returns the carrier has not moved for too long
func (jr *JobRunner) ReportStalledPickups() {
	jr.runWithRecovery("ReportStalledPickups", func() {
		stalled, err := jr.stalledPickups(context.Background())
		if err != nil {
			logger.Error("Failed to query stalled pickups", "error", err)
			return
		}

		for _, r := range stalled {
			awb := ""
			if r.PickupAWB != nil {
				awb = *r.PickupAWB
			}
			logger.Warn("Return pickup stalled",
				"returnID", r.ID,
				"status", r.Status,
				"awb", awb,
				"retries", r.PickupRetryCount,
				"lastUpdate", r.UpdatedAt,
			)
		}
		logger.Info("Stalled pickup report finished", "count", len(stalled))
	})
}

func (jr *JobRunner) stalledPickups(ctx context.Context) ([]domain.ReturnRequest, error) {
	cutoff := jr.now().UTC().AddDate(0, 0, -jr.config.Scheduler.StalledAfterDays)
	statuses := []domain.ReturnStatus{domain.ReturnStatusPickupScheduled, domain.ReturnStatusInTransit}

	var stalled []domain.ReturnRequest
	err := jr.store.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		stalled, err = tx.Returns().ListStalled(ctx, statuses, cutoff)
		return err
	})
	return stalled, err
}
