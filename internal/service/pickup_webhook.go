package service

import (
	"context"
	"fmt"
	"time"

	"returns-credit-backend/internal/cache"
	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/logger"
	"returns-credit-backend/internal/repository"
	"returns-credit-backend/internal/security"
	"returns-credit-backend/internal/shipping"
)

type pickupWebhookService struct {
	store      repository.Provider
	dedup      cache.Deduper
	secret     string
	maxRetries int
	now        func() time.Time
}

func NewPickupWebhookService(store repository.Provider, dedup cache.Deduper, secret string, maxRetries int) PickupWebhookService {
	return &pickupWebhookService{
		store:      store,
		dedup:      dedup,
		secret:     secret,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

var signalEvents = map[shipping.Signal]domain.ReturnEvent{
	shipping.SignalScheduled: domain.EventSchedulePickup,
	shipping.SignalInTransit: domain.EventMarkInTransit,
	shipping.SignalDelivered: domain.EventMarkReceived,
}

func (s *pickupWebhookService) HandleShiprocket(ctx context.Context, body []byte, signature string) (*WebhookOutcome, error) {
	if err := security.VerifyWebhookSignature(s.secret, body, signature); err != nil {
		return nil, err
	}

	ev, err := shipping.ParseWebhook(body)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("awb", ev.AWB, "carrierStatus", ev.Status)

	key := ev.DedupKey()
	if key != "" {
		first, err := s.dedup.FirstSeen(ctx, key)
		if err != nil {
			// fail open: the transition table still rejects repeated steps
			log.Warn("Webhook dedup store unavailable", "error", err)
			first = true
		}
		if !first {
			log.Info("Duplicate pickup webhook ignored")
			return &WebhookOutcome{Duplicate: true}, nil
		}
	}

	outcome, err := s.apply(ctx, ev)
	if err != nil && key != "" {
		if forgetErr := s.dedup.Forget(ctx, key); forgetErr != nil {
			log.Warn("Failed to release webhook dedup key", "error", forgetErr)
		}
		return nil, err
	}
	return outcome, nil
}

func (s *pickupWebhookService) apply(ctx context.Context, ev *shipping.WebhookEvent) (*WebhookOutcome, error) {
	log := logger.FromContext(ctx).With("awb", ev.AWB, "carrierStatus", ev.Status)
	now := s.now().UTC()
	outcome := &WebhookOutcome{}

	err := s.store.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
		r, err := tx.Returns().GetByPickupAWBForUpdate(ctx, ev.AWB)
		if err != nil {
			return err
		}
		outcome.ReturnRequestID = r.ID
		outcome.Status = r.Status

		if r.Status.IsTerminal() {
			log.Info("Pickup webhook for terminal return ignored", "returnID", r.ID, "status", r.Status)
			return nil
		}

		from := r.Status
		details := map[string]any{
			"awb":               ev.AWB,
			"carrier_status":    ev.Status,
			"carrier_timestamp": ev.Timestamp,
		}

		if ev.Signal == shipping.SignalFailed {
			if !domain.CanApply(r.Status, domain.EventCancelPickup) {
				log.Warn("Pickup failure reported after pickup", "returnID", r.ID, "status", r.Status)
				return nil
			}
			r.PickupRetryCount++
			details["pickup_retry_count"] = r.PickupRetryCount
			action := domain.AuditActionReturnCarrier

			if r.PickupRetryCount >= s.maxRetries {
				if r.Status, err = domain.NextStatus(from, domain.EventCancelPickup); err != nil {
					return err
				}
				r.CancelledAt = &now
				reason := fmt.Sprintf("Auto-cancelled after %d failed pickup attempts (last carrier status: %s)", r.PickupRetryCount, ev.Status)
				r.AdminNotes = &reason
				action = domain.AuditActionReturnCancel
			}

			r.UpdatedAt = now
			if err := tx.Returns().Update(ctx, r); err != nil {
				return err
			}
			recordAudit(ctx, tx, transitionEntry(action, r, from, nil, now, details))
			outcome.Status = r.Status
			outcome.Applied = true
			log.Info("Pickup failure recorded", "returnID", r.ID, "retries", r.PickupRetryCount, "status", r.Status)
			return nil
		}

		event := signalEvents[ev.Signal]
		next, err := domain.NextStatus(r.Status, event)
		if err != nil {
			log.Info("Pickup webhook does not move return", "returnID", r.ID, "status", r.Status, "event", event)
			return nil
		}

		r.Status = next
		if next == domain.ReturnStatusReceived && r.ReceivedAt == nil {
			r.ReceivedAt = &now
		}
		r.UpdatedAt = now
		if err := tx.Returns().Update(ctx, r); err != nil {
			return err
		}
		recordAudit(ctx, tx, transitionEntry(domain.AuditActionReturnCarrier, r, from, nil, now, details))
		outcome.Status = r.Status
		outcome.Applied = true
		log.Info("Pickup webhook applied", "returnID", r.ID, "from", from, "to", r.Status)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}
