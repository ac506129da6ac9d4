package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/logger"
	"returns-credit-backend/internal/repository"
	"returns-credit-backend/internal/security"
	"returns-credit-backend/internal/shipping"
)

const defaultReturnListLimit = 200

type returnService struct {
	store    repository.Provider
	carrier  PickupScheduler
	notifier Notifier
	now      func() time.Time
}

func NewReturnService(store repository.Provider, carrier PickupScheduler, notifier Notifier) ReturnService {
	return &returnService{
		store:    store,
		carrier:  carrier,
		notifier: notifier,
		now:      time.Now,
	}
}

func optionalNotes(notes string) *string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil
	}
	return &notes
}

func (s *returnService) Create(ctx context.Context, session *security.Session, in CreateReturnInput) (*domain.ReturnRequest, error) {
	logger.EnterMethod(ctx, "returnService.Create", "orderID", in.OrderID, "items", len(in.Items))

	if err := security.Authorize(session, security.PermReturnsCreate); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, domain.ErrMissingReason
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", domain.ErrInvalidQuantity)
	}

	requested := make(map[uuid.UUID]int, len(in.Items))
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidQuantity)
		}
		requested[it.OrderItemID] += it.Quantity
	}

	now := s.now().UTC()
	var created *domain.ReturnRequest
	err := s.store.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
		order, err := tx.Orders().GetByIDForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if !session.Role.IsStaff() {
			if err := s.requireOwnOrder(ctx, tx, session, order); err != nil {
				return err
			}
		}
		if order.Status != domain.OrderStatusDelivered {
			return domain.ErrOrderNotReturnable
		}

		already, err := tx.Returns().ReturnedQuantities(ctx, order.ID)
		if err != nil {
			return err
		}

		req := &domain.ReturnRequest{
			ID:         uuid.New(),
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Status:     domain.ReturnStatusRequested,
			Reason:     reason,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		for _, it := range in.Items {
			qty, ok := requested[it.OrderItemID]
			if !ok {
				continue // merged into an earlier line
			}
			delete(requested, it.OrderItemID)

			line, found := order.Item(it.OrderItemID)
			if !found {
				return fmt.Errorf("%w: item %s is not part of order %s", domain.ErrInvalidQuantity, it.OrderItemID, order.ID)
			}
			if remaining := line.Quantity - already[line.ID]; qty > remaining {
				return fmt.Errorf("%w: only %d of %s can be returned", domain.ErrInvalidQuantity, remaining, line.ProductName)
			}
			req.Items = append(req.Items, domain.ReturnItem{
				ID:              uuid.New(),
				ReturnRequestID: req.ID,
				OrderItemID:     line.ID,
				Quantity:        qty,
				UnitPrice:       line.Price,
				ProductName:     line.ProductName,
				SKU:             line.SKU,
			})
		}

		if err := tx.Returns().Create(ctx, req); err != nil {
			return err
		}
		recordAudit(ctx, tx, domain.AuditLogEntry{
			Action:         domain.AuditActionReturnCreate,
			TargetResource: domain.AuditResourceReturn,
			TargetID:       req.ID.String(),
			PerformedBy:    actorOf(session),
			Details: map[string]any{
				"order_id": order.ID.String(),
				"reason":   reason,
				"items":    len(req.Items),
			},
			CreatedAt: now,
		})
		created = req
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError(ctx, "returnService.Create", err)
		return nil, err
	}

	logger.ExitMethod(ctx, "returnService.Create", "returnID", created.ID)
	return created, nil
}

// requireOwnOrder rejects a customer opening a return on someone else's order.
func (s *returnService) requireOwnOrder(ctx context.Context, tx repository.Tx, session *security.Session, order *domain.Order) error {
	if order.CustomerID == nil {
		return domain.ErrUnauthorized
	}
	customer, err := tx.Orders().GetCustomer(ctx, *order.CustomerID)
	if err != nil {
		return err
	}
	if customer.AuthUserID == nil || *customer.AuthUserID != session.UserID {
		return domain.ErrUnauthorized
	}
	return nil
}

func (s *returnService) List(ctx context.Context, session *security.Session, filter domain.ReturnFilter) ([]domain.ReturnRequest, error) {
	if err := security.Authorize(session, security.PermReturnsView); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidState, filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultReturnListLimit
	}

	var out []domain.ReturnRequest
	err := s.store.AsUser(session).WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.Returns().List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list returns: %w", err)
	}
	return out, nil
}

func (s *returnService) Approve(ctx context.Context, session *security.Session, returnID uuid.UUID, adminNotes string) (*domain.ReturnRequest, error) {
	if err := security.Authorize(session, security.PermReturnsManage); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var updated *domain.ReturnRequest
	err := s.store.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
		r, err := tx.Returns().GetByIDForUpdate(ctx, returnID)
		if err != nil {
			return err
		}
		from := r.Status
		next, err := domain.NextStatus(from, domain.EventApprove)
		if err != nil {
			return err
		}

		r.Status = next
		if r.ApprovedAt == nil {
			r.ApprovedAt = &now
		}
		if notes := optionalNotes(adminNotes); notes != nil {
			r.AdminNotes = notes
		}
		r.UpdatedAt = now
		if err := tx.Returns().Update(ctx, r); err != nil {
			return err
		}

		recordAudit(ctx, tx, transitionEntry(domain.AuditActionReturnApprove, r, from, actorOf(session), now, nil))
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Return approved", "returnID", returnID, "by", session.UserID)
	return updated, nil
}

func (s *returnService) Reject(ctx context.Context, session *security.Session, returnID uuid.UUID, adminNotes string) (*domain.ReturnRequest, error) {
	if err := security.Authorize(session, security.PermReturnsManage); err != nil {
		return nil, err
	}
	notes := optionalNotes(adminNotes)
	if notes == nil {
		return nil, domain.ErrMissingReason
	}

	now := s.now().UTC()
	var updated *domain.ReturnRequest
	var customer *domain.Customer
	err := s.store.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
		r, err := tx.Returns().GetByIDForUpdate(ctx, returnID)
		if err != nil {
			return err
		}
		from := r.Status
		next, err := domain.NextStatus(from, domain.EventReject)
		if err != nil {
			return err
		}

		r.Status = next
		r.AdminNotes = notes
		r.UpdatedAt = now
		if err := tx.Returns().Update(ctx, r); err != nil {
			return err
		}

		recordAudit(ctx, tx, transitionEntry(domain.AuditActionReturnReject, r, from, actorOf(session), now, nil))
		customer = s.lookupCustomer(ctx, tx, r)
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if customer != nil {
		if err := s.notifier.ReturnRejected(ctx, customer, updated); err != nil {
			logger.WarnContext(ctx, "Failed to notify customer of rejection", "returnID", returnID, "error", err)
		}
	}
	return updated, nil
}

func (s *returnService) TriggerPickup(ctx context.Context, session *security.Session, returnID uuid.UUID) (*domain.ReturnRequest, error) {
	if err := security.Authorize(session, security.PermReturnsManage); err != nil {
		return nil, err
	}

	var updated *domain.ReturnRequest
	var customer *domain.Customer
	var booked *shipping.Pickup
	err := s.store.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
		r, err := tx.Returns().GetByIDForUpdate(ctx, returnID)
		if err != nil {
			return err
		}
		from := r.Status
		next, err := domain.NextStatus(from, domain.EventSchedulePickup)
		if err != nil {
			return err
		}

		order, err := tx.Orders().GetByID(ctx, r.OrderID)
		if err != nil {
			return err
		}
		items, err := tx.Returns().ListItems(ctx, r.ID)
		if err != nil {
			return err
		}
		customer = s.lookupCustomer(ctx, tx, r)

		// The row stays locked while the carrier books, so a second trigger
		// waits and then fails the transition check.
		pickup, err := s.carrier.SchedulePickup(ctx, shipping.PickupRequest{
			Return:   r,
			Order:    order,
			Customer: customer,
			Items:    items,
		})
		if err != nil {
			return fmt.Errorf("schedule pickup: %w", err)
		}
		booked = pickup

		now := s.now().UTC()
		r.Status = next
		r.PickupAWB = &pickup.AWB
		r.PickupShipmentID = &pickup.ShipmentID
		r.UpdatedAt = now
		if err := tx.Returns().Update(ctx, r); err != nil {
			return err
		}

		recordAudit(ctx, tx, transitionEntry(domain.AuditActionReturnPickup, r, from, actorOf(session), now, map[string]any{
			"awb":            pickup.AWB,
			"shipment_id":    pickup.ShipmentID,
			"courier":        pickup.CourierName,
			"scheduled_date": pickup.ScheduledDate,
		}))
		updated = r
		return nil
	})
	if err != nil {
		if booked != nil {
			// the carrier holds a pickup that no return points to
			logger.ErrorContext(ctx, "Pickup booked but not recorded, cancel it with the carrier",
				"returnID", returnID, "awb", booked.AWB, "shipmentID", booked.ShipmentID, "error", err)
		}
		return nil, err
	}

	if customer != nil {
		if err := s.notifier.PickupScheduled(ctx, customer, updated); err != nil {
			logger.WarnContext(ctx, "Failed to notify customer of pickup", "returnID", returnID, "error", err)
		}
	}
	return updated, nil
}

// ConfirmReceived marks the parcel received and issues store credit for it in
// one transaction.
func (s *returnService) ConfirmReceived(ctx context.Context, session *security.Session, returnID uuid.UUID, adminNotes string) (*ConfirmReceivedResult, error) {
	logger.EnterMethod(ctx, "returnService.ConfirmReceived", "returnID", returnID)

	if err := security.Authorize(session, security.PermReturnsManage); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	result := &ConfirmReceivedResult{}
	var customer *domain.Customer
	err := s.store.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
		r, err := tx.Returns().GetByIDForUpdate(ctx, returnID)
		if err != nil {
			return err
		}
		if r.Status != domain.ReturnStatusInTransit && r.Status != domain.ReturnStatusReceived {
			return &domain.TransitionError{From: r.Status, Event: domain.EventMarkReceived}
		}

		if r.CustomerID == nil {
			return domain.ErrGuestReturnUnsupported
		}
		customer, err = tx.Orders().GetCustomer(ctx, *r.CustomerID)
		if err != nil {
			return err
		}
		if customer.AuthUserID == nil {
			return domain.ErrGuestReturnUnsupported
		}

		items, err := tx.Returns().ListItems(ctx, r.ID)
		if err != nil {
			return err
		}
		amount := domain.CreditAmount(items)
		if !amount.IsPositive() {
			return domain.ErrInvalidCreditAmount
		}

		credited, err := tx.Wallets().HasReturnCredit(ctx, r.ID)
		if err != nil {
			return err
		}
		if credited {
			return fmt.Errorf("return %s already credited: %w", r.ID, domain.ErrInvalidState)
		}

		if notes := optionalNotes(adminNotes); notes != nil {
			r.AdminNotes = notes
		}

		if r.Status == domain.ReturnStatusInTransit {
			from := r.Status
			if r.Status, err = domain.NextStatus(from, domain.EventMarkReceived); err != nil {
				return err
			}
			if r.ReceivedAt == nil {
				r.ReceivedAt = &now
			}
			r.UpdatedAt = now
			if err := tx.Returns().Update(ctx, r); err != nil {
				return err
			}
			recordAudit(ctx, tx, transitionEntry(domain.AuditActionReturnReceived, r, from, actorOf(session), now, nil))
		}

		reference := "return:" + r.ID.String()
		newBalance, err := applyCredit(ctx, tx, now, actorOf(session), CreditRequest{
			UserID:          *customer.AuthUserID,
			Amount:          amount,
			Reference:       &reference,
			Notes:           optionalNotes(adminNotes),
			ReturnRequestID: &r.ID,
		})
		if err != nil {
			return err
		}

		from := r.Status
		if r.Status, err = domain.NextStatus(from, domain.EventIssueCredit); err != nil {
			return err
		}
		r.UpdatedAt = now
		if err := tx.Returns().Update(ctx, r); err != nil {
			return err
		}
		recordAudit(ctx, tx, transitionEntry(domain.AuditActionReturnCredited, r, from, actorOf(session), now, map[string]any{
			"credit_amount": amount.StringFixed(2),
			"new_balance":   newBalance.StringFixed(2),
			"wallet_user":   customer.AuthUserID.String(),
		}))

		r.Items = items
		result.Return = r
		result.CreditAmount = amount
		result.NewBalance = newBalance
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError(ctx, "returnService.ConfirmReceived", err)
		return nil, err
	}

	if err := s.notifier.ReturnCredited(ctx, customer, result.Return, result.CreditAmount, result.NewBalance); err != nil {
		logger.WarnContext(ctx, "Failed to notify customer of credit", "returnID", returnID, "error", err)
	}

	logger.ExitMethod(ctx, "returnService.ConfirmReceived", "creditAmount", result.CreditAmount, "newBalance", result.NewBalance)
	return result, nil
}

// lookupCustomer returns the customer behind a return, or nil for guests and
// lookups that fail. Only used for notifications.
func (s *returnService) lookupCustomer(ctx context.Context, tx repository.Tx, r *domain.ReturnRequest) *domain.Customer {
	if r.CustomerID == nil {
		return nil
	}
	c, err := tx.Orders().GetCustomer(ctx, *r.CustomerID)
	if err != nil {
		logger.WarnContext(ctx, "Customer lookup failed", "returnID", r.ID, "customerID", *r.CustomerID, "error", err)
		return nil
	}
	return c
}

func transitionEntry(action string, r *domain.ReturnRequest, from domain.ReturnStatus, by *uuid.UUID, at time.Time, extra map[string]any) domain.AuditLogEntry {
	details := map[string]any{
		"from": string(from),
		"to":   string(r.Status),
	}
	if r.AdminNotes != nil {
		details["admin_notes"] = *r.AdminNotes
	}
	for k, v := range extra {
		details[k] = v
	}
	return domain.AuditLogEntry{
		Action:         action,
		TargetResource: domain.AuditResourceReturn,
		TargetID:       r.ID.String(),
		PerformedBy:    by,
		Details:        details,
		CreatedAt:      at,
	}
}
