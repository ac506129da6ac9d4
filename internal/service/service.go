package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/security"
	"returns-credit-backend/internal/shipping"
)

type WalletService interface {
	GetBalance(ctx context.Context, session *security.Session, userID uuid.UUID) (*domain.BalanceSummary, error)
	AddCredits(ctx context.Context, session *security.Session, req CreditRequest) (*domain.LedgerResult, error)
	DeductCredits(ctx context.Context, session *security.Session, req DebitRequest) (*domain.LedgerResult, error)
	GetTransactions(ctx context.Context, session *security.Session, userID uuid.UUID, limit int) ([]domain.CreditTransaction, error)
}

type ReturnService interface {
	Create(ctx context.Context, session *security.Session, in CreateReturnInput) (*domain.ReturnRequest, error)
	List(ctx context.Context, session *security.Session, filter domain.ReturnFilter) ([]domain.ReturnRequest, error)
	Approve(ctx context.Context, session *security.Session, returnID uuid.UUID, adminNotes string) (*domain.ReturnRequest, error)
	Reject(ctx context.Context, session *security.Session, returnID uuid.UUID, adminNotes string) (*domain.ReturnRequest, error)
	TriggerPickup(ctx context.Context, session *security.Session, returnID uuid.UUID) (*domain.ReturnRequest, error)
	ConfirmReceived(ctx context.Context, session *security.Session, returnID uuid.UUID, adminNotes string) (*ConfirmReceivedResult, error)
}

type PickupWebhookService interface {
	HandleShiprocket(ctx context.Context, body []byte, signature string) (*WebhookOutcome, error)
}

type AuditService interface {
	List(ctx context.Context, session *security.Session, filter domain.AuditFilter) ([]domain.AuditLogEntry, error)
	DispatchPending(ctx context.Context, batchSize int) (*DispatchResult, error)
}

// Notifier tells customers about their returns. Calls happen after commit and
// failures are only logged.
type Notifier interface {
	ReturnRejected(ctx context.Context, customer *domain.Customer, req *domain.ReturnRequest) error
	PickupScheduled(ctx context.Context, customer *domain.Customer, req *domain.ReturnRequest) error
	ReturnCredited(ctx context.Context, customer *domain.Customer, req *domain.ReturnRequest, amount, newBalance decimal.Decimal) error
}

// PickupScheduler books reverse pickups with the carrier.
type PickupScheduler interface {
	SchedulePickup(ctx context.Context, req shipping.PickupRequest) (*shipping.Pickup, error)
}

type CreditRequest struct {
	UserID          uuid.UUID       `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	Reference       *string         `json:"reference,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
	ReturnRequestID *uuid.UUID      `json:"return_request_id,omitempty"`
}

type DebitRequest struct {
	UserID    uuid.UUID       `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference *string         `json:"reference,omitempty"`
	Notes     *string         `json:"notes,omitempty"`
}

type CreateReturnInput struct {
	OrderID uuid.UUID          `json:"order_id"`
	Reason  string             `json:"reason"`
	Items   []CreateReturnItem `json:"items"`
}

type CreateReturnItem struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	Quantity    int       `json:"quantity"`
}

type ConfirmReceivedResult struct {
	Return       *domain.ReturnRequest `json:"return"`
	CreditAmount decimal.Decimal       `json:"credit_amount"`
	NewBalance   decimal.Decimal       `json:"new_balance"`
}

// WebhookOutcome describes what a carrier callback did. Applied is false for
// duplicates and for events that do not move the record.
type WebhookOutcome struct {
	ReturnRequestID uuid.UUID           `json:"return_request_id,omitempty"`
	Status          domain.ReturnStatus `json:"status,omitempty"`
	Applied         bool                `json:"applied"`
	Duplicate       bool                `json:"duplicate,omitempty"`
}

type DispatchResult struct {
	Claimed   int `json:"claimed"`
	Published int `json:"published"`
	Failed    int `json:"failed"`
}
