package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/security"
)

// Provider hands out stores bound to a capability. The system store bypasses
// row-level security; a user store runs every transaction as the caller.
type Provider interface {
	AsSystem() Store
	AsUser(session *security.Session) Store
}

// Store runs a unit of work in a single transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	Returns() ReturnRepository
	Orders() OrderRepository
	Wallets() WalletRepository
	Audit() AuditRepository
}

type ReturnRepository interface {
	// Create inserts the request and its items.
	Create(ctx context.Context, req *domain.ReturnRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ReturnRequest, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.ReturnRequest, error)
	GetByPickupAWBForUpdate(ctx context.Context, awb string) (*domain.ReturnRequest, error)
	List(ctx context.Context, filter domain.ReturnFilter) ([]domain.ReturnRequest, error)
	Update(ctx context.Context, req *domain.ReturnRequest) error

	// ListItems returns the items of a return with unit prices read from the
	// order items.
	ListItems(ctx context.Context, returnID uuid.UUID) ([]domain.ReturnItem, error)

	// ReturnedQuantities sums quantities per order item over the order's
	// returns that are not rejected or cancelled.
	ReturnedQuantities(ctx context.Context, orderID uuid.UUID) (map[uuid.UUID]int, error)

	// ListStalled returns records in one of statuses last updated before cutoff.
	ListStalled(ctx context.Context, statuses []domain.ReturnStatus, cutoff time.Time) ([]domain.ReturnRequest, error)
}

type OrderRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// GetByIDForUpdate locks the order row so concurrent returns against the
	// same order are serialized.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
}

type WalletRepository interface {
	// Ensure creates a zero-balance wallet when none exists.
	Ensure(ctx context.Context, userID uuid.UUID) error
	Get(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	GetForUpdate(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	UpdateBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error

	CreateTransaction(ctx context.Context, t *domain.CreditTransaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.CreditTransaction, error)
	// SumCredits totals credit amounts created in (from, to].
	SumCredits(ctx context.Context, userID uuid.UUID, from, to time.Time) (decimal.Decimal, error)
	HasReturnCredit(ctx context.Context, returnID uuid.UUID) (bool, error)
}

type AuditRepository interface {
	// Enqueue writes to the outbox. A failure leaves the surrounding
	// transaction usable.
	Enqueue(ctx context.Context, entry *domain.AuditLogEntry) error
	ClaimPending(ctx context.Context, limit int) ([]domain.AuditOutboxEntry, error)
	// Publish copies an outbox row into the audit log and marks it dispatched.
	Publish(ctx context.Context, item *domain.AuditOutboxEntry) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error)
}
