package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"returns-credit-backend/internal/cache"
	"returns-credit-backend/internal/config"
	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/repository"
	"returns-credit-backend/internal/repository/memory"
	"returns-credit-backend/internal/security"
	"returns-credit-backend/internal/shipping"
)

const testWebhookSecret = "test-webhook-secret"

var walletTestConfig = config.WalletConfig{
	CreditExpiryMonths:  12,
	ExpiringWindowDays:  30,
	TransactionsLimit:   50,
	MaxTransactionsPage: 200,
}

type MockCarrier struct {
	mock.Mock
}

func (m *MockCarrier) SchedulePickup(ctx context.Context, req shipping.PickupRequest) (*shipping.Pickup, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.Pickup), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) ReturnRejected(ctx context.Context, customer *domain.Customer, req *domain.ReturnRequest) error {
	return m.Called(ctx, customer, req).Error(0)
}

func (m *MockNotifier) PickupScheduled(ctx context.Context, customer *domain.Customer, req *domain.ReturnRequest) error {
	return m.Called(ctx, customer, req).Error(0)
}

func (m *MockNotifier) ReturnCredited(ctx context.Context, customer *domain.Customer, req *domain.ReturnRequest, amount, newBalance decimal.Decimal) error {
	return m.Called(ctx, customer, req, amount, newBalance).Error(0)
}

// fixture wires every service to one seeded memory store.
type fixture struct {
	db       *memory.DB
	demo     memory.Demo
	carrier  *MockCarrier
	notifier *MockNotifier

	returns *returnService
	wallets *walletService
	webhook *pickupWebhookService
	audit   *auditService

	admin    *security.Session
	super    *security.Session
	customer *security.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := memory.New()
	demo := memory.SeedDemo(db)
	carrier := new(MockCarrier)
	notifier := new(MockNotifier)
	notifier.On("ReturnRejected", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	notifier.On("PickupScheduled", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	notifier.On("ReturnCredited", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	return &fixture{
		db:       db,
		demo:     demo,
		carrier:  carrier,
		notifier: notifier,
		returns:  NewReturnService(db, carrier, notifier).(*returnService),
		wallets:  NewWalletService(db, walletTestConfig).(*walletService),
		webhook:  NewPickupWebhookService(db, cache.NewLocalDeduper(time.Hour), testWebhookSecret, 2).(*pickupWebhookService),
		audit:    NewAuditService(db).(*auditService),
		admin:    &security.Session{UserID: uuid.New(), Email: "ops@example.com", Role: security.RoleAdmin},
		super:    &security.Session{UserID: uuid.New(), Email: "root@example.com", Role: security.RoleSuperAdmin},
		customer: &security.Session{UserID: demo.CustomerAuthID, Email: "asha@example.com", Role: security.RoleCustomer},
	}
}

func (f *fixture) orderItems(t *testing.T, orderID uuid.UUID) []domain.OrderItem {
	t.Helper()
	var items []domain.OrderItem
	err := f.db.AsSystem().WithinTx(context.Background(), func(tx repository.Tx) error {
		order, err := tx.Orders().GetByID(context.Background(), orderID)
		if err != nil {
			return err
		}
		items = order.Items
		return nil
	})
	require.NoError(t, err)
	return items
}

func (f *fixture) getReturn(t *testing.T, id uuid.UUID) *domain.ReturnRequest {
	t.Helper()
	var r *domain.ReturnRequest
	err := f.db.AsSystem().WithinTx(context.Background(), func(tx repository.Tx) error {
		var err error
		r, err = tx.Returns().GetByID(context.Background(), id)
		return err
	})
	require.NoError(t, err)
	return r
}

// fullReturn opens a return for every unit of the order.
func (f *fixture) fullReturn(t *testing.T, orderID uuid.UUID) *domain.ReturnRequest {
	t.Helper()
	in := CreateReturnInput{OrderID: orderID, Reason: "Does not fit"}
	for _, it := range f.orderItems(t, orderID) {
		in.Items = append(in.Items, CreateReturnItem{OrderItemID: it.ID, Quantity: it.Quantity})
	}
	r, err := f.returns.Create(context.Background(), f.admin, in)
	require.NoError(t, err)
	return r
}

// setState forces a return into status with an AWB, skipping the lifecycle.
func (f *fixture) setState(t *testing.T, id uuid.UUID, status domain.ReturnStatus, awb string) {
	t.Helper()
	err := f.db.AsSystem().WithinTx(context.Background(), func(tx repository.Tx) error {
		r, err := tx.Returns().GetByIDForUpdate(context.Background(), id)
		if err != nil {
			return err
		}
		r.Status = status
		if awb != "" {
			r.PickupAWB = &awb
		}
		return tx.Returns().Update(context.Background(), r)
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	summary, err := f.wallets.GetBalance(context.Background(), f.admin, userID)
	require.NoError(t, err)
	return summary.Balance
}

func (f *fixture) transactions(t *testing.T, userID uuid.UUID) []domain.CreditTransaction {
	t.Helper()
	txs, err := f.wallets.GetTransactions(context.Background(), f.admin, userID, 200)
	require.NoError(t, err)
	return txs
}

func signedWebhook(t *testing.T, awb any, status, timestamp string) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"awb":               awb,
		"current_status":    status,
		"current_timestamp": timestamp,
	})
	require.NoError(t, err)
	return body, security.SignPayload(testWebhookSecret, body)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
