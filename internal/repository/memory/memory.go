// Package memory is an in-process store used for local development and
// service tests. Each transaction holds a global lock and restores a snapshot
// of all state when it fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/repository"
	"returns-credit-backend/internal/security"
)

type state struct {
	returns    map[uuid.UUID]domain.ReturnRequest
	items      map[uuid.UUID][]domain.ReturnItem
	orders     map[uuid.UUID]domain.Order
	orderItems map[uuid.UUID]domain.OrderItem
	customers  map[uuid.UUID]domain.Customer
	wallets    map[uuid.UUID]domain.Wallet
	txs        []domain.CreditTransaction
	outbox     []domain.AuditOutboxEntry
	logs       []domain.AuditLogEntry
	nextOutbox int64
	nextLog    int64
}

func newState() *state {
	return &state{
		returns:    map[uuid.UUID]domain.ReturnRequest{},
		items:      map[uuid.UUID][]domain.ReturnItem{},
		orders:     map[uuid.UUID]domain.Order{},
		orderItems: map[uuid.UUID]domain.OrderItem{},
		customers:  map[uuid.UUID]domain.Customer{},
		wallets:    map[uuid.UUID]domain.Wallet{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.returns {
		c.returns[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]domain.ReturnItem(nil), v...)
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.orderItems {
		c.orderItems[k] = v
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	c.txs = append([]domain.CreditTransaction(nil), s.txs...)
	c.outbox = append([]domain.AuditOutboxEntry(nil), s.outbox...)
	c.logs = append([]domain.AuditLogEntry(nil), s.logs...)
	c.nextOutbox = s.nextOutbox
	c.nextLog = s.nextLog
	return c
}

// DB implements repository.Provider.
type DB struct {
	mu       sync.Mutex
	data     *state
	auditErr error
}

func New() *DB {
	return &DB{data: newState()}
}

func (d *DB) AsSystem() repository.Store {
	return &store{db: d}
}

// AsUser returns the same view as AsSystem. Row-level security is only
// enforced by the postgres store.
func (d *DB) AsUser(_ *security.Session) repository.Store {
	return &store{db: d}
}

// AddOrder seeds a read-only order and, optionally, its customer.
func (d *DB) AddOrder(order domain.Order, customer *domain.Customer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.data.orders[order.ID] = order
	for _, it := range order.Items {
		it.OrderID = order.ID
		d.data.orderItems[it.ID] = it
	}
	if customer != nil {
		d.data.customers[customer.ID] = *customer
	}
}

// FailAuditWith makes every outbox write fail with err until reset with nil.
func (d *DB) FailAuditWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.auditErr = err
}

// PendingOutbox returns the outbox rows not yet dispatched.
func (d *DB) PendingOutbox() []domain.AuditOutboxEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := []domain.AuditOutboxEntry{}
	for _, e := range d.data.outbox {
		if e.DispatchedAt == nil {
			out = append(out, e)
		}
	}
	return out
}

type store struct {
	db *DB
}

func (s *store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	snapshot := s.db.data.clone()
	if err := fn(&tx{db: s.db}); err != nil {
		s.db.data = snapshot
		return err
	}
	return nil
}

type tx struct {
	db *DB
}

func (t *tx) Returns() repository.ReturnRepository { return &returnRepo{t.db} }
func (t *tx) Orders() repository.OrderRepository   { return &orderRepo{t.db} }
func (t *tx) Wallets() repository.WalletRepository { return &walletRepo{t.db} }
func (t *tx) Audit() repository.AuditRepository    { return &auditRepo{t.db} }

type returnRepo struct{ db *DB }

func (r *returnRepo) Create(ctx context.Context, req *domain.ReturnRequest) error {
	stored := *req
	stored.Items = nil
	r.db.data.returns[req.ID] = stored

	items := make([]domain.ReturnItem, len(req.Items))
	for i, it := range req.Items {
		it.ReturnRequestID = req.ID
		items[i] = it
	}
	r.db.data.items[req.ID] = items
	return nil
}

func (r *returnRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReturnRequest, error) {
	req, ok := r.db.data.returns[id]
	if !ok {
		return nil, domain.ErrReturnNotFound
	}
	return &req, nil
}

func (r *returnRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.ReturnRequest, error) {
	return r.GetByID(ctx, id)
}

func (r *returnRepo) GetByPickupAWBForUpdate(ctx context.Context, awb string) (*domain.ReturnRequest, error) {
	for _, req := range r.db.data.returns {
		if req.PickupAWB != nil && *req.PickupAWB == awb {
			found := req
			return &found, nil
		}
	}
	return nil, domain.ErrPickupNotFound
}

func (r *returnRepo) List(ctx context.Context, filter domain.ReturnFilter) ([]domain.ReturnRequest, error) {
	out := []domain.ReturnRequest{}
	for _, req := range r.db.data.returns {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *returnRepo) Update(ctx context.Context, req *domain.ReturnRequest) error {
	if _, ok := r.db.data.returns[req.ID]; !ok {
		return domain.ErrReturnNotFound
	}
	stored := *req
	stored.Items = nil
	r.db.data.returns[req.ID] = stored
	return nil
}

func (r *returnRepo) ListItems(ctx context.Context, returnID uuid.UUID) ([]domain.ReturnItem, error) {
	out := []domain.ReturnItem{}
	for _, it := range r.db.data.items[returnID] {
		if oi, ok := r.db.data.orderItems[it.OrderItemID]; ok {
			it.UnitPrice = oi.Price
			it.ProductName = oi.ProductName
			it.SKU = oi.SKU
		}
		out = append(out, it)
	}
	return out, nil
}

func (r *returnRepo) ReturnedQuantities(ctx context.Context, orderID uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int)
	for id, req := range r.db.data.returns {
		if req.OrderID != orderID || req.Status == domain.ReturnStatusRejected || req.Status == domain.ReturnStatusCancelled {
			continue
		}
		for _, it := range r.db.data.items[id] {
			out[it.OrderItemID] += it.Quantity
		}
	}
	return out, nil
}

func (r *returnRepo) ListStalled(ctx context.Context, statuses []domain.ReturnStatus, cutoff time.Time) ([]domain.ReturnRequest, error) {
	wanted := make(map[domain.ReturnStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	out := []domain.ReturnRequest{}
	for _, req := range r.db.data.returns {
		if wanted[req.Status] && req.UpdatedAt.Before(cutoff) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

type orderRepo struct{ db *DB }

func (r *orderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := r.db.data.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return &o, nil
}

func (r *orderRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *orderRepo) GetCustomer(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	c, ok := r.db.data.customers[id]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	return &c, nil
}

type walletRepo struct{ db *DB }

func (r *walletRepo) Ensure(ctx context.Context, userID uuid.UUID) error {
	if _, ok := r.db.data.wallets[userID]; !ok {
		r.db.data.wallets[userID] = domain.Wallet{UserID: userID, Balance: decimal.Zero, UpdatedAt: time.Now()}
	}
	return nil
}

func (r *walletRepo) Get(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	w, ok := r.db.data.wallets[userID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return &w, nil
}

func (r *walletRepo) GetForUpdate(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return r.Get(ctx, userID)
}

func (r *walletRepo) UpdateBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	w, ok := r.db.data.wallets[userID]
	if !ok {
		return domain.ErrWalletNotFound
	}
	if balance.IsNegative() {
		// mirrors the CHECK (balance >= 0) constraint
		return domain.ErrInsufficientCredits
	}
	w.Balance = balance
	w.UpdatedAt = time.Now()
	r.db.data.wallets[userID] = w
	return nil
}

func (r *walletRepo) CreateTransaction(ctx context.Context, t *domain.CreditTransaction) error {
	if t.ReturnRequestID != nil && t.Type == domain.TransactionTypeCredit {
		if exists, _ := r.HasReturnCredit(ctx, *t.ReturnRequestID); exists {
			return domain.ErrInvalidState
		}
	}
	r.db.data.txs = append(r.db.data.txs, *t)
	return nil
}

func (r *walletRepo) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.CreditTransaction, error) {
	out := []domain.CreditTransaction{}
	// newest first; ties keep reverse insertion order
	for i := len(r.db.data.txs) - 1; i >= 0; i-- {
		if t := r.db.data.txs[i]; t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *walletRepo) SumCredits(ctx context.Context, userID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range r.db.data.txs {
		if t.UserID != userID || t.Type != domain.TransactionTypeCredit {
			continue
		}
		if t.CreatedAt.After(from) && !t.CreatedAt.After(to) {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

func (r *walletRepo) HasReturnCredit(ctx context.Context, returnID uuid.UUID) (bool, error) {
	for _, t := range r.db.data.txs {
		if t.Type == domain.TransactionTypeCredit && t.ReturnRequestID != nil && *t.ReturnRequestID == returnID {
			return true, nil
		}
	}
	return false, nil
}

type auditRepo struct{ db *DB }

func (r *auditRepo) Enqueue(ctx context.Context, entry *domain.AuditLogEntry) error {
	if r.db.auditErr != nil {
		return r.db.auditErr
	}
	r.db.data.nextOutbox++
	entry.ID = r.db.data.nextOutbox
	r.db.data.outbox = append(r.db.data.outbox, domain.AuditOutboxEntry{
		ID:        entry.ID,
		Entry:     *entry,
		CreatedAt: entry.CreatedAt,
	})
	return nil
}

func (r *auditRepo) ClaimPending(ctx context.Context, limit int) ([]domain.AuditOutboxEntry, error) {
	out := []domain.AuditOutboxEntry{}
	for _, e := range r.db.data.outbox {
		if e.DispatchedAt != nil {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *auditRepo) Publish(ctx context.Context, item *domain.AuditOutboxEntry) error {
	if r.db.auditErr != nil {
		return r.db.auditErr
	}
	for i := range r.db.data.outbox {
		if r.db.data.outbox[i].ID != item.ID {
			continue
		}
		r.db.data.nextLog++
		logEntry := item.Entry
		logEntry.ID = r.db.data.nextLog
		r.db.data.logs = append(r.db.data.logs, logEntry)

		now := time.Now()
		r.db.data.outbox[i].DispatchedAt = &now
		r.db.data.outbox[i].Attempts++
		item.Entry.ID = logEntry.ID
		return nil
	}
	return nil
}

func (r *auditRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	for i := range r.db.data.outbox {
		if r.db.data.outbox[i].ID == id {
			r.db.data.outbox[i].Attempts++
			r.db.data.outbox[i].LastError = &reason
		}
	}
	return nil
}

func (r *auditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	out := []domain.AuditLogEntry{}
	for i := len(r.db.data.logs) - 1; i >= 0; i-- {
		e := r.db.data.logs[i]
		if filter.TargetResource != "" && e.TargetResource != filter.TargetResource {
			continue
		}
		if filter.TargetID != "" && e.TargetID != filter.TargetID {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
