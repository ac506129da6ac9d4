package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/logger"
	"returns-credit-backend/internal/repository"
)

const returnColumns = `id, order_id, customer_id, status, reason, admin_notes, pickup_retry_count,
	pickup_awb, pickup_shipment_id, created_at, approved_at, received_at, cancelled_at, updated_at`

type returnRepository struct {
	db DBTX
}

func NewReturnRepository(db DBTX) repository.ReturnRepository {
	return &returnRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReturn(row rowScanner) (*domain.ReturnRequest, error) {
	var r domain.ReturnRequest
	err := row.Scan(
		&r.ID, &r.OrderID, &r.CustomerID, &r.Status, &r.Reason, &r.AdminNotes, &r.PickupRetryCount,
		&r.PickupAWB, &r.PickupShipmentID, &r.CreatedAt, &r.ApprovedAt, &r.ReceivedAt, &r.CancelledAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *returnRepository) Create(ctx context.Context, req *domain.ReturnRequest) error {
	logger.EnterMethod(ctx, "returnRepository.Create", "orderID", req.OrderID)

	query := `INSERT INTO return_requests (id, order_id, customer_id, status, reason, admin_notes, pickup_retry_count, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.OrderID, req.CustomerID, req.Status, req.Reason, req.AdminNotes, req.PickupRetryCount, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		logger.ExitMethodWithError(ctx, "returnRepository.Create", err)
		return fmt.Errorf("insert return request: %w", err)
	}

	itemQuery := `INSERT INTO return_items (id, return_request_id, order_item_id, quantity) VALUES ($1, $2, $3, $4)`
	for _, it := range req.Items {
		if _, err := r.db.ExecContext(ctx, itemQuery, it.ID, req.ID, it.OrderItemID, it.Quantity); err != nil {
			logger.ExitMethodWithError(ctx, "returnRepository.Create", err, "orderItemID", it.OrderItemID)
			return fmt.Errorf("insert return item: %w", err)
		}
	}

	logger.ExitMethod(ctx, "returnRepository.Create", "returnID", req.ID, "items", len(req.Items))
	return nil
}

func (r *returnRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReturnRequest, error) {
	return r.get(ctx, `SELECT `+returnColumns+` FROM return_requests WHERE id = $1`, id, domain.ErrReturnNotFound)
}

func (r *returnRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.ReturnRequest, error) {
	return r.get(ctx, `SELECT `+returnColumns+` FROM return_requests WHERE id = $1 FOR UPDATE`, id, domain.ErrReturnNotFound)
}

func (r *returnRepository) GetByPickupAWBForUpdate(ctx context.Context, awb string) (*domain.ReturnRequest, error) {
	return r.get(ctx, `SELECT `+returnColumns+` FROM return_requests WHERE pickup_awb = $1 FOR UPDATE`, awb, domain.ErrPickupNotFound)
}

func (r *returnRepository) get(ctx context.Context, query string, arg any, notFound error) (*domain.ReturnRequest, error) {
	req, err := scanReturn(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("load return request: %w", err)
	}
	return req, nil
}

func (r *returnRepository) List(ctx context.Context, filter domain.ReturnFilter) ([]domain.ReturnRequest, error) {
	logger.EnterMethod(ctx, "returnRepository.List", "status", filter.Status, "limit", filter.Limit)

	query := `SELECT ` + returnColumns + ` FROM return_requests`
	args := []interface{}{}
	argIndex := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" WHERE status = $%d", argIndex)
		args = append(args, filter.Status)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.ExitMethodWithError(ctx, "returnRepository.List", err)
		return nil, err
	}
	defer rows.Close()

	out := []domain.ReturnRequest{}
	for rows.Next() {
		req, err := scanReturn(rows)
		if err != nil {
			logger.ExitMethodWithError(ctx, "returnRepository.List", err)
			return nil, err
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logger.ExitMethod(ctx, "returnRepository.List", "count", len(out))
	return out, nil
}

func (r *returnRepository) Update(ctx context.Context, req *domain.ReturnRequest) error {
	query := `UPDATE return_requests
	          SET status = $2, admin_notes = $3, pickup_retry_count = $4, pickup_awb = $5, pickup_shipment_id = $6,
	              approved_at = $7, received_at = $8, cancelled_at = $9, updated_at = $10
	          WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query,
		req.ID, req.Status, req.AdminNotes, req.PickupRetryCount, req.PickupAWB, req.PickupShipmentID,
		req.ApprovedAt, req.ReceivedAt, req.CancelledAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update return request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrReturnNotFound
	}
	return nil
}

func (r *returnRepository) ListItems(ctx context.Context, returnID uuid.UUID) ([]domain.ReturnItem, error) {
	query := `SELECT ri.id, ri.return_request_id, ri.order_item_id, ri.quantity, oi.price, oi.product_name, COALESCE(oi.sku, '')
	          FROM return_items ri
	          JOIN order_items oi ON oi.id = ri.order_item_id
	          WHERE ri.return_request_id = $1
	          ORDER BY oi.product_name`
	rows, err := r.db.QueryContext(ctx, query, returnID)
	if err != nil {
		return nil, fmt.Errorf("list return items: %w", err)
	}
	defer rows.Close()

	items := []domain.ReturnItem{}
	for rows.Next() {
		var it domain.ReturnItem
		if err := rows.Scan(&it.ID, &it.ReturnRequestID, &it.OrderItemID, &it.Quantity, &it.UnitPrice, &it.ProductName, &it.SKU); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *returnRepository) ReturnedQuantities(ctx context.Context, orderID uuid.UUID) (map[uuid.UUID]int, error) {
	query := `SELECT ri.order_item_id, SUM(ri.quantity)
	          FROM return_items ri
	          JOIN return_requests rr ON rr.id = ri.return_request_id
	          WHERE rr.order_id = $1 AND rr.status <> ALL($2)
	          GROUP BY ri.order_item_id`
	released := pq.Array([]string{string(domain.ReturnStatusRejected), string(domain.ReturnStatusCancelled)})
	rows, err := r.db.QueryContext(ctx, query, orderID, released)
	if err != nil {
		return nil, fmt.Errorf("sum returned quantities: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		out[id] = qty
	}
	return out, rows.Err()
}

func (r *returnRepository) ListStalled(ctx context.Context, statuses []domain.ReturnStatus, cutoff time.Time) ([]domain.ReturnRequest, error) {
	statusStrs := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrs[i] = string(s)
	}

	query := `SELECT ` + returnColumns + ` FROM return_requests
	          WHERE status = ANY($1) AND updated_at < $2
	          ORDER BY updated_at`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(statusStrs), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stalled returns: %w", err)
	}
	defer rows.Close()

	out := []domain.ReturnRequest{}
	for rows.Next() {
		req, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}
