package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/logger"
	"returns-credit-backend/internal/repository"
)

type walletRepository struct {
	db DBTX
}

func NewWalletRepository(db DBTX) repository.WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) Ensure(ctx context.Context, userID uuid.UUID) error {
	query := `INSERT INTO wallets (user_id, balance, updated_at) VALUES ($1, 0, NOW())
	          ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}
	return nil
}

func (r *walletRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return r.get(ctx, `SELECT user_id, balance, updated_at FROM wallets WHERE user_id = $1`, userID)
}

func (r *walletRepository) GetForUpdate(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return r.get(ctx, `SELECT user_id, balance, updated_at FROM wallets WHERE user_id = $1 FOR UPDATE`, userID)
}

func (r *walletRepository) get(ctx context.Context, query string, userID uuid.UUID) (*domain.Wallet, error) {
	var w domain.Wallet
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&w.UserID, &w.Balance, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	return &w, nil
}

func (r *walletRepository) UpdateBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx, `UPDATE wallets SET balance = $2, updated_at = NOW() WHERE user_id = $1`, userID, balance)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

func (r *walletRepository) CreateTransaction(ctx context.Context, t *domain.CreditTransaction) error {
	logger.EnterMethod(ctx, "walletRepository.CreateTransaction", "userID", t.UserID, "type", t.Type, "amount", t.Amount)

	query := `INSERT INTO credit_transactions (id, user_id, type, amount, reference, notes, return_request_id, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query, t.ID, t.UserID, t.Type, t.Amount, t.Reference, t.Notes, t.ReturnRequestID, t.CreatedAt)
	if err != nil {
		logger.ExitMethodWithError(ctx, "walletRepository.CreateTransaction", err)
		if isUniqueViolation(err) && t.ReturnRequestID != nil {
			return fmt.Errorf("return %s already credited: %w", t.ReturnRequestID, domain.ErrInvalidState)
		}
		return fmt.Errorf("insert credit transaction: %w", err)
	}

	logger.ExitMethod(ctx, "walletRepository.CreateTransaction", "transactionID", t.ID)
	return nil
}

func (r *walletRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.CreditTransaction, error) {
	query := `SELECT id, user_id, type, amount, reference, notes, return_request_id, created_at
	          FROM credit_transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	txs := []domain.CreditTransaction{}
	for rows.Next() {
		var t domain.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Reference, &t.Notes, &t.ReturnRequestID, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *walletRepository) SumCredits(ctx context.Context, userID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM credit_transactions
	          WHERE user_id = $1 AND type = 'credit' AND created_at > $2 AND created_at <= $3`
	if err := r.db.QueryRowContext(ctx, query, userID, from, to).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum credits: %w", err)
	}
	return total, nil
}

func (r *walletRepository) HasReturnCredit(ctx context.Context, returnID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM credit_transactions WHERE return_request_id = $1 AND type = 'credit')`
	if err := r.db.QueryRowContext(ctx, query, returnID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check return credit: %w", err)
	}
	return exists, nil
}
