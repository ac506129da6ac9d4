package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"returns-credit-backend/internal/config"
	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/logger"
	"returns-credit-backend/internal/repository"
	"returns-credit-backend/internal/security"
)

type walletService struct {
	store repository.Provider
	cfg   config.WalletConfig
	now   func() time.Time
}

func NewWalletService(store repository.Provider, cfg config.WalletConfig) WalletService {
	return &walletService{store: store, cfg: cfg, now: time.Now}
}

// authorizeWalletRead lets customers read their own wallet and staff read any.
func authorizeWalletRead(session *security.Session, userID uuid.UUID) error {
	if session != nil && session.UserID == userID {
		return security.Authorize(session, security.PermWalletViewOwn)
	}
	return security.Authorize(session, security.PermWalletViewAny)
}

func (s *walletService) GetBalance(ctx context.Context, session *security.Session, userID uuid.UUID) (*domain.BalanceSummary, error) {
	if err := authorizeWalletRead(session, userID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	// credits issued in (now-expiry, now-expiry+window] expire within the window
	from := now.AddDate(0, -s.cfg.CreditExpiryMonths, 0)
	to := from.AddDate(0, 0, s.cfg.ExpiringWindowDays)

	summary := &domain.BalanceSummary{}
	err := s.store.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.Wallets().Ensure(ctx, userID); err != nil {
			return err
		}
		w, err := tx.Wallets().Get(ctx, userID)
		if err != nil {
			return err
		}
		expiring, err := tx.Wallets().SumCredits(ctx, userID, from, to)
		if err != nil {
			return err
		}
		summary.Balance = w.Balance
		summary.ExpiringSoon = expiring
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *walletService) AddCredits(ctx context.Context, session *security.Session, req CreditRequest) (*domain.LedgerResult, error) {
	logger.EnterMethod(ctx, "walletService.AddCredits", "userID", req.UserID, "amount", req.Amount)

	if err := security.Authorize(session, security.PermWalletAdjust); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	var newBalance decimal.Decimal
	err := s.store.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		newBalance, err = applyCredit(ctx, tx, s.now().UTC(), actorOf(session), req)
		return err
	})
	if err != nil {
		logger.ExitMethodWithError(ctx, "walletService.AddCredits", err)
		return nil, err
	}

	logger.ExitMethod(ctx, "walletService.AddCredits", "newBalance", newBalance)
	return &domain.LedgerResult{Success: true, NewBalance: newBalance}, nil
}

func (s *walletService) DeductCredits(ctx context.Context, session *security.Session, req DebitRequest) (*domain.LedgerResult, error) {
	logger.EnterMethod(ctx, "walletService.DeductCredits", "userID", req.UserID, "amount", req.Amount)

	if err := security.Authorize(session, security.PermWalletAdjust); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	var newBalance decimal.Decimal
	err := s.store.AsSystem().WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		newBalance, err = applyDebit(ctx, tx, s.now().UTC(), actorOf(session), req)
		return err
	})
	if err != nil {
		logger.ExitMethodWithError(ctx, "walletService.DeductCredits", err)
		return nil, err
	}

	logger.ExitMethod(ctx, "walletService.DeductCredits", "newBalance", newBalance)
	return &domain.LedgerResult{Success: true, NewBalance: newBalance}, nil
}

func (s *walletService) GetTransactions(ctx context.Context, session *security.Session, userID uuid.UUID, limit int) ([]domain.CreditTransaction, error) {
	if err := authorizeWalletRead(session, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.TransactionsLimit
	}
	if limit > s.cfg.MaxTransactionsPage {
		limit = s.cfg.MaxTransactionsPage
	}

	var txs []domain.CreditTransaction
	err := s.store.AsUser(session).WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		txs, err = tx.Wallets().ListTransactions(ctx, userID, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// applyCredit adds to a wallet inside tx, creating the wallet when needed.
func applyCredit(ctx context.Context, tx repository.Tx, at time.Time, performedBy *uuid.UUID, req CreditRequest) (decimal.Decimal, error) {
	if !req.Amount.IsPositive() {
		return decimal.Zero, domain.ErrInvalidAmount
	}

	wallets := tx.Wallets()
	if err := wallets.Ensure(ctx, req.UserID); err != nil {
		return decimal.Zero, err
	}
	w, err := wallets.GetForUpdate(ctx, req.UserID)
	if err != nil {
		return decimal.Zero, err
	}

	newBalance := w.Balance.Add(req.Amount)
	if err := wallets.UpdateBalance(ctx, req.UserID, newBalance); err != nil {
		return decimal.Zero, err
	}

	entry := &domain.CreditTransaction{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Type:            domain.TransactionTypeCredit,
		Amount:          req.Amount,
		Reference:       req.Reference,
		Notes:           req.Notes,
		ReturnRequestID: req.ReturnRequestID,
		CreatedAt:       at,
	}
	if err := wallets.CreateTransaction(ctx, entry); err != nil {
		return decimal.Zero, err
	}

	details := map[string]any{
		"amount":         req.Amount.StringFixed(2),
		"new_balance":    newBalance.StringFixed(2),
		"transaction_id": entry.ID.String(),
	}
	if req.ReturnRequestID != nil {
		details["return_request_id"] = req.ReturnRequestID.String()
	}
	recordAudit(ctx, tx, domain.AuditLogEntry{
		Action:         domain.AuditActionWalletCredit,
		TargetResource: domain.AuditResourceWallet,
		TargetID:       req.UserID.String(),
		PerformedBy:    performedBy,
		Details:        details,
		CreatedAt:      at,
	})
	return newBalance, nil
}

// applyDebit subtracts from an existing wallet inside tx. The balance never
// goes below zero.
func applyDebit(ctx context.Context, tx repository.Tx, at time.Time, performedBy *uuid.UUID, req DebitRequest) (decimal.Decimal, error) {
	if !req.Amount.IsPositive() {
		return decimal.Zero, domain.ErrInvalidAmount
	}

	wallets := tx.Wallets()
	w, err := wallets.GetForUpdate(ctx, req.UserID)
	if err != nil {
		return decimal.Zero, err
	}
	if w.Balance.LessThan(req.Amount) {
		return decimal.Zero, domain.ErrInsufficientCredits
	}

	newBalance := w.Balance.Sub(req.Amount)
	if err := wallets.UpdateBalance(ctx, req.UserID, newBalance); err != nil {
		return decimal.Zero, err
	}

	entry := &domain.CreditTransaction{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Type:      domain.TransactionTypeDebit,
		Amount:    req.Amount,
		Reference: req.Reference,
		Notes:     req.Notes,
		CreatedAt: at,
	}
	if err := wallets.CreateTransaction(ctx, entry); err != nil {
		return decimal.Zero, err
	}

	recordAudit(ctx, tx, domain.AuditLogEntry{
		Action:         domain.AuditActionWalletDebit,
		TargetResource: domain.AuditResourceWallet,
		TargetID:       req.UserID.String(),
		PerformedBy:    performedBy,
		Details: map[string]any{
			"amount":         req.Amount.StringFixed(2),
			"new_balance":    newBalance.StringFixed(2),
			"transaction_id": entry.ID.String(),
		},
		CreatedAt: at,
	})
	return newBalance, nil
}
