package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
)

// Wallet holds a customer's store-credit balance. Balance is never negative.
type Wallet struct {
	UserID    uuid.UUID       `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CreditTransaction is an append-only ledger row. Amount is always positive;
// Type decides the sign.
type CreditTransaction struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Type            TransactionType `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Reference       *string         `json:"reference"`
	Notes           *string         `json:"notes"`
	ReturnRequestID *uuid.UUID      `json:"return_request_id"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Signed returns the amount with the sign applied by the transaction type.
func (t CreditTransaction) Signed() decimal.Decimal {
	if t.Type == TransactionTypeDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

type BalanceSummary struct {
	Balance      decimal.Decimal `json:"balance"`
	ExpiringSoon decimal.Decimal `json:"expiring_soon"`
}

type LedgerResult struct {
	Success    bool            `json:"success"`
	NewBalance decimal.Decimal `json:"new_balance"`
}
