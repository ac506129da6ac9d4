package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	AuditActionReturnCreate   = "return.create"
	AuditActionReturnApprove  = "return.approve"
	AuditActionReturnReject   = "return.reject"
	AuditActionReturnPickup   = "return.pickup_scheduled"
	AuditActionReturnCarrier  = "return.carrier_update"
	AuditActionReturnCancel   = "return.cancel"
	AuditActionReturnReceived = "return.received"
	AuditActionReturnCredited = "return.credited"
	AuditActionWalletCredit   = "wallet.credit"
	AuditActionWalletDebit    = "wallet.debit"
)

const (
	AuditResourceReturn = "return_request"
	AuditResourceWallet = "wallet"
)

// AuditLogEntry records an admin or system action. A nil PerformedBy means
// the system did it.
type AuditLogEntry struct {
	ID             int64          `json:"id"`
	Action         string         `json:"action"`
	TargetResource string         `json:"target_resource"`
	TargetID       string         `json:"target_id"`
	PerformedBy    *uuid.UUID     `json:"performed_by"`
	Details        map[string]any `json:"details"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AuditOutboxEntry is an audit entry waiting to be copied into the audit log.
type AuditOutboxEntry struct {
	ID           int64         `json:"id"`
	Entry        AuditLogEntry `json:"entry"`
	Attempts     int           `json:"attempts"`
	LastError    *string       `json:"last_error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	DispatchedAt *time.Time    `json:"dispatched_at,omitempty"`
}

type AuditFilter struct {
	TargetResource string
	TargetID       string
	Limit          int
}
