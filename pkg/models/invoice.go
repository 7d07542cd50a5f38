package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusOpen      InvoiceStatus = "open"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

type Invoice struct {
	ID             string          `json:"id" db:"id"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	InvoiceNumber  string          `json:"invoice_number" db:"invoice_number"`
	CustomerID     *string         `json:"customer_id,omitempty" db:"customer_id"`
	Status         InvoiceStatus   `json:"status" db:"status"`
	Total          decimal.Decimal `json:"total" db:"total"`
	AmountPaid     decimal.Decimal `json:"amount_paid" db:"amount_paid"`
	OTRSubmittedAt *time.Time      `json:"otr_submitted_at,omitempty" db:"otr_submitted_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

type DeliveryLogStatus string

const (
	DeliveryLogStatusQueued    DeliveryLogStatus = "queued"
	DeliveryLogStatusSent      DeliveryLogStatus = "sent"
	DeliveryLogStatusDelivered DeliveryLogStatus = "delivered"
	DeliveryLogStatusFailed    DeliveryLogStatus = "failed"
	DeliveryLogStatusBounced   DeliveryLogStatus = "bounced"
)

// InvoiceDeliveryLog records an attempt to email an invoice.
type InvoiceDeliveryLog struct {
	ID        string            `json:"id" db:"id"`
	TenantID  string            `json:"tenant_id" db:"tenant_id"`
	InvoiceID string            `json:"invoice_id" db:"invoice_id"`
	Status    DeliveryLogStatus `json:"status" db:"status"`
	Recipient string            `json:"recipient" db:"recipient"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// ReversalEligibility is the answer to "may this invoice still be reversed internally".
type ReversalEligibility struct {
	Allowed                bool   `json:"allowed"`
	Reason                 string `json:"reason"`
	RequiresFormalReversal bool   `json:"requires_formal_reversal"`
}

type ReversalResult struct {
	Invoice         *Invoice `json:"invoice"`
	AffectedLoadIDs []string `json:"affected_load_ids"`
	RestoredStatus  string   `json:"restored_load_status,omitempty"`
	Degraded        bool     `json:"degraded,omitempty"`
}
