package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is an expense as seen by the ingestion pipeline.
type LedgerEntry struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Category      string          `json:"category"`
	Date          time.Time       `json:"date"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	ReceiptToken  string          `json:"receipt_token,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CreateEntryRequest is the payload sent to the ledger when materializing a receipt.
type CreateEntryRequest struct {
	OwnerID       string          `json:"owner_id"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Category      string          `json:"category"`
	Date          time.Time       `json:"date"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	ReceiptToken  string          `json:"receipt_token"`
}
