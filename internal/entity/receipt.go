package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipt-intake/constants"
)

// LineItem is one purchased line on a receipt.
type LineItem struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// ExtractionResult is the structured output of the extraction collaborator.
type ExtractionResult struct {
	IsPlausibleReceipt    bool                    `json:"is_plausible_receipt"`
	Merchant              string                  `json:"merchant"`
	Date                  string                  `json:"date"` // YYYY-MM-DD
	TotalAmount           decimal.Decimal         `json:"total_amount"`
	Subtotal              decimal.Decimal         `json:"subtotal"`
	Tax                   decimal.Decimal         `json:"tax"`
	Items                 []LineItem              `json:"items,omitempty"`
	Category              constants.Category      `json:"category"`
	PaymentMethod         constants.PaymentMethod `json:"payment_method"`
	Description           string                  `json:"description,omitempty"`
	Confidence            float64                 `json:"confidence"`
	ConfidenceExplanation string                  `json:"confidence_explanation,omitempty"`
	Warnings              []string                `json:"warnings,omitempty"`
}

// StoredReceipt is the persisted unit owned by the receipt store.
type StoredReceipt struct {
	Token          string                  `json:"token"`
	OwnerID        string                  `json:"owner_id"`
	Filename       string                  `json:"filename"`
	ContentType    string                  `json:"content_type"`
	SizeBytes      int64                   `json:"size_bytes"`
	Content        []byte                  `json:"-"`
	BlobKey        string                  `json:"-"` // set when content lives in the blob store
	Extraction     ExtractionResult        `json:"extraction"`
	CreatedAt      time.Time               `json:"created_at"`
	ExpiresAt      time.Time               `json:"expires_at"`
	AccessCount    int64                   `json:"access_count"`
	LastAccessedAt *time.Time              `json:"last_accessed_at,omitempty"`
	LinkedEntryID  string                  `json:"linked_ledger_entry_id,omitempty"`
	Status         constants.ReceiptStatus `json:"status"`
}

// Expired reports whether the record is past its expiry at now.
func (r *StoredReceipt) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Meta returns a copy without the content bytes.
func (r *StoredReceipt) Meta() StoredReceipt {
	m := *r
	m.Content = nil
	return m
}

// StoreStats summarizes receipt store occupancy.
type StoreStats struct {
	Total     int   `json:"total"`
	Active    int   `json:"active"`
	Expired   int   `json:"expired"`
	SizeBytes int64 `json:"size_bytes"`
}
