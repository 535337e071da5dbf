package pipeline

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipt-intake/constants"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
)

// Upload is one untrusted file from an owner.
type Upload struct {
	OwnerID  string
	Filename string
	Content  []byte
}

type Kind string

const (
	KindRejected       Kind = "rejected"
	KindDuplicateFound Kind = "duplicate_found"
	KindAutoCreated    Kind = "auto_created"
	KindPendingReview  Kind = "pending_review"
)

// Outcome is the terminal result of Process. Which fields are set depends on Kind:
//
//	rejected:        Stage, Reason
//	duplicate_found: Duplicate, Confidence
//	auto_created:    Entry, Token, Confidence
//	pending_review:  Token, Extraction, Confidence, Warnings (Reason says why review is needed)
type Outcome struct {
	Kind       Kind                     `json:"outcome"`
	State      constants.State          `json:"state"`
	Stage      string                   `json:"stage,omitempty"`
	Reason     string                   `json:"reason,omitempty"`
	Token      string                   `json:"token,omitempty"`
	Entry      *entity.LedgerEntry      `json:"ledger_entry,omitempty"`
	Extraction *entity.ExtractionResult `json:"extraction,omitempty"`
	Duplicate  *entity.DuplicateVerdict `json:"duplicate,omitempty"`
	Confidence float64                  `json:"confidence"`
	Warnings   []string                 `json:"warnings,omitempty"`
}

func rejected(stage, reason string) Outcome {
	return Outcome{Kind: KindRejected, State: constants.StateRejected, Stage: stage, Reason: reason}
}

// Overrides are owner-supplied corrections applied by CreateFromToken.
type Overrides struct {
	Description   string           `json:"description,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Category      string           `json:"category,omitempty"`
	Date          *time.Time       `json:"date,omitempty"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

// CreateResult is the linked ledger entry for a stored receipt.
type CreateResult struct {
	Token string              `json:"token"`
	Entry *entity.LedgerEntry `json:"ledger_entry"`
}
