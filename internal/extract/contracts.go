package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipt-intake/internal/entity"
)

// Document is a validated, sanitized upload handed to the collaborators.
type Document struct {
	Content     []byte
	Filename    string
	ContentType string
	// Text is the first-page text of a PDF when the validator found any.
	Text string
}

// Extractor turns a document into structured purchase fields.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (entity.ExtractionResult, error)
}

// Authenticator is the plausibility gate run before extraction and storage.
type Authenticator interface {
	Check(ctx context.Context, doc Document) (AuthResult, error)
}

type AuthResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Raw is the loosely typed extraction as returned by a model, before Finalize.
type Raw struct {
	IsReceipt     *bool           `json:"is_receipt,omitempty"`
	Error         string          `json:"error,omitempty"`
	Merchant      string          `json:"merchant"`
	Date          string          `json:"date"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Items         []RawItem       `json:"items,omitempty"`
	Category      string          `json:"category,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Confidence    *float64        `json:"confidence,omitempty"`
}

type RawItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// ErrMalformedResponse marks a collaborator reply that could not be parsed or
// violated the schema. It is never retried.
var ErrMalformedResponse = errors.New("malformed collaborator response")

// StatusError is a non-2xx reply from a collaborator service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collaborator status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}

// AllowAll is the offline authenticator; it accepts every document.
type AllowAll struct{}

func (AllowAll) Check(context.Context, Document) (AuthResult, error) {
	return AuthResult{Valid: true}, nil
}
