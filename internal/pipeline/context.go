package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/joseph-ayodele/receipt-intake/internal/entity"
	"github.com/joseph-ayodele/receipt-intake/internal/extract"
	"github.com/joseph-ayodele/receipt-intake/internal/receiptstore"
	"github.com/joseph-ayodele/receipt-intake/internal/validation"
)

// DefaultMinConfidence is the auto-create threshold.
const DefaultMinConfidence = 0.80

// Validator is the untrusted-input gate.
type Validator interface {
	Validate(data []byte, filename string) validation.Report
}

// DuplicateScorer compares an extraction with the owner's ledger.
type DuplicateScorer interface {
	Score(ctx context.Context, ex entity.ExtractionResult, ownerID string) (entity.DuplicateVerdict, error)
}

// ReceiptStore is the subset of the receipt store the pipeline writes to.
type ReceiptStore interface {
	Put(ctx context.Context, req receiptstore.PutRequest) (string, error)
	Get(ctx context.Context, token, ownerID string) (*entity.StoredReceipt, error)
	Link(ctx context.Context, token, ownerID, entryID string) error
}

// Ledger creates entries and finds the one already created for a receipt.
type Ledger interface {
	CreateEntry(ctx context.Context, req entity.CreateEntryRequest) (*entity.LedgerEntry, error)
	FindByReceiptToken(ctx context.Context, ownerID, token string) (*entity.LedgerEntry, error)
}

// LinkRetrier schedules a later create-from-token after a ledger failure.
type LinkRetrier interface {
	EnqueueLinkRetry(ctx context.Context, token, ownerID string) error
}

// Policy decides when a stored receipt becomes a ledger entry without review.
type Policy struct {
	MinConfidence float64
}

// Eligible reports whether ex may be auto-created, and if not, why.
func (p Policy) Eligible(ex entity.ExtractionResult) (bool, string) {
	switch {
	case ex.Confidence < p.MinConfidence:
		return false, "confidence below threshold"
	case !ex.TotalAmount.IsPositive():
		return false, "total amount is not positive"
	case strings.TrimSpace(ex.Merchant) == "":
		return false, "merchant is missing"
	case len(ex.Warnings) > 0:
		return false, "extraction has warnings"
	}
	return true, ""
}

// Context holds the long-lived handles the pipeline runs against. It is
// built once at startup and shared by every request.
type Context struct {
	Validator     Validator
	Authenticator extract.Authenticator
	Extractor     extract.Extractor
	Detector      DuplicateScorer
	Store         ReceiptStore
	Ledger        Ledger
	Policy        Policy
	// OwnerLocks, when set, serializes duplicate-check, store and create per owner.
	OwnerLocks *OwnerLocks
	Retrier    LinkRetrier
	Logger     *slog.Logger
}

// OwnerLocks is a keyed mutex. Entries are dropped once no goroutine holds
// or waits for them.
type OwnerLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

type ownerLock struct {
	mu   sync.Mutex
	refs int
}

func NewOwnerLocks() *OwnerLocks {
	return &OwnerLocks{locks: make(map[string]*ownerLock)}
}

// Lock blocks until ownerID is free and returns the matching unlock.
func (l *OwnerLocks) Lock(ownerID string) func() {
	l.mu.Lock()
	ol, ok := l.locks[ownerID]
	if !ok {
		ol = &ownerLock{}
		l.locks[ownerID] = ol
	}
	ol.refs++
	l.mu.Unlock()

	ol.mu.Lock()
	return func() {
		ol.mu.Unlock()
		l.mu.Lock()
		ol.refs--
		if ol.refs == 0 {
			delete(l.locks, ownerID)
		}
		l.mu.Unlock()
	}
}

func (l *OwnerLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
