package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipt-intake/constants"
	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/duplicate"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
	"github.com/joseph-ayodele/receipt-intake/internal/extract"
	"github.com/joseph-ayodele/receipt-intake/internal/receiptstore"
	"github.com/joseph-ayodele/receipt-intake/internal/utils"
	"github.com/joseph-ayodele/receipt-intake/internal/validation"
)

const owner = "owner-a"

type fakeLedger struct {
	mu         sync.Mutex
	entries    []entity.LedgerEntry
	failCreate error
	creates    int
}

func (l *fakeLedger) ListEntries(_ context.Context, ownerID string) ([]entity.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []entity.LedgerEntry
	for _, e := range l.entries {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *fakeLedger) CreateEntry(_ context.Context, req entity.CreateEntryRequest) (*entity.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failCreate != nil {
		return nil, l.failCreate
	}
	l.creates++
	e := entity.LedgerEntry{
		ID:            fmt.Sprintf("entry-%d", l.creates),
		OwnerID:       req.OwnerID,
		Description:   req.Description,
		Amount:        req.Amount,
		Category:      req.Category,
		Date:          req.Date,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
		ReceiptToken:  req.ReceiptToken,
	}
	l.entries = append(l.entries, e)
	return &e, nil
}

func (l *fakeLedger) FindByReceiptToken(_ context.Context, ownerID, token string) (*entity.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.OwnerID == ownerID && e.ReceiptToken == token {
			return &e, nil
		}
	}
	return nil, common.ErrNotFound
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

type stubExtractor struct {
	res   entity.ExtractionResult
	err   error
	calls atomic.Int32
	hang  bool
}

func (s *stubExtractor) Extract(ctx context.Context, _ extract.Document) (entity.ExtractionResult, error) {
	s.calls.Add(1)
	if s.hang {
		<-ctx.Done()
		return entity.ExtractionResult{}, ctx.Err()
	}
	return s.res, s.err
}

type stubAuth struct{ res extract.AuthResult }

func (s stubAuth) Check(context.Context, extract.Document) (extract.AuthResult, error) { return s.res, nil }

type recordingRetrier struct {
	tokens []string
}

func (r *recordingRetrier) EnqueueLinkRetry(_ context.Context, token, _ string) error {
	r.tokens = append(r.tokens, token)
	return nil
}

type harness struct {
	p         *Pipeline
	store     *receiptstore.Store
	ledger    *fakeLedger
	extractor *stubExtractor
	retrier   *recordingRetrier
}

func newHarness(t *testing.T, ex entity.ExtractionResult) *harness {
	t.Helper()
	store := receiptstore.New(receiptstore.NewMemoryBackend(), nil, receiptstore.WithEvictionInterval(0))
	t.Cleanup(func() { _ = store.Close() })
	ledger := &fakeLedger{}
	h := &harness{
		store:     store,
		ledger:    ledger,
		extractor: &stubExtractor{res: ex},
		retrier:   &recordingRetrier{},
	}
	h.p = New(Context{
		Validator: validation.NewValidator(nil),
		Extractor: h.extractor,
		Detector:  duplicate.NewDetector(ledger, nil),
		Store:     store,
		Ledger:    ledger,
		Policy:    Policy{MinConfidence: DefaultMinConfidence},
		Retrier:   h.retrier,
	})
	return h
}

func receiptJPEG(t *testing.T) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 400; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func joesDiner(confidence float64) entity.ExtractionResult {
	return entity.ExtractionResult{
		IsPlausibleReceipt: true,
		Merchant:           "Joe's Diner",
		Date:               "2024-03-10",
		TotalAmount:        decimal.RequireFromString("24.50"),
		Subtotal:           decimal.RequireFromString("22.50"),
		Tax:                decimal.RequireFromString("2.00"),
		Category:           constants.FoodDining,
		PaymentMethod:      constants.CreditCard,
		Description:        "Purchase at Joe's Diner",
		Confidence:         confidence,
	}
}

func (h *harness) upload(t *testing.T) Outcome {
	t.Helper()
	out, err := h.p.Process(context.Background(), Upload{OwnerID: owner, Filename: "lunch.jpg", Content: receiptJPEG(t)})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	return out
}

func (h *harness) stored(t *testing.T) int {
	t.Helper()
	st, err := h.store.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	return st.Total
}

func TestCleanReceiptIsAutoCreated(t *testing.T) {
	h := newHarness(t, joesDiner(0.92))
	out := h.upload(t)
	if out.Kind != KindAutoCreated || out.State != constants.StateAutoCreated || out.Entry == nil || out.Token == "" {
		t.Fatalf("expected auto-created outcome, got %+v", out)
	}
	if out.Entry.Description != "Joe's Diner" || !out.Entry.Amount.Equal(decimal.RequireFromString("24.50")) || out.Entry.ReceiptToken != out.Token {
		t.Fatalf("unexpected ledger entry %+v", out.Entry)
	}
	rec, err := h.store.Get(context.Background(), out.Token, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.LinkedEntryID != out.Entry.ID || rec.Status != constants.ReceiptStatusProcessed || rec.ContentType != constants.MimeJPEG {
		t.Fatalf("stored receipt not linked: %+v", rec.Meta())
	}
}

func TestLowConfidenceNeedsReview(t *testing.T) {
	h := newHarness(t, joesDiner(0.55))
	out := h.upload(t)
	if out.Kind != KindPendingReview || out.Token == "" || out.Extraction == nil || out.Confidence != 0.55 {
		t.Fatalf("expected pending review, got %+v", out)
	}
	if h.ledger.count() != 0 {
		t.Fatalf("no ledger entry may be created")
	}
	if h.stored(t) != 1 {
		t.Fatalf("receipt must be stored for review")
	}
}

func TestPolicy(t *testing.T) {
	p := Policy{MinConfidence: 0.8}
	cases := []struct {
		name string
		mod  func(*entity.ExtractionResult)
		want bool
	}{
		{"clean", func(*entity.ExtractionResult) {}, true},
		{"at threshold", func(e *entity.ExtractionResult) { e.Confidence = 0.8 }, true},
		{"zero total", func(e *entity.ExtractionResult) { e.TotalAmount = decimal.Zero }, false},
		{"blank merchant", func(e *entity.ExtractionResult) { e.Merchant = "  " }, false},
		{"warnings", func(e *entity.ExtractionResult) { e.Warnings = []string{"Future date detected"} }, false},
	}
	for _, tc := range cases {
		ex := joesDiner(0.92)
		tc.mod(&ex)
		if got, _ := p.Eligible(ex); got != tc.want {
			t.Fatalf("%s: eligible=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEncryptedPDFIsRejectedBeforeExtraction(t *testing.T) {
	h := newHarness(t, joesDiner(0.92))
	pdf := []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R /Encrypt 9 0 R >>\n%%EOF\n")
	pdf = append(pdf, bytes.Repeat([]byte("% padding\n"), 20)...)

	out, err := h.p.Process(context.Background(), Upload{OwnerID: owner, Filename: "locked.pdf", Content: pdf})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Kind != KindRejected || out.Stage != constants.StageScan || out.Reason != "encrypted PDF not allowed" {
		t.Fatalf("expected scan rejection, got %+v", out)
	}
	if h.extractor.calls.Load() != 0 || h.stored(t) != 0 {
		t.Fatalf("rejected uploads must not reach extraction or storage")
	}
}

func TestNearDuplicateIsNotStored(t *testing.T) {
	h := newHarness(t, joesDiner(0.92))
	date, _ := utils.ParseYMD("2024-03-10")
	h.ledger.entries = append(h.ledger.entries, entity.LedgerEntry{
		ID: "existing", OwnerID: owner, Description: "Joe's Diner",
		Amount: decimal.RequireFromString("24.87"), Date: date,
	})

	out := h.upload(t)
	if out.Kind != KindDuplicateFound || out.Duplicate == nil || !out.Duplicate.IsDuplicate || out.Duplicate.BestMatch != "existing" {
		t.Fatalf("expected duplicate, got %+v", out)
	}
	if h.stored(t) != 0 || h.ledger.count() != 1 {
		t.Fatalf("duplicates must not be stored or created")
	}
}

func TestExtractionTimeoutRejects(t *testing.T) {
	h := newHarness(t, joesDiner(0.92))
	h.extractor.hang = true
	resilient := extract.NewResilient(h.extractor, extract.RetryConfig{
		Timeout: 20 * time.Millisecond, MaxRetries: 1, BackoffInitial: time.Millisecond, BackoffMax: time.Millisecond,
	}, nil)
	h.p.pc.Extractor = resilient

	out := h.upload(t)
	if out.Kind != KindRejected || out.Stage != constants.StageExtraction || out.Reason != extract.ReasonServiceTimeout {
		t.Fatalf("expected service timeout rejection, got %+v", out)
	}
	if h.stored(t) != 0 || h.ledger.count() != 0 {
		t.Fatalf("a timeout must leave no partial state")
	}
}

func TestPermanentExtractionErrorIsNotATimeout(t *testing.T) {
	h := newHarness(t, joesDiner(0.92))
	h.extractor.err = &extract.StatusError{Code: 401, Body: "invalid api key"}
	h.p.pc.Extractor = extract.NewResilient(h.extractor, extract.RetryConfig{
		Timeout: time.Second, MaxRetries: 2, BackoffInitial: time.Millisecond, BackoffMax: time.Millisecond,
	}, nil)

	out := h.upload(t)
	if out.Kind != KindRejected || out.Stage != constants.StageExtraction || out.Reason != reasonExtractionFailed {
		t.Fatalf("expected extraction failed rejection, got %+v", out)
	}
	if h.extractor.calls.Load() != 1 {
		t.Fatalf("a 401 must not be retried, got %d calls", h.extractor.calls.Load())
	}
}

func TestCollaboratorRejections(t *testing.T) {
	h := newHarness(t, joesDiner(0.92))
	h.p.pc.Authenticator = stubAuth{res: extract.AuthResult{Valid: false, Reason: "screenshot of a web page"}}
	out := h.upload(t)
	if out.Kind != KindRejected || out.Stage != constants.StageAuthentic || out.Reason != "screenshot of a web page" {
		t.Fatalf("expected authenticity rejection, got %+v", out)
	}
	if h.extractor.calls.Load() != 0 {
		t.Fatalf("authenticity must precede extraction")
	}

	h = newHarness(t, entity.ExtractionResult{IsPlausibleReceipt: false})
	out = h.upload(t)
	if out.Kind != KindRejected || out.Stage != constants.StageExtraction || out.Reason != "not a receipt" || h.stored(t) != 0 {
		t.Fatalf("expected not-a-receipt rejection, got %+v", out)
	}
}

func TestLedgerFailureFallsBackToReviewThenRetries(t *testing.T) {
	h := newHarness(t, joesDiner(0.92))
	h.ledger.failCreate = fmt.Errorf("%w: connection refused", common.ErrLedgerUnavailable)

	out := h.upload(t)
	if out.Kind != KindPendingReview || out.Reason != "ledger unavailable" {
		t.Fatalf("expected pending review after ledger failure, got %+v", out)
	}
	if len(h.retrier.tokens) != 1 || h.retrier.tokens[0] != out.Token {
		t.Fatalf("expected one link retry for the token, got %v", h.retrier.tokens)
	}

	h.ledger.failCreate = nil
	res, err := h.p.CreateFromToken(context.Background(), out.Token, owner, Overrides{})
	if err != nil || res.Entry == nil || res.Entry.ReceiptToken != out.Token {
		t.Fatalf("create from token: %+v, %v", res, err)
	}
	if _, err := h.p.CreateFromToken(context.Background(), out.Token, owner, Overrides{}); !errors.Is(err, common.ErrAlreadyLinked) {
		t.Fatalf("second create must refuse, got %v", err)
	}
	if h.ledger.count() != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", h.ledger.count())
	}
}

func TestCreateFromTokenOverridesAndOwnership(t *testing.T) {
	h := newHarness(t, joesDiner(0.55))
	out := h.upload(t)

	if _, err := h.p.CreateFromToken(context.Background(), out.Token, "owner-b", Overrides{}); !errors.Is(err, common.ErrNotFoundOrExpired) {
		t.Fatalf("foreign owner must see not found, got %v", err)
	}

	zero := decimal.Zero
	if _, err := h.p.CreateFromToken(context.Background(), out.Token, owner, Overrides{Amount: &zero}); !common.IsValidationError(err) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}

	amount := decimal.RequireFromString("26.00")
	date := time.Date(2024, 3, 11, 15, 30, 0, 0, time.UTC)
	res, err := h.p.CreateFromToken(context.Background(), out.Token, owner, Overrides{
		Description: "Team lunch", Amount: &amount, Date: &date, Notes: "client visit",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	e := res.Entry
	if e.Description != "Team lunch" || !e.Amount.Equal(amount) || utils.FormatYMD(e.Date) != "2024-03-11" || e.Notes != "client visit" {
		t.Fatalf("overrides not applied: %+v", e)
	}
	if e.Category != string(constants.FoodDining) || e.PaymentMethod != string(constants.CreditCard) {
		t.Fatalf("extraction fields must fill the gaps: %+v", e)
	}
}

type downStore struct{ ReceiptStore }

func (downStore) Put(context.Context, receiptstore.PutRequest) (string, error) {
	return "", common.StorageError("insert receipt", errors.New("disk full"))
}

func TestStorageFailureIsAnError(t *testing.T) {
	h := newHarness(t, joesDiner(0.92))
	h.p.pc.Store = downStore{h.store}
	_, err := h.p.Process(context.Background(), Upload{OwnerID: owner, Filename: "lunch.jpg", Content: receiptJPEG(t)})
	if !errors.Is(err, common.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
	if h.ledger.count() != 0 {
		t.Fatalf("no ledger entry without storage")
	}

	if _, err := h.p.Process(context.Background(), Upload{Filename: "x.jpg"}); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("expected missing owner to be invalid input, got %v", err)
	}
}

func TestOwnerLocksSerializeAndRelease(t *testing.T) {
	locks := NewOwnerLocks()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(owner)
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Fatalf("expected mutual exclusion, saw %d concurrent holders", maxInside.Load())
	}
	if locks.held() != 0 {
		t.Fatalf("expected lock table to drain, %d left", locks.held())
	}
}
