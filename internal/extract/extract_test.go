package extract

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipt-intake/constants"
	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
)

var refNow = time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func conf(f float64) *float64 { return &f }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func cleanRaw() Raw {
	return Raw{
		Merchant:      "Joe's Diner",
		Date:          "03/10/2024",
		TotalAmount:   dec("24.50"),
		Subtotal:      dec("22.50"),
		Tax:           dec("2.00"),
		Items:         []RawItem{{Name: "Burger", Price: dec("12.50"), Quantity: 1}, {Name: "Fries", Price: dec("5.00"), Quantity: 2}},
		Category:      "restaurant",
		PaymentMethod: "VISA ending 4242",
		Confidence:    conf(0.92),
	}
}

func TestFinalizeCleanReceipt(t *testing.T) {
	res := Finalize(cleanRaw(), refNow)
	if !res.IsPlausibleReceipt || len(res.Warnings) != 0 {
		t.Fatalf("expected clean result, got %+v", res)
	}
	if res.Date != "2024-03-10" || res.Category != constants.FoodDining || res.PaymentMethod != constants.CreditCard {
		t.Fatalf("canonicalization off: %+v", res)
	}
	if !near(res.Confidence, 0.92) || res.Description != "2 items at Joe's Diner" {
		t.Fatalf("unexpected confidence/description: %v %q", res.Confidence, res.Description)
	}
	if !strings.HasPrefix(res.ConfidenceExplanation, "High confidence") {
		t.Fatalf("unexpected explanation %q", res.ConfidenceExplanation)
	}
}

func TestFinalizeWarningsLowerConfidence(t *testing.T) {
	raw := cleanRaw()
	// suspicious merchant costs 0.4, each arithmetic mismatch 0.1
	raw.Merchant = "Test Kitchen"
	raw.TotalAmount = dec("30.00")
	raw.Items = []RawItem{{Name: "Soup", Price: dec("5.00")}}
	res := Finalize(raw, refNow)
	want := []string{
		"Suspicious merchant name detected",
		"Subtotal + tax doesn't match total",
		"Individual items don't sum to subtotal",
	}
	if len(res.Warnings) != len(want) {
		t.Fatalf("expected %v, got %v", want, res.Warnings)
	}
	for i := range want {
		if res.Warnings[i] != want[i] {
			t.Fatalf("warning %d = %q, want %q", i, res.Warnings[i], want[i])
		}
	}
	if !near(res.Confidence, 0.32) {
		t.Fatalf("expected confidence 0.32, got %v", res.Confidence)
	}
	if res.Items[0].Quantity != 1 {
		t.Fatalf("quantity must default to 1")
	}
}

func TestFinalizeDatesAndFloors(t *testing.T) {
	raw := cleanRaw()
	raw.Date = "2024-03-20"
	raw.Merchant = "Fake Store"
	raw.TotalAmount = dec("-5")
	raw.Subtotal = decimal.Zero
	raw.Items = nil
	res := Finalize(raw, refNow)
	if res.Confidence != 0 {
		t.Fatalf("critical warnings must floor confidence at 0, got %v (%v)", res.Confidence, res.Warnings)
	}

	raw = cleanRaw()
	raw.Date = "sometime last week"
	res = Finalize(raw, refNow)
	if res.Date != "" || len(res.Warnings) != 1 || res.Warnings[0] != "Invalid date format" {
		t.Fatalf("unexpected invalid-date handling: %+v", res)
	}

	raw = cleanRaw()
	raw.Merchant = " "
	raw.Confidence = conf(1.7)
	res = Finalize(raw, refNow)
	if !near(res.Confidence, 0.8) || res.Warnings[0] != "Missing or very short merchant name" {
		t.Fatalf("expected clamp then moderate penalty, got %v %v", res.Confidence, res.Warnings)
	}
}

func TestFinalizeItemsAndEnums(t *testing.T) {
	raw := cleanRaw()
	raw.Subtotal = decimal.Zero
	raw.Items = []RawItem{{Name: "", Price: dec("3.00")}, {Name: "Free refill", Price: decimal.Zero}, {Name: "Refund", Price: dec("-1")}}
	raw.Category = "healthcare services"
	raw.PaymentMethod = "Apple Pay"
	res := Finalize(raw, refNow)
	if len(res.Items) != 1 || res.Items[0].Name != "Unknown Item" {
		t.Fatalf("unexpected items %+v", res.Items)
	}
	if res.Description != "Unknown Item at Joe's Diner" {
		t.Fatalf("unexpected description %q", res.Description)
	}
	if res.Category != constants.Healthcare || res.PaymentMethod != constants.DigitalWallet {
		t.Fatalf("unexpected enums %q %q", res.Category, res.PaymentMethod)
	}
	raw.Category = "spaceships"
	raw.PaymentMethod = "barter"
	res = Finalize(raw, refNow)
	if res.Category != constants.Other || res.PaymentMethod != constants.OtherPayment {
		t.Fatalf("expected fallbacks, got %q %q", res.Category, res.PaymentMethod)
	}
}

func TestFinalizeNotPlausible(t *testing.T) {
	no := false
	res := Finalize(Raw{IsReceipt: &no, Error: "photo of a cat", TotalAmount: dec("99")}, refNow)
	if res.IsPlausibleReceipt || res.Merchant != "N/A" || res.Date != "1900-01-01" || !res.TotalAmount.IsZero() || res.Confidence != 0 {
		t.Fatalf("unexpected non-plausible result %+v", res)
	}
}

type stubExtractor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int32) (entity.ExtractionResult, error)
}

func (s *stubExtractor) Extract(ctx context.Context, _ Document) (entity.ExtractionResult, error) {
	return s.fn(ctx, s.calls.Add(1))
}

var fastRetry = RetryConfig{Timeout: 30 * time.Millisecond, MaxRetries: 2, BackoffInitial: time.Millisecond, BackoffMax: 2 * time.Millisecond}

func ok(merchant string) entity.ExtractionResult {
	return entity.ExtractionResult{IsPlausibleReceipt: true, Merchant: merchant}
}

func TestResilientRetriesTransient(t *testing.T) {
	primary := &stubExtractor{fn: func(_ context.Context, call int32) (entity.ExtractionResult, error) {
		if call < 3 {
			return entity.ExtractionResult{}, &StatusError{Code: 429, Body: "slow down"}
		}
		return ok("Joe's Diner"), nil
	}}
	res, err := NewResilient(primary, fastRetry, nil).Extract(context.Background(), Document{})
	if err != nil || res.Merchant != "Joe's Diner" || primary.calls.Load() != 3 {
		t.Fatalf("expected success on third attempt, got %+v, %v after %d calls", res, err, primary.calls.Load())
	}
}

func TestResilientDoesNotRetryClientErrors(t *testing.T) {
	primary := &stubExtractor{fn: func(context.Context, int32) (entity.ExtractionResult, error) {
		return entity.ExtractionResult{}, &StatusError{Code: 400, Body: "bad request"}
	}}
	_, err := NewResilient(primary, fastRetry, nil).Extract(context.Background(), Document{})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 400 || primary.calls.Load() != 1 {
		t.Fatalf("expected a single attempt returning the 400, got %v after %d calls", err, primary.calls.Load())
	}
	if errors.Is(err, common.ErrExtractionUnavailable) {
		t.Fatalf("a client error is not an outage: %v", err)
	}
}

func TestResilientPermanentErrorsAreNotUnavailable(t *testing.T) {
	unauthorized := &StatusError{Code: 401, Body: "invalid api key"}
	primary := &stubExtractor{fn: func(context.Context, int32) (entity.ExtractionResult, error) {
		return entity.ExtractionResult{}, unauthorized
	}}
	_, err := NewResilient(primary, fastRetry, nil).Extract(context.Background(), Document{})
	if !errors.Is(err, unauthorized) || errors.Is(err, common.ErrExtractionUnavailable) {
		t.Fatalf("expected the 401 unwrapped, got %v", err)
	}

	r := NewResilient(nil, fastRetry, nil, WithAuthenticator(stubAuth{err: unauthorized}))
	if _, err := r.Check(context.Background(), Document{}); !errors.Is(err, unauthorized) || errors.Is(err, common.ErrExtractionUnavailable) {
		t.Fatalf("expected the 401 unwrapped from Check, got %v", err)
	}
}

func TestResilientTimeoutFallsBackOnce(t *testing.T) {
	hang := func(ctx context.Context, _ int32) (entity.ExtractionResult, error) {
		<-ctx.Done()
		return entity.ExtractionResult{}, ctx.Err()
	}
	primary := &stubExtractor{fn: hang}
	fallback := &stubExtractor{fn: func(context.Context, int32) (entity.ExtractionResult, error) {
		return ok("Fallback Diner"), nil
	}}
	res, err := NewResilient(primary, fastRetry, nil, WithFallback(fallback)).Extract(context.Background(), Document{})
	if err != nil || res.Merchant != "Fallback Diner" {
		t.Fatalf("expected fallback result, got %+v, %v", res, err)
	}
	if primary.calls.Load() != 3 || fallback.calls.Load() != 1 {
		t.Fatalf("expected 3 primary attempts and 1 fallback, got %d and %d", primary.calls.Load(), fallback.calls.Load())
	}

	slowFallback := &stubExtractor{fn: hang}
	_, err = NewResilient(&stubExtractor{fn: hang}, fastRetry, nil, WithFallback(slowFallback)).Extract(context.Background(), Document{})
	var appErr *common.AppError
	if !errors.Is(err, common.ErrExtractionUnavailable) || !errors.As(err, &appErr) || appErr.Message != ReasonServiceTimeout {
		t.Fatalf("expected service timeout, got %v", err)
	}
	if slowFallback.calls.Load() != 1 {
		t.Fatalf("fallback must be attempted exactly once, got %d", slowFallback.calls.Load())
	}
}

func TestResilientMalformedIsNotPlausible(t *testing.T) {
	primary := &stubExtractor{fn: func(context.Context, int32) (entity.ExtractionResult, error) {
		return entity.ExtractionResult{}, errors.Join(ErrMalformedResponse, errors.New("missing merchant"))
	}}
	res, err := NewResilient(primary, fastRetry, nil).Extract(context.Background(), Document{})
	if err != nil || res.IsPlausibleReceipt || primary.calls.Load() != 1 {
		t.Fatalf("expected non-plausible result without retry, got %+v, %v", res, err)
	}
}

type stubAuth struct {
	res AuthResult
	err error
}

func (s stubAuth) Check(context.Context, Document) (AuthResult, error) { return s.res, s.err }

func TestResilientCheck(t *testing.T) {
	r := NewResilient(nil, fastRetry, nil)
	if res, err := r.Check(context.Background(), Document{}); err != nil || !res.Valid {
		t.Fatalf("no authenticator must accept, got %+v, %v", res, err)
	}
	r = NewResilient(nil, fastRetry, nil, WithAuthenticator(stubAuth{res: AuthResult{Valid: false, Reason: "screenshot"}}))
	if res, _ := r.Check(context.Background(), Document{}); res.Valid || res.Reason != "screenshot" {
		t.Fatalf("expected invalid verdict to pass through, got %+v", res)
	}
	r = NewResilient(nil, fastRetry, nil, WithAuthenticator(stubAuth{err: &StatusError{Code: 503}}))
	if _, err := r.Check(context.Background(), Document{}); !errors.Is(err, common.ErrExtractionUnavailable) {
		t.Fatalf("expected unavailable after retries, got %v", err)
	}
	if res, _ := (AllowAll{}).Check(context.Background(), Document{}); !res.Valid {
		t.Fatalf("AllowAll must accept")
	}
}
