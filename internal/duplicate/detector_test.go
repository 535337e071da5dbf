package duplicate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipt-intake/internal/entity"
)

type fakeLedger struct {
	entries []entity.LedgerEntry
	err     error
}

func (f *fakeLedger) ListEntries(_ context.Context, ownerID string) ([]entity.LedgerEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []entity.LedgerEntry
	for _, e := range f.entries {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func entry(id, desc, amount, date string) entity.LedgerEntry {
	return entity.LedgerEntry{
		ID:          id,
		OwnerID:     "owner-1",
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Date:        day(date),
	}
}

func extraction(merchant, amount, date string) entity.ExtractionResult {
	return entity.ExtractionResult{
		IsPlausibleReceipt: true,
		Merchant:           merchant,
		TotalAmount:        decimal.RequireFromString(amount),
		Date:               date,
	}
}

func TestNormalizeMerchant(t *testing.T) {
	cases := map[string]string{
		"Joe's Diner LLC":     "joe s diner",
		"Starbucks #1234":     "starbucks",
		"Target - Downtown":   "target",
		"Blue Bottle Coffee":  "blue bottle",
		"COSTCO":              "costco",
		"  Whole   Foods Inc.": "whole foods",
		"":                    "",
	}
	for in, want := range cases {
		if got := NormalizeMerchant(in); got != want {
			t.Fatalf("NormalizeMerchant(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestComponentScores(t *testing.T) {
	if s := MerchantSimilarity("Joe's Diner", "JOES DINER!"); s < 0.8 {
		t.Fatalf("expected close merchants, got %v", s)
	}
	if s := MerchantSimilarity("Whole Foods", "Whole Foods Downtown"); s != 0.9 {
		t.Fatalf("expected containment score 0.9, got %v", s)
	}
	amt := decimal.RequireFromString
	amountCases := []struct {
		a, b string
		want float64
	}{
		{"24.50", "24.50", 1.0},
		{"100.00", "101.50", 1.0},
		{"100.00", "96.00", 0.8},
		{"100.00", "92.00", 0.6},
		{"100.00", "85.00", 0.3},
		{"100.00", "50.00", 0},
		{"0", "50.00", 0},
	}
	for _, c := range amountCases {
		if got := AmountSimilarity(amt(c.a), amt(c.b)); got != c.want {
			t.Fatalf("AmountSimilarity(%s, %s) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
	dateCases := map[string]float64{
		"2024-03-10": 1.0,
		"2024-03-11": 0.9,
		"2024-03-07": 0.7,
		"2024-03-03": 0.5,
		"2024-02-20": 0.2,
		"2023-12-01": 0,
	}
	for d, want := range dateCases {
		if got := DateSimilarity(day("2024-03-10"), day(d)); got != want {
			t.Fatalf("DateSimilarity(%s) = %v, want %v", d, got, want)
		}
	}
}

func TestSimilarityIsSymmetric(t *testing.T) {
	pairs := [][2]Candidate{
		{{"Joe's Diner", decimal.RequireFromString("24.50"), day("2024-03-10")}, {"Joes Diner Restaurant", decimal.RequireFromString("25.10"), day("2024-03-12")}},
		{{"Shell", decimal.RequireFromString("40"), day("2024-01-01")}, {"Shell Oil - Route 9", decimal.RequireFromString("38"), day("2024-01-09")}},
		{{"Trader Joe's", decimal.RequireFromString("61.12"), day("2024-05-05")}, {"Joe's Trading Post", decimal.RequireFromString("61.12"), day("2024-05-05")}},
	}
	for _, p := range pairs {
		ab, ba := Similarity(p[0], p[1]), Similarity(p[1], p[0])
		if ab != ba {
			t.Fatalf("asymmetric score for %q/%q: %+v vs %+v", p[0].Merchant, p[1].Merchant, ab, ba)
		}
	}
}

func TestScoreIdenticalIsDuplicate(t *testing.T) {
	d := NewDetector(&fakeLedger{entries: []entity.LedgerEntry{
		entry("e-1", "Joe's Diner", "24.50", "2024-03-10"),
	}}, nil)
	v, err := d.Score(context.Background(), extraction("Joe's Diner", "24.50", "2024-03-10"), "owner-1")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !v.IsDuplicate || v.Confidence != 1.0 || v.BestMatch != "e-1" {
		t.Fatalf("expected exact duplicate, got %+v", v)
	}
}

func TestScoreNearAmountIsDuplicate(t *testing.T) {
	d := NewDetector(&fakeLedger{entries: []entity.LedgerEntry{
		entry("e-1", "Joe's Diner", "100.00", "2024-03-10"),
	}}, nil)
	v, err := d.Score(context.Background(), extraction("Joe's Diner", "101.50", "2024-03-10"), "owner-1")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !v.IsDuplicate || v.Confidence != 1.0 {
		t.Fatalf("expected 1.5%% difference to be a duplicate, got %+v", v)
	}
}

func TestScoreNearMatchesOrdering(t *testing.T) {
	d := NewDetector(&fakeLedger{entries: []entity.LedgerEntry{
		entry("d", "Joe's Diner", "85.00", "2024-03-10"),
		entry("c", "Joe's Diner", "96.00", "2024-05-10"),
		entry("a", "Joe's Diner", "92.00", "2024-03-11"),
		entry("e", "Shell Gas", "100.00", "2024-03-10"),
		entry("b", "Joe's Diner", "92.00", "2024-03-03"),
	}}, nil)
	v, err := d.Score(context.Background(), extraction("Joe's Diner", "100.00", "2024-03-10"), "owner-1")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if v.IsDuplicate {
		t.Fatalf("expected no duplicate, got %+v", v)
	}
	if v.BestMatch != "a" || v.Confidence != 0.845 {
		t.Fatalf("unexpected best match %q (%v)", v.BestMatch, v.Confidence)
	}
	want := []string{"a", "b", "c"}
	if len(v.NearMatches) != len(want) {
		t.Fatalf("expected %d near matches, got %+v", len(want), v.NearMatches)
	}
	for i, id := range want {
		if v.NearMatches[i].EntryID != id {
			t.Fatalf("near match %d = %q, want %q (%+v)", i, v.NearMatches[i].EntryID, id, v.NearMatches)
		}
		if i > 0 && v.NearMatches[i].Similarity > v.NearMatches[i-1].Similarity {
			t.Fatalf("near matches not sorted descending: %+v", v.NearMatches)
		}
	}
}

func TestScoreNoSignal(t *testing.T) {
	ctx := context.Background()

	v, err := NewDetector(&fakeLedger{}, nil).Score(ctx, extraction("Joe's Diner", "24.50", "2024-03-10"), "owner-1")
	if err != nil || v.IsDuplicate || v.Confidence != 0 || v.Reason == "" {
		t.Fatalf("expected no-signal verdict for empty ledger, got %+v, %v", v, err)
	}

	ledger := &fakeLedger{entries: []entity.LedgerEntry{entry("e-1", "Joe's Diner", "24.50", "2024-03-10")}}
	v, err = NewDetector(ledger, nil).Score(ctx, extraction("", "24.50", "2024-03-10"), "owner-1")
	if err != nil || v.IsDuplicate || v.Confidence != 0 {
		t.Fatalf("expected no-signal verdict for missing merchant, got %+v, %v", v, err)
	}
	v, _ = NewDetector(ledger, nil).Score(ctx, extraction("Joe's Diner", "24.50", "sometime"), "owner-1")
	if v.IsDuplicate || v.Confidence != 0 {
		t.Fatalf("expected no-signal verdict for unparseable date, got %+v", v)
	}

	v, err = NewDetector(&fakeLedger{err: errors.New("connection reset")}, nil).Score(ctx, extraction("Joe's Diner", "24.50", "2024-03-10"), "owner-1")
	if err != nil || v.IsDuplicate || v.Reason != "ledger unavailable" {
		t.Fatalf("expected ledger unavailable verdict, got %+v, %v", v, err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := NewDetector(&fakeLedger{err: context.Canceled}, nil).Score(cancelled, extraction("Joe's Diner", "24.50", "2024-03-10"), "owner-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestScoreIgnoresOtherOwners(t *testing.T) {
	other := entry("x-1", "Joe's Diner", "24.50", "2024-03-10")
	other.OwnerID = "owner-2"
	d := NewDetector(&fakeLedger{entries: []entity.LedgerEntry{other}}, nil)
	v, _ := d.Score(context.Background(), extraction("Joe's Diner", "24.50", "2024-03-10"), "owner-1")
	if v.IsDuplicate {
		t.Fatalf("entries of another owner must not match: %+v", v)
	}
}
