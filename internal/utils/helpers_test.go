package utils

import (
	"testing"
	"time"
)

func TestParseReceiptDate(t *testing.T) {
	want := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-07", "03/07/2024", "2024/03/07", "2024-03-07T18:22:01", "2024-03-07 09:15:00"} {
		got, ok := ParseReceiptDate(in)
		if !ok || !got.Equal(want) {
			t.Fatalf("ParseReceiptDate(%q) = %v, %v", in, got, ok)
		}
	}

	// day-first only parses when month-first cannot
	got, ok := ParseReceiptDate("25/12/2023")
	if !ok || got.Month() != time.December || got.Day() != 25 {
		t.Fatalf("expected day-first fallback, got %v %v", got, ok)
	}

	if _, ok := ParseReceiptDate("last tuesday"); ok {
		t.Fatalf("expected unparseable date")
	}
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	b := time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC)
	if d := DaysBetween(a, b); d != 3 {
		t.Fatalf("expected 3 days, got %d", d)
	}
	if DaysBetween(a, b) != DaysBetween(b, a) {
		t.Fatalf("DaysBetween must be symmetric")
	}
}
