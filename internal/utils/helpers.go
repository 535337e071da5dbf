package utils

import (
	"strings"
	"time"
)

const layoutYMD = "2006-01-02"

// receipt dates come back from extraction in any of these shapes
var receiptDateLayouts = []string{
	layoutYMD,
	"01/02/2006",
	"02/01/2006",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339,
}

func ParseYMD(s string) (time.Time, error) {
	t, err := time.ParseInLocation(layoutYMD, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	// strip time to midnight UTC to match DATE semantics
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// ParseReceiptDate accepts the layouts receipts commonly use and returns a
// midnight-UTC date. Month-first wins when a date is ambiguous.
func ParseReceiptDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range receiptDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return DateOnly(t), true
		}
	}
	if i := strings.IndexAny(s, "T "); i > 0 {
		if t, err := ParseYMD(s[:i]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func FormatYMD(t time.Time) string {
	return t.Format(layoutYMD)
}

func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween is the absolute calendar-day distance between two dates.
func DaysBetween(a, b time.Time) int {
	d := DateOnly(a).Sub(DateOnly(b)).Hours() / 24
	if d < 0 {
		d = -d
	}
	return int(d + 0.5)
}
