package duplicate

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/agext/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipt-intake/internal/utils"
)

const (
	WeightMerchant = 0.50
	WeightAmount   = 0.35
	WeightDate     = 0.15
)

var (
	reBusinessSuffix = regexp.MustCompile(`(?i)\s*\b(llc|inc|corp|ltd|co|company|restaurant|cafe|coffee|shop|store|market|deli)\.?\s*$`)
	reLocationCode   = regexp.MustCompile(`\s*#\d+\s*$`)
	reAfterDash      = regexp.MustCompile(`\s*-\s*.*$`)
	reNonWord        = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	reSpaces         = regexp.MustCompile(`\s+`)

	cent = decimal.New(1, -2)
	two  = decimal.NewFromInt(2)
)

// Candidate is the comparable projection of an extraction or a ledger entry.
type Candidate struct {
	Merchant string
	Amount   decimal.Decimal
	Date     time.Time
}

// Breakdown holds the component scores behind a total.
type Breakdown struct {
	Merchant float64
	Amount   float64
	Date     float64
	Total    float64
}

// NormalizeMerchant lowercases, strips business suffixes, location codes and
// anything after a dash, then collapses punctuation and whitespace.
func NormalizeMerchant(s string) string {
	n := strings.ToLower(strings.TrimSpace(s))
	if n == "" {
		return ""
	}
	n = reBusinessSuffix.ReplaceAllString(n, "")
	n = reLocationCode.ReplaceAllString(n, "")
	n = reAfterDash.ReplaceAllString(n, "")
	n = reNonWord.ReplaceAllString(n, " ")
	return strings.TrimSpace(reSpaces.ReplaceAllString(n, " "))
}

// MerchantSimilarity compares two raw merchant strings after normalization.
func MerchantSimilarity(a, b string) float64 {
	na, nb := NormalizeMerchant(a), NormalizeMerchant(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.9
	}
	score := levenshtein.Similarity(na, nb, nil)
	if overlap := wordOverlap(na, nb) * 0.8; overlap > score {
		score = overlap
	}
	return score
}

func wordOverlap(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		out[w] = struct{}{}
	}
	return out
}

// AmountSimilarity scores by relative difference against the mean amount.
func AmountSimilarity(a, b decimal.Decimal) float64 {
	if !a.IsPositive() || !b.IsPositive() {
		return 0
	}
	diff := a.Sub(b).Abs()
	if diff.LessThan(cent) {
		return 1.0
	}
	rel, _ := diff.Div(a.Add(b).Div(two)).Float64()
	switch {
	case rel <= 0.02:
		return 1.0
	case rel <= 0.05:
		return 0.8
	case rel <= 0.10:
		return 0.6
	case rel <= 0.20:
		return 0.3
	default:
		return 0
	}
}

// DateSimilarity scores by absolute calendar-day difference.
func DateSimilarity(a, b time.Time) float64 {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	switch d := utils.DaysBetween(a, b); {
	case d == 0:
		return 1.0
	case d <= 1:
		return 0.9
	case d <= 3:
		return 0.7
	case d <= 7:
		return 0.5
	case d <= 30:
		return 0.2
	default:
		return 0
	}
}

// Similarity is the weighted pairwise score. It is symmetric in its arguments.
func Similarity(a, b Candidate) Breakdown {
	bd := Breakdown{
		Merchant: MerchantSimilarity(a.Merchant, b.Merchant),
		Amount:   AmountSimilarity(a.Amount, b.Amount),
		Date:     DateSimilarity(a.Date, b.Date),
	}
	total := bd.Merchant*WeightMerchant + bd.Amount*WeightAmount + bd.Date*WeightDate
	bd.Total = math.Round(total*1e4) / 1e4
	return bd
}
