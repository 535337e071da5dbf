package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipt-intake/constants"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
	"github.com/joseph-ayodele/receipt-intake/internal/utils"
)

const (
	defaultConfidence = 0.5
	maxPlausibleTotal = 10000
	maxReceiptAgeDays = 365 * 5
	unknownItem       = "Unknown Item"
)

var (
	roundingTolerance = decimal.RequireFromString("0.02")
	suspiciousWords   = []string{"test", "sample", "example", "fake"}
	criticalMarkers   = []string{"negative", "future date", "suspicious", "fake"}
	moderateMarkers   = []string{"inconsistent", "missing", "unreasonable"}
)

// Finalize canonicalizes a model reply into an ExtractionResult: enums,
// dates and items are cleaned, plausibility warnings are added and each
// warning lowers the confidence.
func Finalize(raw Raw, now time.Time) entity.ExtractionResult {
	if raw.IsReceipt != nil && !*raw.IsReceipt {
		return notPlausible(raw.Error)
	}

	res := entity.ExtractionResult{
		IsPlausibleReceipt: true,
		Merchant:           strings.TrimSpace(raw.Merchant),
		TotalAmount:        raw.TotalAmount,
		Subtotal:           raw.Subtotal,
		Tax:                raw.Tax,
		Items:              cleanItems(raw.Items),
		PaymentMethod:      constants.CanonicalPaymentMethod(raw.PaymentMethod),
		Confidence:         defaultConfidence,
	}
	res.Category, _ = constants.Canonicalize(raw.Category)
	if raw.Confidence != nil {
		res.Confidence = clamp01(*raw.Confidence)
	}

	date, dateOK := utils.ParseReceiptDate(raw.Date)
	if dateOK {
		res.Date = utils.FormatYMD(date)
	}

	res.Warnings = plausibilityWarnings(res, date, dateOK, now)
	for _, w := range res.Warnings {
		res.Confidence -= warningPenalty(w)
	}
	if res.Confidence < 0 {
		res.Confidence = 0
	}

	res.Description = describe(res)
	res.ConfidenceExplanation = explain(res)
	return res
}

func notPlausible(reason string) entity.ExtractionResult {
	res := entity.ExtractionResult{
		IsPlausibleReceipt:    false,
		Merchant:              "N/A",
		Date:                  "1900-01-01",
		Category:              constants.Other,
		PaymentMethod:         constants.OtherPayment,
		Description:           "Invalid receipt image",
		ConfidenceExplanation: "Low confidence - image may not be a valid receipt",
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		res.Warnings = []string{reason}
	}
	return res
}

func cleanItems(items []RawItem) []entity.LineItem {
	var out []entity.LineItem
	for _, it := range items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			name = unknownItem
		}
		price := it.Price
		if price.IsNegative() {
			price = decimal.Zero
		}
		qty := it.Quantity
		if qty < 1 {
			qty = 1
		}
		// zero-priced lines carry no purchase information
		if price.IsZero() {
			continue
		}
		out = append(out, entity.LineItem{Name: name, UnitPrice: price, Quantity: qty})
	}
	return out
}

func plausibilityWarnings(res entity.ExtractionResult, date time.Time, dateOK bool, now time.Time) []string {
	var issues []string

	switch {
	case res.TotalAmount.IsNegative():
		issues = append(issues, "Negative total amount detected")
	case res.TotalAmount.GreaterThan(decimal.NewFromInt(maxPlausibleTotal)):
		issues = append(issues, "Unusually high total amount")
	}

	if dateOK {
		days := int(utils.DateOnly(now).Sub(date).Hours() / 24)
		switch {
		case days < -1:
			issues = append(issues, "Future date detected")
		case days > maxReceiptAgeDays:
			issues = append(issues, "Very old receipt date")
		}
	} else {
		issues = append(issues, "Invalid date format")
	}

	merchant := strings.ToLower(res.Merchant)
	if len([]rune(merchant)) < 2 {
		issues = append(issues, "Missing or very short merchant name")
	} else {
		for _, w := range suspiciousWords {
			if strings.Contains(merchant, w) {
				issues = append(issues, "Suspicious merchant name detected")
				break
			}
		}
	}

	if res.Subtotal.IsPositive() && !res.Tax.IsNegative() && res.TotalAmount.IsPositive() {
		if res.Subtotal.Add(res.Tax).Sub(res.TotalAmount).Abs().GreaterThan(roundingTolerance) {
			issues = append(issues, "Subtotal + tax doesn't match total")
		}
	}

	if len(res.Items) > 0 && res.Subtotal.IsPositive() {
		sum := decimal.Zero
		for _, it := range res.Items {
			sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
		if sum.Sub(res.Subtotal).Abs().GreaterThan(roundingTolerance) {
			issues = append(issues, "Individual items don't sum to subtotal")
		}
	}
	return issues
}

func warningPenalty(w string) float64 {
	lw := strings.ToLower(w)
	for _, m := range criticalMarkers {
		if strings.Contains(lw, m) {
			return 0.4
		}
	}
	for _, m := range moderateMarkers {
		if strings.Contains(lw, m) {
			return 0.2
		}
	}
	return 0.1
}

func describe(res entity.ExtractionResult) string {
	switch len(res.Items) {
	case 0:
		return "Purchase at " + res.Merchant
	case 1:
		return res.Items[0].Name + " at " + res.Merchant
	default:
		return fmt.Sprintf("%d items at %s", len(res.Items), res.Merchant)
	}
}

func explain(res entity.ExtractionResult) string {
	switch {
	case res.Confidence >= 0.8:
		return "High confidence - all key receipt elements clearly identified"
	case res.Confidence >= 0.5:
		if len(res.Warnings) > 0 {
			return "Medium confidence - some validation issues: " + strings.Join(firstN(res.Warnings, 2), ", ")
		}
		return "Medium confidence - receipt data partially clear"
	case len(res.Warnings) > 0:
		return "Low confidence - multiple issues: " + strings.Join(firstN(res.Warnings, 3), ", ")
	default:
		return "Low confidence - receipt data unclear or incomplete"
	}
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
