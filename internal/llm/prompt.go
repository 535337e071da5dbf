package llm

import (
	"strings"
)

const maxPromptText = 3000

// BuildSystemPrompt composes the receipt analysis instructions with the allowed
// category and payment enums and a short category rubric.
func BuildSystemPrompt(categories, paymentMethods []string) string {
	var catLine string
	if len(categories) > 0 {
		catLine = "'category' MUST be exactly one of: " + strings.Join(categories, ", ") + ". If uncertain, choose 'Other'."
	} else {
		catLine = "'category' is a short, sensible label. If uncertain, use 'Other'."
	}
	var payLine string
	if len(paymentMethods) > 0 {
		payLine = "'payment_method' MUST be exactly one of: " + strings.Join(paymentMethods, ", ") + "."
	}

	parts := []string{
		"You are an expert receipt analyst. Return ONLY JSON that matches the provided JSON Schema.",
		"First decide whether the document is a genuine purchase receipt. If it is not, return {\"is_receipt\": false, \"error\": \"<short reason>\", \"merchant\": \"\", \"date\": \"\", \"total_amount\": 0}.",
		"Extract the merchant or store name, the transaction date as YYYY-MM-DD, the final total paid, the subtotal before tax and the tax amount.",
		"List each line item with name, unit price and quantity (default quantity 1).",
		catLine,
		"Category selection rubric: " + buildCategoryRubric(categories),
		payLine,
		"Set 'confidence' between 0 and 1 for how clearly the receipt could be read.",
		"Be precise with numbers; use numbers, not strings, for money.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(nonEmpty(parts), " ")
}

// BuildUserPrompt packages the filename hint and, for text-bearing PDFs, the
// extracted text. When the document itself is attached the text is omitted.
func BuildUserPrompt(filename, text string, attached bool) string {
	var b strings.Builder
	if f := strings.TrimSpace(filename); f != "" {
		b.WriteString("Filename: ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	if attached {
		b.WriteString("\nThe receipt is attached. Analyze it and extract the purchase details.\n")
		return b.String()
	}
	text = strings.TrimSpace(text)
	b.WriteString("\nReceipt text (first ~3k chars):\n")
	if len(text) > maxPromptText {
		b.WriteString(text[:maxPromptText])
		b.WriteString("\n…(truncated)")
	} else {
		b.WriteString(text)
	}
	return b.String()
}

// BuildAuthenticitySystemPrompt asks for a yes/no verdict on whether the
// document is a real, unaltered purchase receipt.
func BuildAuthenticitySystemPrompt() string {
	return strings.Join([]string{
		"You verify uploaded expense documents. Return ONLY JSON matching the provided JSON Schema.",
		"Set 'valid' to true only when the document is a genuine purchase receipt or invoice showing a merchant and an amount paid.",
		"Set 'valid' to false for screenshots of unrelated content, blank pages, photos without a receipt, or documents that look edited.",
		"When 'valid' is false give a short 'reason'.",
	}, " ")
}

func buildCategoryRubric(allowed []string) string {
	defs := map[string]string{
		"Food & Dining":  "Restaurants, cafes, groceries, food delivery.",
		"Transportation": "Fuel, parking, tolls, taxis, ride-share, transit, airfare.",
		"Shopping":       "Retail goods, clothing, electronics, household items.",
		"Entertainment":  "Movies, concerts, events, streaming, games.",
		"Utilities":      "Electricity, water, internet, phone bills.",
		"Healthcare":     "Pharmacy, clinics, medical supplies.",
		"Education":      "Tuition, courses, books for study.",
		"Other":          "Use only when nothing else applies unambiguously.",
	}

	var parts []string
	for _, c := range allowed {
		if d, ok := defs[c]; ok {
			parts = append(parts, c+": "+d)
		}
	}
	if hasAll(allowed, "Food & Dining", "Shopping") {
		parts = append(parts, "Tie-breaker: supermarket receipts that are mostly food → 'Food & Dining'; otherwise 'Shopping'.")
	}
	if len(parts) == 0 {
		return "Use item names to pick the closest category; if uncertain, choose 'Other'."
	}
	return strings.Join(parts, " | ")
}

func hasAll(list []string, a, b string) bool {
	foundA, foundB := false, false
	for _, x := range list {
		if x == a {
			foundA = true
		}
		if x == b {
			foundB = true
		}
	}
	return foundA && foundB
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
