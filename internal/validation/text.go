package validation

import (
	"regexp"
	"strings"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)

	reDate   = regexp.MustCompile(`\b(19|20)\d{2}[-/.]\d{1,2}[-/.]\d{1,2}\b|\b\d{1,2}[-/.]\d{1,2}[-/.](19|20)?\d{2}\b`)
	reCurr   = regexp.MustCompile(`\b(usd|eur|gbp|cad|aud|inr|jpy)\b|[$£€]`)
	reAmount = regexp.MustCompile(`\b\d{1,3}(,\d{3})*(\.\d{2})\b|\b\d+\.\d{2}\b`)
	reTotal  = regexp.MustCompile(`\b(total|subtotal|tax|amount due|balance)\b`)
)

// normalizeText collapses noisy whitespace from extracted PDF text while
// keeping line breaks.
func normalizeText(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// textConfidence is a heuristic in [0,1] for how receipt-like a text layer is.
func textConfidence(txt string) float32 {
	if strings.TrimSpace(txt) == "" {
		return 0
	}
	l := strings.ToLower(txt)
	score := float32(0.2)
	if reDate.MatchString(l) {
		score += 0.2
	}
	if reCurr.MatchString(l) {
		score += 0.15
	}
	if reAmount.MatchString(l) {
		score += 0.15
	}
	if reTotal.MatchString(l) {
		score += 0.2
	}
	if len(txt) > 120 {
		score += 0.1
	}
	return min(score, 1.0)
}
