package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
)

var moneyFields = []string{"total_amount", "subtotal", "tax"}

// NormalizeAndSanitizeJSON
// - Renames known synonyms (merchant_name -> merchant, total -> total_amount)
// - Coerces money strings like "$12.50" to numbers
// - Removes unknown keys (strict additionalProperties = false friendliness)
// - Trims strings
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			// don't overwrite existing value if already present
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			dropped = append(dropped, from+"->"+to)
		}
	}

	renamed("merchant_name", "merchant")
	renamed("store", "merchant")
	renamed("tx_date", "date")
	renamed("transaction_date", "date")
	renamed("total", "total_amount")
	renamed("is_valid_receipt", "is_receipt")
	renamed("line_items", "items")

	for _, k := range moneyFields {
		if v, ok := m[k]; ok {
			if f, ok := coerceMoney(v); ok {
				m[k] = f
			} else {
				delete(m, k)
				dropped = append(dropped, k+"(type)")
			}
		}
	}
	if items, ok := m["items"].([]any); ok {
		for _, it := range items {
			item, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if f, ok := coerceMoney(item["price"]); ok {
				item["price"] = f
			}
			for k := range maps.Clone(item) {
				if k != "name" && k != "price" && k != "quantity" {
					delete(item, k)
				}
			}
		}
	}

	allowed := map[string]struct{}{
		"is_receipt": {}, "error": {}, "merchant": {}, "date": {}, "total_amount": {},
		"subtotal": {}, "tax": {}, "items": {}, "category": {}, "payment_method": {},
		"confidence": {},
	}
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	for _, k := range []string{"merchant", "date", "category", "payment_method", "error"} {
		if v, ok := m[k].(string); ok {
			m[k] = strings.TrimSpace(v)
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

func coerceMoney(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimLeft(s, "$€£")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
