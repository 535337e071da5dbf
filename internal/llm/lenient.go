package llm

import (
	"encoding/json"

	"github.com/joseph-ayodele/receipt-intake/constants"
)

// SanitizeOptionalFields removes or normalizes optional fields that don't meet our stricter schema,
// so the overall document can still validate. Required fields are never touched.
func SanitizeOptionalFields(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}

	var dropped []string
	for _, k := range []string{"subtotal", "tax", "error"} {
		if v, ok := m[k]; ok && v == nil {
			delete(m, k)
			dropped = append(dropped, k)
		}
	}

	// free-form labels are mapped onto the enums; Finalize does the same later
	if v, ok := m["category"].(string); ok {
		cat, _ := constants.Canonicalize(v)
		m["category"] = string(cat)
	} else if _, ok := m["category"]; ok {
		delete(m, "category")
		dropped = append(dropped, "category")
	}
	if v, ok := m["payment_method"].(string); ok {
		m["payment_method"] = string(constants.CanonicalPaymentMethod(v))
	} else if _, ok := m["payment_method"]; ok {
		delete(m, "payment_method")
		dropped = append(dropped, "payment_method")
	}

	if v, ok := m["confidence"].(float64); ok {
		switch {
		case v < 0:
			m["confidence"] = 0.0
		case v > 1:
			m["confidence"] = 1.0
		}
	} else if _, ok := m["confidence"]; ok {
		delete(m, "confidence")
		dropped = append(dropped, "confidence")
	}

	if items, ok := m["items"].([]any); ok {
		kept := items[:0]
		for _, it := range items {
			item, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if _, ok := item["price"].(float64); !ok {
				continue
			}
			if _, ok := item["name"].(string); !ok {
				item["name"] = ""
			}
			if q, ok := item["quantity"].(float64); ok {
				item["quantity"] = int(q)
			} else {
				delete(item, "quantity")
			}
			kept = append(kept, item)
		}
		if len(kept) < len(items) {
			dropped = append(dropped, "items")
		}
		m["items"] = kept
	} else if _, ok := m["items"]; ok {
		delete(m, "items")
		dropped = append(dropped, "items")
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return b, dropped, nil
}
