package llm

// BuildReceiptJSONSchema returns the JSON-Schema a receipt analysis reply must
// satisfy. The same map is sent to the model and used to validate its answer.
func BuildReceiptJSONSchema(categories, paymentMethods []string) map[string]any {
	props := map[string]any{
		"is_receipt":     map[string]any{"type": "boolean"},
		"error":          map[string]any{"type": "string"},
		"merchant":       map[string]any{"type": "string"},
		"date":           map[string]any{"type": "string"},
		"total_amount":   moneyProp(),
		"subtotal":       moneyProp(),
		"tax":            moneyProp(),
		"category":       map[string]any{"type": "string"},
		"payment_method": map[string]any{"type": "string"},
		"confidence":     map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		"items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"name":     map[string]any{"type": "string"},
					"price":    moneyProp(),
					"quantity": map[string]any{"type": "integer"},
				},
				"required": []string{"name", "price"},
			},
		},
	}
	if len(categories) > 0 {
		props["category"] = map[string]any{"type": "string", "enum": categories}
	}
	if len(paymentMethods) > 0 {
		props["payment_method"] = map[string]any{"type": "string", "enum": paymentMethods}
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             []string{"merchant", "date", "total_amount"},
	}
}

// BuildAuthenticityJSONSchema is the reply shape of the authenticity gate.
func BuildAuthenticityJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"valid":  map[string]any{"type": "boolean"},
			"reason": map[string]any{"type": "string"},
		},
		"required": []string{"valid"},
	}
}

func moneyProp() map[string]any {
	return map[string]any{"type": "number"}
}
