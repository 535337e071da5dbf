package constants

import (
	"strings"
)

type Category string

const (
	FoodDining     Category = "Food & Dining"
	Transportation Category = "Transportation"
	Shopping       Category = "Shopping"
	Entertainment  Category = "Entertainment"
	Utilities      Category = "Utilities"
	Healthcare     Category = "Healthcare"
	Education      Category = "Education"
	Other          Category = "Other"
)

var allCategories = []Category{
	FoodDining,
	Transportation,
	Shopping,
	Entertainment,
	Utilities,
	Healthcare,
	Education,
	Other,
}

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// Canonicalize maps free-form model output onto the category enum.
// The bool reports whether anything better than the Other fallback matched.
func Canonicalize(input string) (Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return Other, false
	}

	synonyms := map[string]Category{
		"restaurant": FoodDining,
		"grocery":    FoodDining,
		"groceries":  FoodDining,
		"food":       FoodDining,
		"gas":        Transportation,
		"fuel":       Transportation,
		"uber":       Transportation,
		"lyft":       Transportation,
		"taxi":       Transportation,
		"pharmacy":   Healthcare,
		"medical":    Healthcare,
		"tuition":    Education,
	}
	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	for _, cat := range allCategories {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}

	// loose containment either way, e.g. "dining" or "healthcare services"
	for _, cat := range allCategories {
		c := strings.ToLower(string(cat))
		if strings.Contains(c, normalized) || strings.Contains(normalized, c) {
			return cat, cat != Other
		}
	}

	return Other, false
}
