package entity

// NearMatch is a similar but non-duplicate ledger entry.
type NearMatch struct {
	EntryID    string  `json:"entry_id"`
	Similarity float64 `json:"similarity"`
}

// DuplicateVerdict is the duplicate detector's decision for one extraction.
type DuplicateVerdict struct {
	IsDuplicate bool        `json:"is_duplicate"`
	Confidence  float64     `json:"confidence"`
	BestMatch   string      `json:"best_match,omitempty"`
	NearMatches []NearMatch `json:"near_matches,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}
