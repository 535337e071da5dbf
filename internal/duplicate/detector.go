package duplicate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipt-intake/internal/entity"
	"github.com/joseph-ayodele/receipt-intake/internal/utils"
)

const (
	// DiscardBelow drops candidates from consideration entirely.
	DiscardBelow = 0.70
	// DuplicateAt marks the best candidate as a duplicate.
	DuplicateAt    = 0.85
	maxNearMatches = 3
)

// EntryLister reads an owner's existing ledger entries.
type EntryLister interface {
	ListEntries(ctx context.Context, ownerID string) ([]entity.LedgerEntry, error)
}

// Detector scores extractions against the owner's ledger. It is read-only and
// safe for concurrent use.
type Detector struct {
	entries EntryLister
	logger  *slog.Logger
}

func NewDetector(entries EntryLister, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{entries: entries, logger: logger}
}

type scored struct {
	entryID string
	score   float64
}

// Score returns the duplicate verdict for ex. Missing data or an unreadable
// ledger yield a no-signal verdict rather than an error; only context
// cancellation is returned.
func (d *Detector) Score(ctx context.Context, ex entity.ExtractionResult, ownerID string) (entity.DuplicateVerdict, error) {
	start := time.Now()

	entries, err := d.entries.ListEntries(ctx, ownerID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return entity.DuplicateVerdict{}, ctxErr
		}
		d.logger.Warn("duplicate.ledger_unavailable", "owner_id", ownerID, "error", err)
		return noSignal("ledger unavailable"), nil
	}
	if len(entries) == 0 {
		return noSignal("no existing entries to compare against"), nil
	}

	cand, ok := candidateFromExtraction(ex)
	if !ok {
		return noSignal("insufficient data for duplicate detection"), nil
	}

	var kept []scored
	for _, e := range entries {
		if e.OwnerID != "" && e.OwnerID != ownerID {
			continue
		}
		bd := Similarity(cand, candidateFromEntry(e))
		if bd.Total < DiscardBelow {
			continue
		}
		kept = append(kept, scored{entryID: e.ID, score: bd.Total})
	}
	v := verdictFrom(kept)

	d.logger.Debug("duplicate.scored",
		"owner_id", ownerID,
		"entries", len(entries),
		"candidates", len(kept),
		"is_duplicate", v.IsDuplicate,
		"confidence", v.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return v, nil
}

func verdictFrom(kept []scored) entity.DuplicateVerdict {
	if len(kept) == 0 {
		return noSignal("no similar entries found")
	}
	// highest first; equal scores fall back to entry id for a stable order
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].entryID < kept[j].entryID
	})

	best := kept[0]
	v := entity.DuplicateVerdict{
		IsDuplicate: best.score >= DuplicateAt,
		Confidence:  best.score,
		BestMatch:   best.entryID,
	}
	for _, c := range kept {
		if len(v.NearMatches) == maxNearMatches {
			break
		}
		if c.score >= DuplicateAt {
			continue
		}
		v.NearMatches = append(v.NearMatches, entity.NearMatch{EntryID: c.entryID, Similarity: c.score})
	}
	if v.IsDuplicate {
		v.Reason = fmt.Sprintf("receipt appears to be already recorded (confidence %.0f%%)", best.score*100)
	} else {
		v.Reason = fmt.Sprintf("similar entries found but not duplicates (highest similarity %.0f%%)", best.score*100)
	}
	return v
}

func noSignal(reason string) entity.DuplicateVerdict {
	return entity.DuplicateVerdict{Reason: reason}
}

func candidateFromExtraction(ex entity.ExtractionResult) (Candidate, bool) {
	date, ok := utils.ParseReceiptDate(ex.Date)
	if !ok || strings.TrimSpace(ex.Merchant) == "" || !ex.TotalAmount.IsPositive() {
		return Candidate{}, false
	}
	return Candidate{Merchant: ex.Merchant, Amount: ex.TotalAmount, Date: date}, true
}

func candidateFromEntry(e entity.LedgerEntry) Candidate {
	return Candidate{Merchant: e.Description, Amount: e.Amount, Date: e.Date}
}
