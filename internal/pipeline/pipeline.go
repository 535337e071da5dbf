package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-intake/constants"
	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
	"github.com/joseph-ayodele/receipt-intake/internal/extract"
	"github.com/joseph-ayodele/receipt-intake/internal/receiptstore"
)

const (
	reasonNotAReceipt       = "not a receipt"
	reasonExtractionFailed  = "extraction failed"
	reasonLedgerUnavailable = "ledger unavailable"
	reasonLedgerRejected    = "ledger rejected the entry"
)

// Pipeline runs uploads through validate, authenticate, extract,
// duplicate check, store and the auto-create decision, in that order.
type Pipeline struct {
	pc     Context
	logger *slog.Logger
}

// New returns a pipeline over pc. A nil Authenticator accepts everything and a
// zero Policy uses DefaultMinConfidence.
func New(pc Context) *Pipeline {
	if pc.Logger == nil {
		pc.Logger = slog.Default()
	}
	if pc.Authenticator == nil {
		pc.Authenticator = extract.AllowAll{}
	}
	if pc.Policy.MinConfidence <= 0 {
		pc.Policy.MinConfidence = DefaultMinConfidence
	}
	return &Pipeline{pc: pc, logger: pc.Logger}
}

// Process returns an Outcome for every upload that ran to a terminal state,
// including rejections and duplicates. Errors are reserved for faults: an
// unavailable store, a missing owner or a cancelled context.
func (p *Pipeline) Process(ctx context.Context, up Upload) (Outcome, error) {
	start := time.Now()
	log := p.logger.With("req_id", uuid.NewString(), "owner_id", up.OwnerID, "filename", up.Filename)
	if strings.TrimSpace(up.OwnerID) == "" {
		return Outcome{}, common.NewAppError("VALIDATION_ERROR", "owner id is required", common.ErrInvalidInput)
	}
	log.Debug("pipeline.stage.ok", "state", constants.StateReceived, "size", len(up.Content))

	report := p.pc.Validator.Validate(up.Content, up.Filename)
	if !report.Accepted {
		return p.reject(log, start, report.Stage, report.Reason), nil
	}
	log.Debug("pipeline.stage.ok", "state", constants.StateValidated, "mime", report.DetectedMIME)

	doc := extract.Document{
		Content:     report.Sanitized,
		Filename:    report.Filename,
		ContentType: report.ContentType,
		Text:        report.Text,
	}

	auth, err := p.pc.Authenticator.Check(ctx, doc)
	if err != nil {
		return p.collaboratorFailure(ctx, log, start, err)
	}
	if !auth.Valid {
		reason := auth.Reason
		if reason == "" {
			reason = "not a valid receipt"
		}
		return p.reject(log, start, constants.StageAuthentic, reason), nil
	}
	log.Debug("pipeline.stage.ok", "state", constants.StateAuthenticated)

	ex, err := p.pc.Extractor.Extract(ctx, doc)
	if err != nil {
		return p.collaboratorFailure(ctx, log, start, err)
	}
	if !ex.IsPlausibleReceipt {
		return p.reject(log, start, constants.StageExtraction, reasonNotAReceipt), nil
	}
	log.Debug("pipeline.stage.ok", "state", constants.StateExtracted, "confidence", ex.Confidence, "warnings", len(ex.Warnings))

	if p.pc.OwnerLocks != nil {
		unlock := p.pc.OwnerLocks.Lock(up.OwnerID)
		defer unlock()
	}

	verdict, err := p.pc.Detector.Score(ctx, ex, up.OwnerID)
	if err != nil {
		return Outcome{}, err
	}
	if verdict.IsDuplicate {
		log.Info("pipeline.duplicate",
			"best_match", verdict.BestMatch,
			"confidence", verdict.Confidence,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return Outcome{
			Kind:       KindDuplicateFound,
			State:      constants.StateDuplicateChecked,
			Duplicate:  &verdict,
			Confidence: verdict.Confidence,
		}, nil
	}
	log.Debug("pipeline.stage.ok", "state", constants.StateDuplicateChecked, "near_matches", len(verdict.NearMatches))

	token, err := p.pc.Store.Put(ctx, receiptstore.PutRequest{
		OwnerID:     up.OwnerID,
		Filename:    report.Filename,
		ContentType: report.ContentType,
		Content:     report.Sanitized,
		Extraction:  ex,
	})
	if err != nil {
		log.Error("pipeline.store_failed", "error", err)
		return Outcome{}, err
	}
	log.Debug("pipeline.stage.ok", "state", constants.StateStored)

	if ok, why := p.pc.Policy.Eligible(ex); !ok {
		return p.pending(log, start, token, ex, why), nil
	}

	req, err := ledgerRequest(ex, token, up.OwnerID, Overrides{})
	if err != nil {
		return p.pending(log, start, token, ex, err.Error()), nil
	}
	entry, err := p.createAndLink(ctx, token, up.OwnerID, req)
	if err != nil {
		log.Warn("pipeline.auto_create_failed", "token_prefix", tokenPrefix(token), "error", err)
		if !retryable(err) {
			return p.pending(log, start, token, ex, reasonLedgerRejected), nil
		}
		p.scheduleRetry(ctx, log, token, up.OwnerID)
		return p.pending(log, start, token, ex, reasonLedgerUnavailable), nil
	}

	log.Info("pipeline.auto_created",
		"entry_id", entry.ID,
		"confidence", ex.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return Outcome{
		Kind:       KindAutoCreated,
		State:      constants.StateAutoCreated,
		Token:      token,
		Entry:      entry,
		Confidence: ex.Confidence,
	}, nil
}

// createAndLink creates the ledger entry for token, or reuses the one a
// previous attempt created, then links it.
func (p *Pipeline) createAndLink(ctx context.Context, token, ownerID string, req entity.CreateEntryRequest) (*entity.LedgerEntry, error) {
	entry, err := p.pc.Ledger.FindByReceiptToken(ctx, ownerID, token)
	switch {
	case err == nil:
		p.logger.Info("pipeline.ledger.reuse", "entry_id", entry.ID)
	case errors.Is(err, common.ErrNotFound):
		entry, err = p.pc.Ledger.CreateEntry(ctx, req)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	if err := p.pc.Store.Link(ctx, token, ownerID, entry.ID); err != nil {
		return entry, err
	}
	return entry, nil
}

func (p *Pipeline) reject(log *slog.Logger, start time.Time, stage, reason string) Outcome {
	log.Info("pipeline.rejected",
		"stage", stage,
		"reason", reason,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rejected(stage, reason)
}

func (p *Pipeline) pending(log *slog.Logger, start time.Time, token string, ex entity.ExtractionResult, why string) Outcome {
	log.Info("pipeline.pending_review",
		"token_prefix", tokenPrefix(token),
		"reason", why,
		"confidence", ex.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return Outcome{
		Kind:       KindPendingReview,
		State:      constants.StatePendingReview,
		Reason:     why,
		Token:      token,
		Extraction: &ex,
		Confidence: ex.Confidence,
		Warnings:   ex.Warnings,
	}
}

// collaboratorFailure maps an authenticity or extraction error. Cancellation
// is returned as is; anything else ends the run before storage.
func (p *Pipeline) collaboratorFailure(ctx context.Context, log *slog.Logger, start time.Time, err error) (Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, ctxErr
	}
	log.Warn("pipeline.collaborator_failed", "error", err)
	reason := reasonExtractionFailed
	if errors.Is(err, common.ErrExtractionUnavailable) {
		reason = extract.ReasonServiceTimeout
	}
	return p.reject(log, start, constants.StageExtraction, reason), nil
}

func (p *Pipeline) scheduleRetry(ctx context.Context, log *slog.Logger, token, ownerID string) {
	if p.pc.Retrier == nil {
		return
	}
	if err := p.pc.Retrier.EnqueueLinkRetry(ctx, token, ownerID); err != nil {
		log.Error("pipeline.link_retry.enqueue_failed", "error", err)
		return
	}
	log.Info("pipeline.link_retry.enqueued", "token_prefix", tokenPrefix(token))
}

func retryable(err error) bool {
	return errors.Is(err, common.ErrLedgerUnavailable) ||
		errors.Is(err, common.ErrStorageUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// tokenPrefix keeps bearer tokens out of logs.
func tokenPrefix(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
