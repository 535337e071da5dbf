package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipt-intake/constants"
	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
	"github.com/joseph-ayodele/receipt-intake/internal/utils"
)

// CreateFromToken materializes the ledger entry for a stored receipt,
// applying owner overrides. It is safe to re-issue after a partial failure:
// an entry created earlier for the token is reused. A receipt that is already
// linked returns common.ErrAlreadyLinked.
func (p *Pipeline) CreateFromToken(ctx context.Context, token, ownerID string, ov Overrides) (CreateResult, error) {
	start := time.Now()
	log := p.logger.With("owner_id", ownerID, "token_prefix", tokenPrefix(token))

	rec, err := p.pc.Store.Get(ctx, token, ownerID)
	if err != nil {
		return CreateResult{}, err
	}
	if rec.LinkedEntryID != "" {
		log.Info("pipeline.create.already_linked", "entry_id", rec.LinkedEntryID)
		return CreateResult{}, common.ErrAlreadyLinked
	}

	req, err := ledgerRequest(rec.Extraction, token, ownerID, ov)
	if err != nil {
		return CreateResult{}, err
	}

	if p.pc.OwnerLocks != nil {
		unlock := p.pc.OwnerLocks.Lock(ownerID)
		defer unlock()
	}
	entry, err := p.createAndLink(ctx, token, ownerID, req)
	if err != nil {
		log.Error("pipeline.create.failed", "error", err)
		return CreateResult{}, err
	}

	log.Info("pipeline.create.ok",
		"entry_id", entry.ID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return CreateResult{Token: token, Entry: entry}, nil
}

// ledgerRequest builds the ledger payload from an extraction, with overrides
// taking precedence field by field.
func ledgerRequest(ex entity.ExtractionResult, token, ownerID string, ov Overrides) (entity.CreateEntryRequest, error) {
	req := entity.CreateEntryRequest{
		OwnerID:       ownerID,
		Description:   firstNonBlank(ov.Description, ex.Merchant),
		Amount:        ex.TotalAmount,
		Category:      firstNonBlank(ov.Category, string(ex.Category), string(constants.Other)),
		PaymentMethod: firstNonBlank(ov.PaymentMethod, string(ex.PaymentMethod)),
		Notes:         firstNonBlank(ov.Notes, ex.Description),
		ReceiptToken:  token,
	}
	if ov.Amount != nil {
		req.Amount = *ov.Amount
	}
	if !req.Amount.IsPositive() {
		return req, common.NewAppError("VALIDATION_ERROR", "amount must be positive", common.ErrValidation)
	}

	switch {
	case ov.Date != nil && !ov.Date.IsZero():
		req.Date = utils.DateOnly(*ov.Date)
	default:
		d, err := utils.ParseYMD(ex.Date)
		if err != nil {
			return req, common.NewAppError("VALIDATION_ERROR", "receipt date unknown; supply a date", common.ErrValidation)
		}
		req.Date = d
	}
	return req, nil
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
