package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipt-intake/constants"
	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
	"github.com/joseph-ayodele/receipt-intake/internal/pipeline"
	"github.com/joseph-ayodele/receipt-intake/internal/utils"
)

// uploadSlack leaves room above the accepted size so oversized files reach
// the validator and get a structured rejection instead of a bare 413.
const uploadSlack = 1 << 20

type tokenPath struct {
	Token string `path:"token" doc:"receipt token"`
}

type uploadOutput struct {
	Status int
	Body   pipeline.Outcome
}

type receiptOutput struct {
	Body entity.StoredReceipt
}

type receiptListOutput struct {
	Body struct {
		Receipts []entity.StoredReceipt `json:"receipts"`
		Count    int                    `json:"count"`
	}
}

type contentOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

// CreateEntryRequest carries owner corrections for a pending receipt.
type CreateEntryRequest struct {
	Description   string `json:"description,omitempty"`
	Amount        string `json:"amount,omitempty" example:"24.50"`
	Category      string `json:"category,omitempty"`
	Date          string `json:"date,omitempty" example:"2024-03-10" doc:"YYYY-MM-DD"`
	PaymentMethod string `json:"payment_method,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

type createEntryOutput struct {
	Body pipeline.CreateResult
}

func ownerFromContext(ctx context.Context) (string, huma.StatusError) {
	if owner := common.OwnerIDFromContext(ctx); owner != "" {
		return owner, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func uploadStatus(k pipeline.Kind) int {
	switch k {
	case pipeline.KindAutoCreated:
		return http.StatusCreated
	case pipeline.KindPendingReview:
		return http.StatusAccepted
	case pipeline.KindRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}

func registerReceipts(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID:  "upload-receipt",
		Method:       http.MethodPost,
		Path:         "/receipts",
		Summary:      "Upload a receipt image or PDF",
		MaxBodyBytes: constants.MaxUploadBytes + uploadSlack,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusTooManyRequests,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Filename string `query:"filename" required:"true" doc:"original file name, used for the extension check"`
		RawBody  []byte
	}) (*uploadOutput, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !h.limits.Allow(owner) {
			h.logger.Warn("http.upload.rate_limited", "req_id", common.RequestIDFromContext(ctx), "owner_id", owner)
			return nil, h.handleError(ctx, "upload", common.ErrRateLimited)
		}
		name := filepath.Base(strings.TrimSpace(input.Filename))
		if name == "" || name == "." || name == string(filepath.Separator) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "filename is required", nil)
		}

		out, err := h.pipeline.Process(ctx, pipeline.Upload{
			OwnerID:  owner,
			Filename: name,
			Content:  input.RawBody,
		})
		if err != nil {
			return nil, h.handleError(ctx, "upload", err)
		}
		return &uploadOutput{Status: uploadStatus(out.Kind), Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-receipts",
		Method:      http.MethodGet,
		Path:        "/receipts",
		Summary:     "List stored receipts (metadata only)",
		Errors:      []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*receiptListOutput, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		recs, err := h.store.List(ctx, owner)
		if err != nil {
			return nil, h.handleError(ctx, "list", err)
		}
		out := &receiptListOutput{}
		out.Body.Receipts = recs
		out.Body.Count = len(recs)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-receipt",
		Method:      http.MethodGet,
		Path:        "/receipts/{token}",
		Summary:     "Get receipt metadata and extraction",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *tokenPath) (*receiptOutput, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := h.store.Get(ctx, input.Token, owner)
		if err != nil {
			return nil, h.handleError(ctx, "get", err)
		}
		return &receiptOutput{Body: rec.Meta()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-receipt-content",
		Method:      http.MethodGet,
		Path:        "/receipts/{token}/content",
		Summary:     "Download the sanitized receipt bytes",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *tokenPath) (*contentOutput, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := h.store.Get(ctx, input.Token, owner)
		if err != nil {
			return nil, h.handleError(ctx, "content", err)
		}
		ct := rec.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		return &contentOutput{
			ContentType:        ct,
			ContentDisposition: fmt.Sprintf("inline; filename=%q", rec.Filename),
			Body:               rec.Content,
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-receipt",
		Method:        http.MethodDelete,
		Path:          "/receipts/{token}",
		Summary:       "Delete a stored receipt",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *tokenPath) (*struct{}, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ok, err := h.store.Delete(ctx, input.Token, owner)
		if err != nil {
			return nil, h.handleError(ctx, "delete", err)
		}
		if !ok {
			return nil, h.handleError(ctx, "delete", common.ErrNotFoundOrExpired)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-entry-from-receipt",
		Method:        http.MethodPost,
		Path:          "/receipts/{token}/entries",
		Summary:       "Create the ledger entry for a pending receipt",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Token string             `path:"token"`
		Body  CreateEntryRequest `required:"false"`
	}) (*createEntryOutput, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ov, err := input.Body.overrides()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		res, err := h.pipeline.CreateFromToken(ctx, input.Token, owner, ov)
		if err != nil {
			return nil, h.handleError(ctx, "create_entry", err)
		}
		return &createEntryOutput{Body: res}, nil
	})
}

func (r CreateEntryRequest) overrides() (pipeline.Overrides, error) {
	if err := common.NewValidator().
		Field("description", r.Description, common.MaxLength(200)).
		Field("date", strings.TrimSpace(r.Date), common.DateYMD).
		Field("notes", r.Notes, common.MaxLength(1000)).
		Error(); err != nil {
		return pipeline.Overrides{}, err
	}
	ov := pipeline.Overrides{
		Description: strings.TrimSpace(r.Description),
		Notes:       strings.TrimSpace(r.Notes),
	}
	if s := strings.TrimSpace(r.Amount); s != "" {
		amt, err := decimal.NewFromString(s)
		if err != nil {
			return ov, fmt.Errorf("amount %q is not a number", s)
		}
		ov.Amount = &amt
	}
	if s := strings.TrimSpace(r.Date); s != "" {
		d, err := utils.ParseYMD(s)
		if err != nil {
			return ov, fmt.Errorf("date must be YYYY-MM-DD")
		}
		ov.Date = &d
	}
	if s := strings.TrimSpace(r.Category); s != "" {
		cat, ok := constants.Canonicalize(s)
		if !ok && !strings.EqualFold(s, string(constants.Other)) {
			return ov, fmt.Errorf("unknown category %q", s)
		}
		ov.Category = string(cat)
	}
	if s := strings.TrimSpace(r.PaymentMethod); s != "" {
		ov.PaymentMethod = string(constants.CanonicalPaymentMethod(s))
	}
	return ov, nil
}

type statsOutput struct {
	Body entity.StoreStats
}

type healthOutput struct {
	Body struct {
		Status string    `json:"status"`
		Time   time.Time `json:"time"`
	}
}

func registerHealth(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := h.store.Ping(pctx); err != nil {
			h.logger.Warn("http.health.degraded", "error", err)
			return nil, newAPIError(http.StatusServiceUnavailable, "storage_unavailable", "storage unavailable", nil)
		}
		out := &healthOutput{}
		out.Body.Status = "ok"
		out.Body.Time = time.Now().UTC()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "store-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Receipt store occupancy for the caller",
		Errors:      []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*statsOutput, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := h.store.OwnerStats(ctx, owner)
		if err != nil {
			return nil, h.handleError(ctx, "stats", err)
		}
		return &statsOutput{Body: st}, nil
	})
}
