package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type exportOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Rows               string `header:"X-Export-Rows"`
	Body               []byte
}

func registerExport(api huma.API, h *handlers) {
	if h.exporter == nil {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "export-receipts",
		Method:      http.MethodGet,
		Path:        "/export/receipts.xlsx",
		Summary:     "Export stored receipts as an XLSX review queue",
		Errors:      []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		PendingOnly bool `query:"pending_only" doc:"leave out receipts already linked to a ledger entry"`
	}) (*exportOutput, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data, rows, err := h.exporter.ExportReceiptsXLSX(ctx, owner, input.PendingOnly)
		if err != nil {
			return nil, h.handleError(ctx, "export", err)
		}
		name := fmt.Sprintf("receipts-%s.xlsx", time.Now().UTC().Format("20060102"))
		return &exportOutput{
			ContentType:        xlsxContentType,
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", name),
			Rows:               strconv.Itoa(rows),
			Body:               data,
		}, nil
	})
}
