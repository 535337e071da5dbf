package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipt-intake/constants"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
)

const sheet = "Review Queue"

// ReceiptLister lists an owner's live receipts without content.
type ReceiptLister interface {
	List(ctx context.Context, ownerID string) ([]entity.StoredReceipt, error)
}

// Service produces XLSX bytes for an owner's stored receipts.
type Service struct {
	receipts ReceiptLister
	logger   *slog.Logger
}

func NewService(receipts ReceiptLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{receipts: receipts, logger: logger}
}

var headers = []string{
	"Uploaded At",
	"Expires At",
	"Filename",
	"Merchant",
	"Transaction Date",
	"Category",
	"Amount",
	"Payment Method",
	"Confidence",
	"Warnings",
	"Status",
	"Ledger Entry",
	"Receipt Token",
}

// ExportReceiptsXLSX returns a workbook with one row per live receipt, newest
// first. With pendingOnly, receipts already linked to a ledger entry are left out.
func (s *Service) ExportReceiptsXLSX(ctx context.Context, ownerID string, pendingOnly bool) ([]byte, int, error) {
	start := time.Now()

	recs, err := s.receipts.List(ctx, ownerID)
	if err != nil {
		return nil, 0, fmt.Errorf("list receipts: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, 0, err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetRowStyle(sheet, 1, 1, bold)
	}

	row := 2
	for _, r := range recs {
		if pendingOnly && r.Status == constants.ReceiptStatusProcessed {
			continue
		}
		ex := r.Extraction
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, r.CreatedAt.UTC().Format(time.RFC3339))
		write(2, r.ExpiresAt.UTC().Format(time.RFC3339))
		write(3, r.Filename)
		write(4, ex.Merchant)
		write(5, ex.Date)
		write(6, string(ex.Category))
		write(7, ex.TotalAmount.Round(2).InexactFloat64())
		write(8, string(ex.PaymentMethod))
		write(9, ex.Confidence)
		write(10, truncate(strings.Join(ex.Warnings, "; "), 200))
		write(11, string(r.Status))
		write(12, r.LinkedEntryID)
		write(13, r.Token)
		row++
	}

	_ = f.SetColWidth(sheet, "A", "B", 22) // timestamps
	_ = f.SetColWidth(sheet, "C", "D", 28)
	_ = f.SetColWidth(sheet, "E", "I", 14)
	_ = f.SetColWidth(sheet, "J", "J", 48) // warnings
	_ = f.SetColWidth(sheet, "K", "L", 16)
	_ = f.SetColWidth(sheet, "M", "M", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("xlsx write: %w", err)
	}

	rows := row - 2
	s.logger.Info("export.xlsx.ok",
		"owner_id", ownerID,
		"rows", rows,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), rows, nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
