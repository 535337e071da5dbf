package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
	"github.com/joseph-ayodele/receipt-intake/internal/utils"
)

var ledgerColumns = []string{
	"id", "owner_id", "description", "amount", "category", "entry_date",
	"payment_method", "notes", "receipt_token", "created_at",
}

// LedgerRepository is the ledger collaborator used by the pipeline.
type LedgerRepository interface {
	ListEntries(ctx context.Context, ownerID string) ([]entity.LedgerEntry, error)
	CreateEntry(ctx context.Context, req entity.CreateEntryRequest) (*entity.LedgerEntry, error)
	GetEntry(ctx context.Context, ownerID, id string) (*entity.LedgerEntry, error)
	FindByReceiptToken(ctx context.Context, ownerID, token string) (*entity.LedgerEntry, error)
}

type ledgerRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewLedgerRepository(db *DB, logger *slog.Logger) LedgerRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ledgerRepository{
		db:     db,
		logger: logger,
	}
}

func (r *ledgerRepository) ListEntries(ctx context.Context, ownerID string) ([]entity.LedgerEntry, error) {
	q := r.db.Builder().Select(ledgerColumns...).From(entsql.Table(TableLedger)).
		Where(entsql.EQ("owner_id", ownerID)).
		OrderBy(entsql.Desc("entry_date"))

	out, err := r.scan(ctx, q)
	if err != nil {
		r.logger.Error("failed to list ledger entries", "owner_id", ownerID, "error", err)
		return nil, err
	}
	return out, nil
}

func (r *ledgerRepository) GetEntry(ctx context.Context, ownerID, id string) (*entity.LedgerEntry, error) {
	q := r.db.Builder().Select(ledgerColumns...).From(entsql.Table(TableLedger)).
		Where(entsql.And(entsql.EQ("owner_id", ownerID), entsql.EQ("id", id))).
		Limit(1)
	return r.one(ctx, q)
}

func (r *ledgerRepository) FindByReceiptToken(ctx context.Context, ownerID, token string) (*entity.LedgerEntry, error) {
	q := r.db.Builder().Select(ledgerColumns...).From(entsql.Table(TableLedger)).
		Where(entsql.And(entsql.EQ("owner_id", ownerID), entsql.EQ("receipt_token", token))).
		Limit(1)
	return r.one(ctx, q)
}

// CreateEntry inserts a ledger entry. A second create for the same receipt
// token returns the entry that already exists.
func (r *ledgerRepository) CreateEntry(ctx context.Context, req entity.CreateEntryRequest) (*entity.LedgerEntry, error) {
	if err := common.NewValidator().
		Field("owner_id", req.OwnerID, common.Required).
		Field("description", req.Description, common.Required, common.MaxLength(200)).
		Field("category", req.Category, common.Required, common.MaxLength(50)).
		Field("amount", req.Amount, common.NonNegative).
		Field("notes", req.Notes, common.MaxLength(1000)).
		Error(); err != nil {
		return nil, err
	}
	if req.Date.IsZero() {
		return nil, common.NewAppError("VALIDATION_ERROR", "date is required", common.ErrValidation)
	}

	e := &entity.LedgerEntry{
		ID:            uuid.NewString(),
		OwnerID:       req.OwnerID,
		Description:   req.Description,
		Amount:        req.Amount.Round(2),
		Category:      req.Category,
		Date:          utils.DateOnly(req.Date),
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
		ReceiptToken:  req.ReceiptToken,
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}

	ins := r.db.Builder().Insert(TableLedger).
		Columns(ledgerColumns...).
		Values(e.ID, e.OwnerID, e.Description, e.Amount.StringFixed(2), e.Category, utils.FormatYMD(e.Date),
			nullString(e.PaymentMethod), nullString(e.Notes), nullString(e.ReceiptToken), e.CreatedAt.UnixMilli())
	if _, err := r.db.ExecBuilt(ctx, ins); err != nil {
		if e.ReceiptToken != "" {
			if existing, ferr := r.FindByReceiptToken(ctx, e.OwnerID, e.ReceiptToken); ferr == nil {
				r.logger.Info("ledger.create.existing", "owner_id", e.OwnerID, "receipt_token", e.ReceiptToken, "entry_id", existing.ID)
				return existing, nil
			}
		}
		r.logger.Error("failed to create ledger entry", "owner_id", e.OwnerID, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrLedgerUnavailable, err)
	}

	r.logger.Info("ledger.create.ok", "owner_id", e.OwnerID, "entry_id", e.ID, "amount", e.Amount.StringFixed(2))
	return e, nil
}

func (r *ledgerRepository) one(ctx context.Context, q *entsql.Selector) (*entity.LedgerEntry, error) {
	out, err := r.scan(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, common.ErrNotFound
	}
	return &out[0], nil
}

func (r *ledgerRepository) scan(ctx context.Context, q *entsql.Selector) ([]entity.LedgerEntry, error) {
	rows, err := r.db.QueryBuilt(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrLedgerUnavailable, err)
	}
	defer rows.Close()

	var out []entity.LedgerEntry
	for rows.Next() {
		var (
			e                     entity.LedgerEntry
			amount, date          string
			payment, notes, token sql.NullString
			createdMillis         int64
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Description, &amount, &e.Category, &date,
			&payment, &notes, &token, &createdMillis); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("ledger entry %s: bad amount %q: %w", e.ID, amount, err)
		}
		if e.Date, err = utils.ParseYMD(date); err != nil {
			return nil, fmt.Errorf("ledger entry %s: bad date %q: %w", e.ID, date, err)
		}
		e.PaymentMethod = payment.String
		e.Notes = notes.String
		e.ReceiptToken = token.String
		e.CreatedAt = time.UnixMilli(createdMillis).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(common.ErrLedgerUnavailable, err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
