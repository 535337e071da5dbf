package receiptstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipt-intake/constants"
	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
	"github.com/joseph-ayodele/receipt-intake/internal/repository"
)

var metaColumns = []string{
	"token", "owner_id", "filename", "content_type", "size_bytes", "blob_key", "extraction",
	"created_at", "expires_at", "access_count", "last_accessed_at", "linked_ledger_entry_id", "status",
}

// allColumns is metaColumns plus the content bytes, always scanned last.
var allColumns = append(append([]string(nil), metaColumns...), "content")

// SQLBackend stores receipts in the stored_receipts table of a postgres or
// sqlite database.
type SQLBackend struct {
	db     *repository.DB
	logger *slog.Logger
}

func NewSQLBackend(db *repository.DB, logger *slog.Logger) *SQLBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLBackend{db: db, logger: logger}
}

func (b *SQLBackend) table() *entsql.SelectTable {
	return entsql.Table(repository.TableReceipts)
}

func (b *SQLBackend) Insert(ctx context.Context, rec *entity.StoredReceipt) error {
	extraction, err := json.Marshal(rec.Extraction)
	if err != nil {
		return fmt.Errorf("encode extraction: %w", err)
	}
	var content any
	if rec.Content != nil {
		content = rec.Content
	}
	ins := b.db.Builder().Insert(repository.TableReceipts).
		Columns(allColumns...).
		Values(rec.Token, rec.OwnerID, rec.Filename, rec.ContentType, rec.SizeBytes, nullString(rec.BlobKey), string(extraction),
			rec.CreatedAt.UnixMilli(), rec.ExpiresAt.UnixMilli(), rec.AccessCount, nil, nullString(rec.LinkedEntryID), string(rec.Status),
			content).
		OnConflict(entsql.ConflictColumns("token"), entsql.DoNothing())
	n, err := b.db.ExecBuilt(ctx, ins)
	if err != nil {
		return common.StorageError("insert receipt", err)
	}
	if n == 0 {
		return errTokenExists
	}
	return nil
}

func (b *SQLBackend) Get(ctx context.Context, token, ownerID string, now time.Time) (*entity.StoredReceipt, error) {
	nowMs := now.UnixMilli()
	upd := b.db.Builder().Update(repository.TableReceipts).
		Add("access_count", 1).
		Set("last_accessed_at", nowMs).
		Where(entsql.And(
			entsql.EQ("token", token),
			entsql.EQ("owner_id", ownerID),
			entsql.GTE("expires_at", nowMs),
		)).
		Returning(allColumns...)
	recs, err := b.query(ctx, upd, true)
	if err != nil {
		return nil, common.StorageError("get receipt", err)
	}
	if len(recs) > 0 {
		return &recs[0], nil
	}

	// not live for this owner; evict if the token exists but has expired
	del := b.db.Builder().Delete(repository.TableReceipts).
		Where(entsql.And(entsql.EQ("token", token), entsql.LT("expires_at", nowMs)))
	n, err := b.db.ExecBuilt(ctx, del)
	if err != nil {
		return nil, common.StorageError("evict receipt", err)
	}
	if n > 0 {
		return nil, errExpired
	}
	return nil, common.ErrNotFoundOrExpired
}

func (b *SQLBackend) Link(ctx context.Context, token, ownerID, entryID string, now time.Time) error {
	nowMs := now.UnixMilli()
	upd := b.db.Builder().Update(repository.TableReceipts).
		Set("linked_ledger_entry_id", entryID).
		Set("status", string(constants.ReceiptStatusProcessed)).
		Where(entsql.And(
			entsql.EQ("token", token),
			entsql.EQ("owner_id", ownerID),
			entsql.GTE("expires_at", nowMs),
			entsql.IsNull("linked_ledger_entry_id"),
		))
	n, err := b.db.ExecBuilt(ctx, upd)
	if err != nil {
		return common.StorageError("link receipt", err)
	}
	if n > 0 {
		return nil
	}

	q := b.db.Builder().Select("linked_ledger_entry_id").From(b.table()).
		Where(entsql.And(
			entsql.EQ("token", token),
			entsql.EQ("owner_id", ownerID),
			entsql.GTE("expires_at", nowMs),
		))
	rows, err := b.db.QueryBuilt(ctx, q)
	if err != nil {
		return common.StorageError("link receipt", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return common.StorageError("link receipt", err)
		}
		return common.ErrNotFoundOrExpired
	}
	return common.ErrAlreadyLinked
}

func (b *SQLBackend) Delete(ctx context.Context, token, ownerID string, now time.Time) (bool, error) {
	live := b.db.Builder().Delete(repository.TableReceipts).
		Where(entsql.And(
			entsql.EQ("token", token),
			entsql.EQ("owner_id", ownerID),
			entsql.GTE("expires_at", now.UnixMilli()),
		))
	n, err := b.db.ExecBuilt(ctx, live)
	if err != nil {
		return false, common.StorageError("delete receipt", err)
	}
	if n > 0 {
		return true, nil
	}
	// an expired record is gone either way but reported as not found
	stale := b.db.Builder().Delete(repository.TableReceipts).
		Where(entsql.And(entsql.EQ("token", token), entsql.EQ("owner_id", ownerID)))
	if _, err := b.db.ExecBuilt(ctx, stale); err != nil {
		return false, common.StorageError("delete receipt", err)
	}
	return false, nil
}

func (b *SQLBackend) List(ctx context.Context, ownerID string, now time.Time) ([]entity.StoredReceipt, []string, error) {
	q := b.db.Builder().Select(metaColumns...).From(b.table()).
		Where(entsql.EQ("owner_id", ownerID)).
		OrderBy(entsql.Desc("created_at"), "token")
	recs, err := b.query(ctx, q, false)
	if err != nil {
		return nil, nil, common.StorageError("list receipts", err)
	}

	live := recs[:0]
	var expired []string
	for _, rec := range recs {
		if rec.Expired(now) {
			expired = append(expired, rec.Token)
			continue
		}
		live = append(live, rec)
	}
	evicted, err := b.deleteExpired(ctx, expired, now)
	if err != nil {
		return nil, nil, common.StorageError("evict receipts", err)
	}
	return live, evicted, nil
}

func (b *SQLBackend) PurgeExpired(ctx context.Context, now time.Time) ([]string, error) {
	q := b.db.Builder().Select("token").From(b.table()).
		Where(entsql.LT("expires_at", now.UnixMilli()))
	rows, err := b.db.QueryBuilt(ctx, q)
	if err != nil {
		return nil, common.StorageError("purge receipts", err)
	}
	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			_ = rows.Close()
			return nil, common.StorageError("purge receipts", err)
		}
		tokens = append(tokens, token)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, common.StorageError("purge receipts", err)
	}

	purged, err := b.deleteExpired(ctx, tokens, now)
	if err != nil {
		return nil, common.StorageError("purge receipts", err)
	}
	return purged, nil
}

// deleteExpired removes the given tokens if they are still expired at now.
func (b *SQLBackend) deleteExpired(ctx context.Context, tokens []string, now time.Time) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	args := make([]any, len(tokens))
	for i, t := range tokens {
		args[i] = t
	}
	del := b.db.Builder().Delete(repository.TableReceipts).
		Where(entsql.And(entsql.In("token", args...), entsql.LT("expires_at", now.UnixMilli())))
	if _, err := b.db.ExecBuilt(ctx, del); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (b *SQLBackend) Stats(ctx context.Context, ownerID string, now time.Time) (entity.StoreStats, error) {
	q := b.db.Builder().Select("expires_at", "size_bytes").From(b.table())
	if ownerID != "" {
		q = q.Where(entsql.EQ("owner_id", ownerID))
	}
	rows, err := b.db.QueryBuilt(ctx, q)
	if err != nil {
		return entity.StoreStats{}, common.StorageError("receipt stats", err)
	}
	defer rows.Close()

	var st entity.StoreStats
	nowMs := now.UnixMilli()
	for rows.Next() {
		var expires, size int64
		if err := rows.Scan(&expires, &size); err != nil {
			return entity.StoreStats{}, common.StorageError("receipt stats", err)
		}
		st.Total++
		if expires < nowMs {
			st.Expired++
		} else {
			st.Active++
		}
		st.SizeBytes += size
	}
	if err := rows.Err(); err != nil {
		return entity.StoreStats{}, common.StorageError("receipt stats", err)
	}
	return st, nil
}

func (b *SQLBackend) Ping(ctx context.Context) error {
	if err := b.db.HealthCheck(ctx, 0); err != nil {
		return common.StorageError("ping", err)
	}
	return nil
}

// query runs a statement returning metaColumns, plus content when withContent is set.
func (b *SQLBackend) query(ctx context.Context, q entsql.Querier, withContent bool) ([]entity.StoredReceipt, error) {
	rows, err := b.db.QueryBuilt(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.StoredReceipt
	for rows.Next() {
		var (
			rec                entity.StoredReceipt
			blobKey, linked    sql.NullString
			extraction, status string
			created, expires   int64
			lastAccessed       sql.NullInt64
		)
		dest := []any{&rec.Token, &rec.OwnerID, &rec.Filename, &rec.ContentType, &rec.SizeBytes, &blobKey, &extraction,
			&created, &expires, &rec.AccessCount, &lastAccessed, &linked, &status}
		if withContent {
			dest = append(dest, &rec.Content)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(extraction), &rec.Extraction); err != nil {
			return nil, fmt.Errorf("receipt %s: decode extraction: %w", rec.Token, err)
		}
		rec.BlobKey = blobKey.String
		rec.LinkedEntryID = linked.String
		rec.Status = constants.ReceiptStatus(status)
		rec.CreatedAt = time.UnixMilli(created).UTC()
		rec.ExpiresAt = time.UnixMilli(expires).UTC()
		if lastAccessed.Valid {
			at := time.UnixMilli(lastAccessed.Int64).UTC()
			rec.LastAccessedAt = &at
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
