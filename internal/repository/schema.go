package repository

import (
	"context"
	"fmt"
	"strings"
)

const (
	TableReceipts = "stored_receipts"
	TableLedger   = "ledger_entries"
)

// timestamps are unix milliseconds so both dialects compare them the same way
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS stored_receipts (
		token                  TEXT PRIMARY KEY,
		owner_id               TEXT NOT NULL,
		filename               TEXT NOT NULL,
		content_type           TEXT NOT NULL,
		size_bytes             BIGINT NOT NULL DEFAULT 0,
		content                {{BLOB}},
		blob_key               TEXT,
		extraction             TEXT NOT NULL,
		created_at             BIGINT NOT NULL,
		expires_at             BIGINT NOT NULL,
		access_count           BIGINT NOT NULL DEFAULT 0,
		last_accessed_at       BIGINT,
		linked_ledger_entry_id TEXT,
		status                 TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stored_receipts_owner_idx ON stored_receipts (owner_id)`,
	`CREATE INDEX IF NOT EXISTS stored_receipts_expires_idx ON stored_receipts (expires_at)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id             TEXT PRIMARY KEY,
		owner_id       TEXT NOT NULL,
		description    TEXT NOT NULL,
		amount         TEXT NOT NULL,
		category       TEXT NOT NULL,
		entry_date     TEXT NOT NULL,
		payment_method TEXT,
		notes          TEXT,
		receipt_token  TEXT UNIQUE,
		created_at     BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_owner_idx ON ledger_entries (owner_id, entry_date)`,
}

// EnsureSchema creates the tables used by the receipt store and ledger.
func (d *DB) EnsureSchema(ctx context.Context) error {
	blob := "BLOB"
	if d.Postgres() {
		blob = "BYTEA"
	}
	for _, stmt := range schemaStatements {
		stmt = strings.ReplaceAll(stmt, "{{BLOB}}", blob)
		if err := d.Exec(ctx, stmt, []any{}, nil); err != nil {
			d.logger.Error("schema.apply.failed", "error", err)
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	d.logger.Debug("schema.apply.ok", "dialect", d.Dialect())
	return nil
}
