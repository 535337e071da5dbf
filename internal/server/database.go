package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/receiptstore"
	repo "github.com/joseph-ayodele/receipt-intake/internal/repository"
)

// Storage bundles the SQL handle, the receipt store and the ledger built on it.
type Storage struct {
	DB     *repo.DB
	Store  *receiptstore.Store
	Ledger repo.LedgerRepository
	logger *slog.Logger
}

// ConnectStorage opens the database named by cfg.Database.DSN, ensures the
// schema, and builds the receipt store. Receipts stay in process memory
// unless a DSN is set; MinIO offload is enabled when an endpoint is set.
func ConnectStorage(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to database")
	db, err := repo.Open(ctx, repo.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		logger.Error("failed to ensure schema", "error", err)
		return nil, err
	}

	opts := []receiptstore.Option{
		receiptstore.WithTTL(cfg.Storage.TTL),
		receiptstore.WithEvictionInterval(cfg.Storage.EvictionInterval),
	}
	if cfg.Blob.Endpoint != "" {
		blobs, err := receiptstore.NewMinioBlobs(cfg.Blob, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := blobs.EnsureBucket(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		opts = append(opts, receiptstore.WithBlobStore(blobs))
		logger.Info("blob offload enabled", "endpoint", cfg.Blob.Endpoint, "bucket", cfg.Blob.Bucket)
	}

	var backend receiptstore.Backend
	if cfg.Database.DSN == "" {
		backend = receiptstore.NewMemoryBackend()
		logger.Info("receipt store backend", "kind", "memory")
	} else {
		backend = receiptstore.NewSQLBackend(db, logger)
		logger.Info("receipt store backend", "kind", "sql", "postgres", db.Postgres())
	}

	logger.Info("successfully connected to database")
	return &Storage{
		DB:     db,
		Store:  receiptstore.New(backend, logger, opts...),
		Ledger: repo.NewLedgerRepository(db, logger),
		logger: logger,
	}, nil
}

// Ping checks the database and the receipt store backend.
func (s *Storage) Ping(ctx context.Context, timeout time.Duration) error {
	s.logger.Debug("pinging database")
	if err := s.DB.HealthCheck(ctx, timeout); err != nil {
		s.logger.Error("database ping failed", "error", err)
		return err
	}
	return s.Store.Ping(ctx)
}

// Close stops the janitor and closes the database.
func (s *Storage) Close() error {
	s.logger.Info("closing storage")
	return errors.Join(s.Store.Close(), s.DB.Close())
}
