package receiptstore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joseph-ayodele/receipt-intake/constants"
	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
)

const (
	DefaultTTL              = 24 * time.Hour
	DefaultEvictionInterval = time.Hour

	maxTokenAttempts = 3
	purgeTimeout     = time.Minute
)

// PutRequest is what the pipeline hands over once a receipt passed every gate.
type PutRequest struct {
	OwnerID     string
	Filename    string
	ContentType string
	Content     []byte
	Extraction  entity.ExtractionResult
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithEvictionInterval sets the janitor period; zero or negative disables it.
func WithEvictionInterval(d time.Duration) Option {
	return func(s *Store) { s.interval = d }
}

// WithBlobStore offloads content bytes; the backend then only keeps the key.
func WithBlobStore(b BlobStore) Option {
	return func(s *Store) { s.blobs = b }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the receipt store: token issue, owner-scoped access, expiry and
// background eviction over a pluggable Backend.
type Store struct {
	backend  Backend
	blobs    BlobStore
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a store and starts its janitor. Close stops it.
func New(backend Backend, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend:  backend,
		ttl:      DefaultTTL,
		interval: DefaultEvictionInterval,
		now:      time.Now,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval > 0 {
		go s.janitor()
	} else {
		close(s.done)
	}
	return s
}

// Put persists a new receipt and returns its token. The content is copied;
// the caller keeps no reference into the stored record.
func (s *Store) Put(ctx context.Context, req PutRequest) (string, error) {
	start := time.Now()
	if strings.TrimSpace(req.OwnerID) == "" {
		return "", common.NewAppError("VALIDATION_ERROR", "owner id is required", common.ErrInvalidInput)
	}
	content := append([]byte(nil), req.Content...)
	now := s.now().UTC().Truncate(time.Millisecond)

	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token, err := NewToken()
		if err != nil {
			return "", common.StorageError("issue token", err)
		}
		rec := &entity.StoredReceipt{
			Token:       token,
			OwnerID:     req.OwnerID,
			Filename:    req.Filename,
			ContentType: req.ContentType,
			SizeBytes:   int64(len(content)),
			Content:     content,
			Extraction:  req.Extraction,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.ttl),
			Status:      constants.ReceiptStatusStored,
		}
		if s.blobs != nil {
			rec.BlobKey = blobKey(token)
			rec.Content = nil
			if err := s.blobs.Put(ctx, rec.BlobKey, content, req.ContentType); err != nil {
				s.logger.Error("store.put.blob_failed", "owner_id", req.OwnerID, "error", err)
				return "", err
			}
		}

		err = s.backend.Insert(ctx, rec)
		if errors.Is(err, errTokenExists) {
			s.dropBlob(ctx, rec)
			s.logger.Warn("store.put.token_collision", "attempt", attempt)
			continue
		}
		if err != nil {
			s.dropBlob(ctx, rec)
			s.logger.Error("store.put.failed", "owner_id", req.OwnerID, "error", err)
			return "", err
		}
		s.logger.Info("store.put.ok",
			"owner_id", req.OwnerID,
			"filename", req.Filename,
			"size_bytes", rec.SizeBytes,
			"expires_at", rec.ExpiresAt,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return token, nil
	}
	return "", common.StorageError("issue token", errTokenExists)
}

// Get returns the live receipt with its content, or ErrNotFoundOrExpired for
// unknown, expired and foreign tokens alike.
func (s *Store) Get(ctx context.Context, token, ownerID string) (*entity.StoredReceipt, error) {
	if token == "" || ownerID == "" {
		return nil, common.ErrNotFoundOrExpired
	}
	rec, err := s.backend.Get(ctx, token, ownerID, s.now())
	if errors.Is(err, errExpired) {
		s.logger.Info("store.get.expired", "owner_id", ownerID)
		s.dropBlob(ctx, &entity.StoredReceipt{Token: token, BlobKey: s.keyFor(token)})
		return nil, common.ErrNotFoundOrExpired
	}
	if err != nil {
		if !errors.Is(err, common.ErrNotFoundOrExpired) {
			s.logger.Error("store.get.failed", "owner_id", ownerID, "error", err)
		}
		return nil, err
	}
	if rec.BlobKey != "" {
		if s.blobs == nil {
			return nil, common.StorageError("get receipt content", errors.New("blob store not configured"))
		}
		if rec.Content, err = s.blobs.Get(ctx, rec.BlobKey); err != nil {
			if errors.Is(err, common.ErrNotFoundOrExpired) {
				s.logger.Info("store.get.blob_gone", "owner_id", ownerID)
				return nil, common.ErrNotFoundOrExpired
			}
			s.logger.Error("store.get.blob_failed", "owner_id", ownerID, "error", err)
			return nil, err
		}
	}
	return rec, nil
}

// Link marks a receipt processed and records its ledger entry. It fails with
// ErrAlreadyLinked when the receipt was linked before.
func (s *Store) Link(ctx context.Context, token, ownerID, entryID string) error {
	if token == "" || ownerID == "" {
		return common.ErrNotFoundOrExpired
	}
	err := s.backend.Link(ctx, token, ownerID, entryID, s.now())
	if errors.Is(err, errExpired) {
		s.dropBlob(ctx, &entity.StoredReceipt{Token: token, BlobKey: s.keyFor(token)})
		return common.ErrNotFoundOrExpired
	}
	if err != nil {
		return err
	}
	s.logger.Info("store.link.ok", "owner_id", ownerID, "entry_id", entryID)
	return nil
}

// Delete removes the owner's receipt. It reports whether a live record was removed.
func (s *Store) Delete(ctx context.Context, token, ownerID string) (bool, error) {
	if token == "" || ownerID == "" {
		return false, nil
	}
	ok, err := s.backend.Delete(ctx, token, ownerID, s.now())
	if err != nil {
		s.logger.Error("store.delete.failed", "owner_id", ownerID, "error", err)
		return false, err
	}
	if ok {
		s.dropBlob(ctx, &entity.StoredReceipt{Token: token, BlobKey: s.keyFor(token)})
		s.logger.Info("store.delete.ok", "owner_id", ownerID)
	}
	return ok, nil
}

// List returns metadata (no content) for the owner's live receipts, newest first.
func (s *Store) List(ctx context.Context, ownerID string) ([]entity.StoredReceipt, error) {
	recs, evicted, err := s.backend.List(ctx, ownerID, s.now())
	if err != nil {
		s.logger.Error("store.list.failed", "owner_id", ownerID, "error", err)
		return nil, err
	}
	s.dropBlobs(ctx, evicted)
	if len(evicted) > 0 {
		s.logger.Info("store.list.evicted", "owner_id", ownerID, "count", len(evicted))
	}
	if recs == nil {
		recs = []entity.StoredReceipt{}
	}
	return recs, nil
}

// PurgeExpired evicts every expired record and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	start := time.Now()
	purged, err := s.backend.PurgeExpired(ctx, s.now())
	if err != nil {
		s.logger.Error("store.evict.failed", "error", err)
		return 0, err
	}
	s.dropBlobs(ctx, purged)
	s.logger.Info("store.evict.ok", "count", len(purged), "elapsed_ms", time.Since(start).Milliseconds())
	return len(purged), nil
}

// Stats covers every owner and is meant for operator tooling only.
func (s *Store) Stats(ctx context.Context) (entity.StoreStats, error) {
	return s.backend.Stats(ctx, "", s.now())
}

// OwnerStats counts only the owner's receipts.
func (s *Store) OwnerStats(ctx context.Context, ownerID string) (entity.StoreStats, error) {
	if ownerID == "" {
		return entity.StoreStats{}, nil
	}
	return s.backend.Stats(ctx, ownerID, s.now())
}

func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close stops the janitor and waits for an in-flight purge to finish.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *Store) janitor() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("store.janitor.start", "interval", s.interval.String())
	for {
		select {
		case <-s.stop:
			s.logger.Info("store.janitor.stop")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
			_, _ = s.PurgeExpired(ctx)
			cancel()
		}
	}
}

func (s *Store) keyFor(token string) string {
	if s.blobs == nil {
		return ""
	}
	return blobKey(token)
}

func (s *Store) dropBlobs(ctx context.Context, tokens []string) {
	for _, t := range tokens {
		s.dropBlob(ctx, &entity.StoredReceipt{Token: t, BlobKey: s.keyFor(t)})
	}
}

// dropBlob is best effort; an orphaned object only costs space.
func (s *Store) dropBlob(ctx context.Context, rec *entity.StoredReceipt) {
	if s.blobs == nil || rec.BlobKey == "" {
		return
	}
	if err := s.blobs.Delete(ctx, rec.BlobKey); err != nil {
		s.logger.Warn("store.blob.delete_failed", "error", err)
	}
}
