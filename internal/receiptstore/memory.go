package receiptstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/joseph-ayodele/receipt-intake/constants"
	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
)

// MemoryBackend keeps records in process memory. It is the default when no
// database is configured.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*entity.StoredReceipt
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]*entity.StoredReceipt)}
}

func (m *MemoryBackend) Insert(_ context.Context, rec *entity.StoredReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Token]; ok {
		return errTokenExists
	}
	m.records[rec.Token] = clone(rec)
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, token, ownerID string, now time.Time) (*entity.StoredReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[token]
	if !ok {
		return nil, common.ErrNotFoundOrExpired
	}
	if rec.Expired(now) {
		delete(m.records, token)
		return nil, errExpired
	}
	if rec.OwnerID != ownerID {
		return nil, common.ErrNotFoundOrExpired
	}
	rec.AccessCount++
	at := now
	rec.LastAccessedAt = &at
	return clone(rec), nil
}

func (m *MemoryBackend) Link(_ context.Context, token, ownerID, entryID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[token]
	if !ok || rec.OwnerID != ownerID {
		return common.ErrNotFoundOrExpired
	}
	if rec.Expired(now) {
		delete(m.records, token)
		return errExpired
	}
	if rec.LinkedEntryID != "" {
		return common.ErrAlreadyLinked
	}
	rec.LinkedEntryID = entryID
	rec.Status = constants.ReceiptStatusProcessed
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, token, ownerID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[token]
	if !ok || rec.OwnerID != ownerID {
		return false, nil
	}
	delete(m.records, token)
	return !rec.Expired(now), nil
}

func (m *MemoryBackend) List(_ context.Context, ownerID string, now time.Time) ([]entity.StoredReceipt, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		out     []entity.StoredReceipt
		evicted []string
	)
	for token, rec := range m.records {
		if rec.OwnerID != ownerID {
			continue
		}
		if rec.Expired(now) {
			delete(m.records, token)
			evicted = append(evicted, token)
			continue
		}
		out = append(out, rec.Meta())
	}
	sortNewestFirst(out)
	return out, evicted, nil
}

func (m *MemoryBackend) PurgeExpired(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged []string
	for token, rec := range m.records {
		if rec.Expired(now) {
			delete(m.records, token)
			purged = append(purged, token)
		}
	}
	return purged, nil
}

func (m *MemoryBackend) Stats(_ context.Context, ownerID string, now time.Time) (entity.StoreStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st entity.StoreStats
	for _, rec := range m.records {
		if ownerID != "" && rec.OwnerID != ownerID {
			continue
		}
		st.Total++
		if rec.Expired(now) {
			st.Expired++
		} else {
			st.Active++
		}
		st.SizeBytes += rec.SizeBytes
	}
	return st, nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

func clone(rec *entity.StoredReceipt) *entity.StoredReceipt {
	c := *rec
	if rec.Content != nil {
		c.Content = append([]byte(nil), rec.Content...)
	}
	if rec.LastAccessedAt != nil {
		at := *rec.LastAccessedAt
		c.LastAccessedAt = &at
	}
	c.Extraction.Items = append([]entity.LineItem(nil), rec.Extraction.Items...)
	c.Extraction.Warnings = append([]string(nil), rec.Extraction.Warnings...)
	return &c
}

func sortNewestFirst(recs []entity.StoredReceipt) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].Token < recs[j].Token
	})
}
