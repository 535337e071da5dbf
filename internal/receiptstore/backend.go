package receiptstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
)

var (
	// errTokenExists asks the store to draw another token.
	errTokenExists = errors.New("token already exists")
	// errExpired is a not-found that also evicted the record.
	errExpired = fmt.Errorf("%w: evicted on read", common.ErrNotFoundOrExpired)
)

// Backend persists receipt records. Each method must be atomic with respect
// to the others for a given token. Records are live while now <= ExpiresAt.
type Backend interface {
	Insert(ctx context.Context, rec *entity.StoredReceipt) error
	// Get returns the live record and bumps its access count in the same step.
	Get(ctx context.Context, token, ownerID string, now time.Time) (*entity.StoredReceipt, error)
	Link(ctx context.Context, token, ownerID, entryID string, now time.Time) error
	Delete(ctx context.Context, token, ownerID string, now time.Time) (bool, error)
	// List returns metadata for the owner's live records and the tokens it evicted.
	List(ctx context.Context, ownerID string, now time.Time) ([]entity.StoredReceipt, []string, error)
	PurgeExpired(ctx context.Context, now time.Time) ([]string, error)
	// Stats counts the owner's records, or every record when ownerID is empty.
	Stats(ctx context.Context, ownerID string, now time.Time) (entity.StoreStats, error)
	Ping(ctx context.Context) error
}
