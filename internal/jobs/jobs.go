package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/joseph-ayodele/receipt-intake/internal/common"
)

const (
	// LinkRetryTask re-issues create-from-token after the ledger failed during auto-create.
	LinkRetryTask = "receipt:link_retry"

	defaultLinkDelay    = 30 * time.Second
	defaultLinkMaxRetry = 5
)

// LinkRetryPayload identifies the stored receipt to link.
type LinkRetryPayload struct {
	Token   string `json:"token"`
	OwnerID string `json:"owner_id"`
}

// Enqueuer schedules link retries on Redis through asynq.
type Enqueuer struct {
	client   *asynq.Client
	maxRetry int
	delay    time.Duration
	logger   *slog.Logger
}

func NewEnqueuer(client *asynq.Client, cfg common.QueueConfig, logger *slog.Logger) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	maxRetry := cfg.LinkMaxRetry
	if maxRetry <= 0 {
		maxRetry = defaultLinkMaxRetry
	}
	return &Enqueuer{client: client, maxRetry: maxRetry, delay: defaultLinkDelay, logger: logger}
}

// RedisOpt builds the asynq connection options from config.
func RedisOpt(cfg common.QueueConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// NewLinkRetryTask encodes a link retry. The task id is derived from the
// token so a receipt has at most one pending retry.
func NewLinkRetryTask(token, ownerID string) (*asynq.Task, error) {
	data, err := json.Marshal(LinkRetryPayload{Token: token, OwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(LinkRetryTask, data), nil
}

// EnqueueLinkRetry schedules a delayed create-from-token for the receipt.
func (e *Enqueuer) EnqueueLinkRetry(ctx context.Context, token, ownerID string) error {
	task, err := NewLinkRetryTask(token, ownerID)
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(e.maxRetry),
		asynq.ProcessIn(e.delay),
		asynq.TaskID("link:"+token),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		e.logger.Debug("jobs.link_retry.already_queued", "owner_id", ownerID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue link retry: %w", err)
	}
	return nil
}
