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
	"github.com/joseph-ayodele/receipt-intake/internal/pipeline"
)

// Creator is the idempotent create-from-token operation.
type Creator interface {
	CreateFromToken(ctx context.Context, token, ownerID string, ov pipeline.Overrides) (pipeline.CreateResult, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	creator Creator
	logger  *slog.Logger
}

func NewProcessor(creator Creator, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{creator: creator, logger: logger}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(LinkRetryTask, p.handleLinkRetry)
	return mux
}

// handleLinkRetry treats an already linked receipt as done. Receipts that
// expired or cannot form a valid entry are not retried.
func (p *Processor) handleLinkRetry(ctx context.Context, task *asynq.Task) error {
	start := time.Now()
	var payload LinkRetryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}

	res, err := p.creator.CreateFromToken(ctx, payload.Token, payload.OwnerID, pipeline.Overrides{})
	switch {
	case err == nil:
		p.logger.Info("jobs.link_retry.ok",
			"owner_id", payload.OwnerID,
			"entry_id", res.Entry.ID,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil
	case errors.Is(err, common.ErrAlreadyLinked):
		p.logger.Info("jobs.link_retry.already_linked", "owner_id", payload.OwnerID)
		return nil
	case errors.Is(err, common.ErrNotFoundOrExpired), common.IsValidationError(err):
		p.logger.Warn("jobs.link_retry.dropped", "owner_id", payload.OwnerID, "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		p.logger.Error("jobs.link_retry.failed", "owner_id", payload.OwnerID, "error", err)
		return err
	}
}
