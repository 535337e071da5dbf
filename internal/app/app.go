// Package app wires configuration into a ready pipeline and its storage.
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/duplicate"
	"github.com/joseph-ayodele/receipt-intake/internal/export"
	"github.com/joseph-ayodele/receipt-intake/internal/extract"
	"github.com/joseph-ayodele/receipt-intake/internal/jobs"
	"github.com/joseph-ayodele/receipt-intake/internal/llm/openai"
	"github.com/joseph-ayodele/receipt-intake/internal/pipeline"
	"github.com/joseph-ayodele/receipt-intake/internal/server"
	"github.com/joseph-ayodele/receipt-intake/internal/validation"
)

type App struct {
	Config    *common.Config
	Storage   *server.Storage
	Validator *validation.Validator
	Pipeline  *pipeline.Pipeline
	Exporter  *export.Service
	// Enqueuer is nil when no Redis address is configured.
	Enqueuer *jobs.Enqueuer

	queue  *asynq.Client
	logger *slog.Logger
}

// Build opens storage and assembles the pipeline. Close releases everything.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	storage, err := server.ConnectStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Storage:   storage,
		Validator: validation.NewValidator(logger),
		Exporter:  export.NewService(storage.Store, logger),
		logger:    logger,
	}

	collab := newCollaborator(cfg, logger)

	pc := pipeline.Context{
		Validator:     a.Validator,
		Authenticator: collab,
		Extractor:     collab,
		Detector:      duplicate.NewDetector(storage.Ledger, logger),
		Store:         storage.Store,
		Ledger:        storage.Ledger,
		Policy:        pipeline.Policy{MinConfidence: cfg.Pipeline.AutoCreateMinConfidence},
		Logger:        logger,
	}
	if cfg.Pipeline.OwnerLockEnabled {
		pc.OwnerLocks = pipeline.NewOwnerLocks()
	}
	if cfg.Queue.RedisAddr != "" {
		a.queue = asynq.NewClient(jobs.RedisOpt(cfg.Queue))
		a.Enqueuer = jobs.NewEnqueuer(a.queue, cfg.Queue, logger)
		pc.Retrier = a.Enqueuer
		logger.Info("link retry queue enabled", "redis_addr", cfg.Queue.RedisAddr)
	}
	a.Pipeline = pipeline.New(pc)
	return a, nil
}

// newCollaborator builds the OpenAI extractor and authenticator behind the
// retry policy, with the fallback model used once on timeout.
func newCollaborator(cfg *common.Config, logger *slog.Logger) *extract.Resilient {
	base := openai.Config{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		Timeout:         cfg.LLM.Timeout,
		LenientOptional: true,
	}
	primary := openai.NewClient(base, logger)

	opts := []extract.ResilientOption{extract.WithAuthenticator(primary)}
	if fb := cfg.LLM.FallbackModel; fb != "" && fb != cfg.LLM.Model {
		fbCfg := base
		fbCfg.Model = fb
		opts = append(opts, extract.WithFallback(openai.NewClient(fbCfg, logger)))
	}
	return extract.NewResilient(primary, extract.RetryConfig{
		Timeout:        cfg.LLM.Timeout,
		MaxRetries:     cfg.LLM.MaxRetries,
		BackoffInitial: cfg.LLM.BackoffStart,
		BackoffMax:     cfg.LLM.BackoffMax,
	}, logger, opts...)
}

func (a *App) Close() error {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	errs = append(errs, a.Storage.Close())
	return errors.Join(errs...)
}
