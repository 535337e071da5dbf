package extract

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
)

// ReasonServiceTimeout is reported when a collaborator stays unavailable after all retries.
const ReasonServiceTimeout = "service timeout"

type RetryConfig struct {
	Timeout        time.Duration // per attempt
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Second
	}
	return c
}

type ResilientOption func(*Resilient)

// WithFallback sets the extractor tried once when the primary keeps timing out.
func WithFallback(e Extractor) ResilientOption {
	return func(r *Resilient) { r.fallback = e }
}

// WithAuthenticator wraps an authenticator with the same retry policy.
func WithAuthenticator(a Authenticator) ResilientOption {
	return func(r *Resilient) { r.auth = a }
}

// Resilient bounds every collaborator call with a timeout and retries
// transient failures with exponential backoff. It implements both
// Extractor and Authenticator.
type Resilient struct {
	primary  Extractor
	fallback Extractor
	auth     Authenticator
	cfg      RetryConfig
	logger   *slog.Logger
}

func NewResilient(primary Extractor, cfg RetryConfig, logger *slog.Logger, opts ...ResilientOption) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resilient{primary: primary, cfg: cfg.withDefaults(), logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Extract returns ErrExtractionUnavailable once retries and the fallback are
// exhausted on timeouts or transient failures. Permanent failures such as a
// 400 or 401 are returned as is. A malformed reply is reported as a
// non-plausible extraction.
func (r *Resilient) Extract(ctx context.Context, doc Document) (entity.ExtractionResult, error) {
	res, err := retry(ctx, r, "extract", r.cfg.MaxRetries, func(ctx context.Context) (entity.ExtractionResult, error) {
		return r.primary.Extract(ctx, doc)
	})
	if err != nil && r.fallback != nil && isTimeout(err) && ctx.Err() == nil {
		r.logger.Warn("extract.fallback.start", "filename", doc.Filename)
		res, err = retry(ctx, r, "extract.fallback", 0, func(ctx context.Context) (entity.ExtractionResult, error) {
			return r.fallback.Extract(ctx, doc)
		})
	}
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, ErrMalformedResponse):
		r.logger.Warn("extract.malformed", "filename", doc.Filename, "error", err)
		return notPlausible("unparseable extraction response"), nil
	case ctx.Err() != nil:
		return entity.ExtractionResult{}, ctx.Err()
	case !transient(err):
		r.logger.Warn("extract.rejected", "filename", doc.Filename, "error", err)
		return entity.ExtractionResult{}, err
	default:
		return entity.ExtractionResult{}, unavailable(err)
	}
}

// Check runs the wrapped authenticator, or accepts everything when none is set.
func (r *Resilient) Check(ctx context.Context, doc Document) (AuthResult, error) {
	if r.auth == nil {
		return AuthResult{Valid: true}, nil
	}
	res, err := retry(ctx, r, "authenticate", r.cfg.MaxRetries, func(ctx context.Context) (AuthResult, error) {
		return r.auth.Check(ctx, doc)
	})
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, ErrMalformedResponse):
		r.logger.Warn("authenticate.malformed", "filename", doc.Filename, "error", err)
		return AuthResult{Valid: false, Reason: "could not verify receipt authenticity"}, nil
	case ctx.Err() != nil:
		return AuthResult{}, ctx.Err()
	case !transient(err):
		r.logger.Warn("authenticate.rejected", "filename", doc.Filename, "error", err)
		return AuthResult{}, err
	default:
		return AuthResult{}, unavailable(err)
	}
}

func retry[T any](ctx context.Context, r *Resilient, op string, maxRetries int, call func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BackoffInitial
	b.MaxInterval = r.cfg.BackoffMax
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)

	attempt := 0
	operation := func() (T, error) {
		attempt++
		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()

		out, err := call(attemptCtx)
		if err == nil {
			r.logger.Debug(op+".attempt.ok", "attempt", attempt, "elapsed_ms", time.Since(start).Milliseconds())
			return out, nil
		}
		// a deadline hit inside the attempt surfaces as a timeout regardless of how the callee wrapped it
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			err = errors.Join(context.DeadlineExceeded, err)
		}
		if !transient(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn(op+".retry", "attempt", attempt, "error", err, "wait_ms", wait.Milliseconds())
	}
	return backoff.RetryNotifyWithData(operation, policy, notify)
}

func transient(err error) bool {
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func unavailable(cause error) error {
	return common.NewAppError("EXTRACTION_UNAVAILABLE", ReasonServiceTimeout, errors.Join(common.ErrExtractionUnavailable, cause))
}
