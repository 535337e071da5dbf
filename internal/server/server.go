package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
	"github.com/joseph-ayodele/receipt-intake/internal/pipeline"
)

// Pipeline is the ingestion entry point the API drives.
type Pipeline interface {
	Process(ctx context.Context, up pipeline.Upload) (pipeline.Outcome, error)
	CreateFromToken(ctx context.Context, token, ownerID string, ov pipeline.Overrides) (pipeline.CreateResult, error)
}

// ReceiptStore is the owner-scoped retrieval surface of the receipt store.
type ReceiptStore interface {
	Get(ctx context.Context, token, ownerID string) (*entity.StoredReceipt, error)
	Delete(ctx context.Context, token, ownerID string) (bool, error)
	List(ctx context.Context, ownerID string) ([]entity.StoredReceipt, error)
	OwnerStats(ctx context.Context, ownerID string) (entity.StoreStats, error)
	Ping(ctx context.Context) error
}

type Exporter interface {
	ExportReceiptsXLSX(ctx context.Context, ownerID string, pendingOnly bool) ([]byte, int, error)
}

// Config for the HTTP API handler.
type Config struct {
	Pipeline Pipeline
	Store    ReceiptStore
	Exporter Exporter
	BasePath string
	Auth     AuthConfig
	Limits   RateConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"receipt not found or expired"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError is the {"error":{...}} envelope every failure is rendered as.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type handlers struct {
	pipeline Pipeline
	store    ReceiptStore
	exporter Exporter
	limits   *ownerLimiter
	logger   *slog.Logger
}

// New returns an HTTP handler exposing the receipt intake API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Pipeline == nil || cfg.Store == nil {
		return nil, errors.New("server: pipeline and store are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))

	hcfg := huma.DefaultConfig("Receipt Intake API", "1.0.0")
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = basePath + "/docs"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := &handlers{
		pipeline: cfg.Pipeline,
		store:    cfg.Store,
		exporter: cfg.Exporter,
		limits:   newOwnerLimiter(cfg.Limits),
		logger:   logger,
	}
	registerHealth(group, h)
	registerReceipts(group, h)
	registerExport(group, h)

	return router, nil
}

// requestLogger tags each request with a req_id and logs its completion.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", reqID)
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(common.WithRequestID(r.Context(), reqID)))
			logger.Info("http.request",
				"req_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain errors onto the API's status codes.
func (h *handlers) handleError(ctx context.Context, op string, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var ae *common.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	switch {
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, common.ErrUnauthorized):
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	case errors.Is(err, common.ErrNotFoundOrExpired), errors.Is(err, common.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", common.ErrNotFoundOrExpired.Error(), nil)
	case errors.Is(err, common.ErrAlreadyLinked):
		return newAPIError(http.StatusConflict, "already_linked", common.ErrAlreadyLinked.Error(), nil)
	case errors.Is(err, common.ErrRateLimited):
		return newAPIError(http.StatusTooManyRequests, "rate_limited", "upload rate exceeded", nil)
	case errors.Is(err, common.ErrStorageUnavailable):
		h.logger.Error("http.storage_unavailable", "req_id", common.RequestIDFromContext(ctx), "op", op, "error", err)
		return newAPIError(http.StatusServiceUnavailable, "storage_unavailable", "storage unavailable", nil)
	case errors.Is(err, common.ErrExtractionUnavailable), errors.Is(err, common.ErrLedgerUnavailable):
		h.logger.Warn("http.dependency_unavailable", "req_id", common.RequestIDFromContext(ctx), "op", op, "error", err)
		return newAPIError(http.StatusServiceUnavailable, "service_unavailable", msg, nil)
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "timeout", "request timed out", nil)
	default:
		h.logger.Error("http.internal_error", "req_id", common.RequestIDFromContext(ctx), "op", op, "error", err)
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}
