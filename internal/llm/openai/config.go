package openai

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "gpt-4o-mini"
	defaultTimeout      = 30 * time.Second
	defaultMinAuthBytes = 1 << 10
	defaultMaxAuthBytes = 10 << 20
)

// Config for the chat/completions client. The API key is read by the
// application config layer, not here.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	// Timeout bounds one HTTP exchange; retries are layered on top by extract.Resilient.
	Timeout time.Duration
	// LenientOptional drops schema-violating optional fields instead of failing the reply.
	LenientOptional bool
	// MinAuthBytes and MaxAuthBytes bound what the authenticity gate sends to the model.
	MinAuthBytes int
	MaxAuthBytes int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MinAuthBytes <= 0 {
		c.MinAuthBytes = defaultMinAuthBytes
	}
	if c.MaxAuthBytes <= 0 {
		c.MaxAuthBytes = defaultMaxAuthBytes
	}
	return c
}

// Client extracts receipt fields and checks authenticity through one model.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("model", cfg.Model),
		now:    time.Now,
	}
}
