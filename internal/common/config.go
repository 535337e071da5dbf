package common

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Storage  StorageConfig
	Blob     BlobConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
	Queue    QueueConfig
	Auth     AuthConfig
	Log      LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string // postgres://, file: or empty for in-memory
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration
}

// StorageConfig controls receipt retention
type StorageConfig struct {
	TTL              time.Duration
	EvictionInterval time.Duration
}

// BlobConfig enables MinIO offload of sanitized bytes when Endpoint is set
type BlobConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Model         string
	FallbackModel string
	APIKey        string
	BaseURL       string
	Temperature   float32
	Timeout       time.Duration
	MaxRetries    int
	BackoffStart  time.Duration
	BackoffMax    time.Duration
}

// PipelineConfig holds the auto-create policy
type PipelineConfig struct {
	AutoCreateMinConfidence float64
	OwnerLockEnabled        bool
	IngestWorkers           int
	IngestQueueSize         int
}

// QueueConfig configures the asynq link-retry queue; empty RedisAddr disables it
type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LinkMaxRetry  int
	Concurrency   int
}

// AuthConfig holds API authentication and throttling settings
type AuthConfig struct {
	JWTSecret           string
	UploadRatePerMinute int
	UploadRateBurst     int
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from defaults, an optional file named by
// RECEIPTS_CONFIG, and environment variables (highest precedence).
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("receipts_config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "read config file "+path, err)
		}
	}

	return &Config{
		Database: DatabaseConfig{
			DSN:              v.GetString("db_url"),
			MaxConns:         v.GetInt32("db_max_conns"),
			MinConns:         v.GetInt32("db_min_conns"),
			MaxConnLifetime:  v.GetDuration("db_max_conn_lifetime"),
			MaxConnIdleTime:  v.GetDuration("db_max_conn_idle_time"),
			DialTimeout:      v.GetDuration("db_dial_timeout"),
			StatementTimeout: v.GetDuration("db_statement_timeout"),
		},
		Server: ServerConfig{
			HTTPAddr:        v.GetString("http_addr"),
			GRPCAddr:        v.GetString("grpc_addr"),
			ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		},
		Storage: StorageConfig{
			TTL:              v.GetDuration("receipt_ttl"),
			EvictionInterval: v.GetDuration("eviction_interval"),
		},
		Blob: BlobConfig{
			Endpoint:  v.GetString("minio_endpoint"),
			AccessKey: v.GetString("minio_access_key"),
			SecretKey: v.GetString("minio_secret_key"),
			Bucket:    v.GetString("minio_bucket"),
			Region:    v.GetString("minio_region"),
			UseSSL:    v.GetBool("minio_use_ssl"),
		},
		LLM: LLMConfig{
			Model:         v.GetString("openai_model"),
			FallbackModel: v.GetString("openai_fallback_model"),
			APIKey:        v.GetString("openai_api_key"),
			BaseURL:       v.GetString("openai_base_url"),
			Temperature:   float32(v.GetFloat64("openai_temperature")),
			Timeout:       v.GetDuration("openai_timeout"),
			MaxRetries:    v.GetInt("extract_max_retries"),
			BackoffStart:  v.GetDuration("extract_backoff_initial"),
			BackoffMax:    v.GetDuration("extract_backoff_max"),
		},
		Pipeline: PipelineConfig{
			AutoCreateMinConfidence: v.GetFloat64("auto_create_min_confidence"),
			OwnerLockEnabled:        v.GetBool("owner_lock_enabled"),
			IngestWorkers:           v.GetInt("ingest_workers"),
			IngestQueueSize:         v.GetInt("ingest_queue_size"),
		},
		Queue: QueueConfig{
			RedisAddr:     v.GetString("redis_addr"),
			RedisPassword: v.GetString("redis_password"),
			RedisDB:       v.GetInt("redis_db"),
			LinkMaxRetry:  v.GetInt("link_retry_max"),
			Concurrency:   v.GetInt("queue_concurrency"),
		},
		Auth: AuthConfig{
			JWTSecret:           v.GetString("jwt_secret"),
			UploadRatePerMinute: v.GetInt("upload_rate_per_minute"),
			UploadRateBurst:     v.GetInt("upload_rate_burst"),
		},
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_url", "")
	v.SetDefault("db_max_conns", 20)
	v.SetDefault("db_min_conns", 2)
	v.SetDefault("db_max_conn_lifetime", 30*time.Minute)
	v.SetDefault("db_max_conn_idle_time", 5*time.Minute)
	v.SetDefault("db_dial_timeout", 3*time.Second)
	v.SetDefault("db_statement_timeout", time.Duration(0))

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":8081")
	v.SetDefault("shutdown_timeout", 15*time.Second)

	v.SetDefault("receipt_ttl", 24*time.Hour)
	v.SetDefault("eviction_interval", time.Hour)

	v.SetDefault("minio_bucket", "receipts")
	v.SetDefault("minio_region", "us-east-1")

	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("openai_fallback_model", "gpt-4o")
	v.SetDefault("openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("openai_temperature", 0.1)
	v.SetDefault("openai_timeout", 30*time.Second)
	v.SetDefault("extract_max_retries", 2)
	v.SetDefault("extract_backoff_initial", 500*time.Millisecond)
	v.SetDefault("extract_backoff_max", 5*time.Second)

	v.SetDefault("auto_create_min_confidence", 0.80)
	v.SetDefault("owner_lock_enabled", false)
	v.SetDefault("ingest_workers", 4)
	v.SetDefault("ingest_queue_size", 64)

	v.SetDefault("link_retry_max", 5)
	v.SetDefault("queue_concurrency", 4)

	v.SetDefault("upload_rate_per_minute", 10)
	v.SetDefault("upload_rate_burst", 5)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Auth.JWTSecret == "" {
		return NewAppError("CONFIG_ERROR", "JWT_SECRET is required", ErrInvalidInput)
	}
	if c.Storage.TTL <= 0 {
		return NewAppError("CONFIG_ERROR", "RECEIPT_TTL must be positive", ErrInvalidInput)
	}
	if c.Pipeline.AutoCreateMinConfidence < 0 || c.Pipeline.AutoCreateMinConfidence > 1 {
		return NewAppError("CONFIG_ERROR", "AUTO_CREATE_MIN_CONFIDENCE must be within [0,1]", ErrInvalidInput)
	}
	if c.Blob.Endpoint != "" && c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "MINIO_ENDPOINT requires DB_URL for receipt metadata", ErrInvalidInput)
	}
	return nil
}
