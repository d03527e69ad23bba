package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// SlideConfig controls how slides are opened and summarized.
type SlideConfig struct {
	Backend            string // "tiff"|"fitz"
	FitzDPI            float64
	PixelBudget        int64
	PreviewMaxSide     int
	PreviewJPEGQuality int
	SummaryTimeout     time.Duration
	MaxInflight        int
}

// HTTPConfig holds server settings.
type HTTPConfig struct {
	Port           string
	MaxUploadBytes int64
	UploadDir      string
	WebUsername    string
	WebPassword    string
}

// WorkerConfig defines worker behavior and limits.
type WorkerConfig struct {
	Enabled     bool
	Concurrency int
	JobTimeout  time.Duration
	TempMaxAge  time.Duration
	// Transient failures (S3 download, store writes) are re-queued with
	// exponential backoff until MaxAttempts.
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// QueueConfig defines queue connectivity and names. An empty RedisURL selects
// the in-memory queue and store.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
	ResultTTL    time.Duration
}

// ArchiveConfig defines the optional S3 archive of results.
type ArchiveConfig struct {
	Bucket   string
	Region   string
	Prefix   string
	Password string
	// Endpoint and keys target S3-compatible stores; empty uses the AWS chain.
	Endpoint  string
	AccessKey string
	SecretKey string
}

// HistoryConfig points at the SQLite analysis log. Empty Path disables it.
type HistoryConfig struct {
	Path string
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Slide   SlideConfig
	HTTP    HTTPConfig
	Worker  WorkerConfig
	Queue   QueueConfig
	Archive ArchiveConfig
	History HistoryConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pathdesk.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pathdesk",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	// Slide defaults
	cfg.Slide = SlideConfig{
		Backend:            strings.ToLower(getEnv("SLIDE_BACKEND", "tiff")),
		FitzDPI:            parseFloat(getEnv("FITZ_DPI", "72"), 72),
		PixelBudget:        parseInt64(getEnv("PIXEL_BUDGET", "4000000"), 4_000_000),
		PreviewMaxSide:     parseInt(getEnv("PREVIEW_MAX_SIDE", "800"), 800),
		PreviewJPEGQuality: parseInt(getEnv("PREVIEW_JPEG_QUALITY", "90"), 90),
		SummaryTimeout:     parseDuration(getEnv("SUMMARY_TIMEOUT", "5m"), 5*time.Minute),
		MaxInflight:        parseInt(getEnv("MAX_INFLIGHT_SUMMARIES", "2"), 2),
	}
	if cfg.Slide.PixelBudget <= 0 {
		cfg.Slide.PixelBudget = 4_000_000
	}
	if cfg.Slide.MaxInflight <= 0 {
		cfg.Slide.MaxInflight = 1
	}

	cfg.HTTP = HTTPConfig{
		Port:           getEnv("PORT", "8080"),
		MaxUploadBytes: parseInt64(getEnv("MAX_UPLOAD_BYTES", ""), 5<<30),
		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),
		WebUsername:    getEnv("WEB_USERNAME", ""),
		WebPassword:    getEnv("WEB_PASSWORD", ""),
	}

	// Worker defaults
	cfg.Worker = WorkerConfig{
		Enabled:     parseBool(getEnv("RUN_DISPATCHER", "true")),
		Concurrency: parseInt(getEnv("WORKER_CONCURRENCY", "2"), 2),
		JobTimeout:  parseDuration(getEnv("JOB_TIMEOUT", "10m"), 10*time.Minute),
		TempMaxAge:  parseDuration(getEnv("TEMP_MAX_AGE", "1h"), time.Hour),

		MaxAttempts:    parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
		RetryBaseDelay: parseDuration(getEnv("JOB_RETRY_BASE_DELAY", "5s"), 5*time.Second),
		RetryMaxDelay:  parseDuration(getEnv("JOB_RETRY_MAX_DELAY", "5m"), 5*time.Minute),
	}
	if cfg.Worker.MaxAttempts < 1 {
		cfg.Worker.MaxAttempts = 1
	}

	// Queue defaults
	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", ""),
		Stream:       getEnv("QUEUE_STREAM", "jobs:slides"),
		Group:        getEnv("QUEUE_GROUP", "workers:slides"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
		ResultTTL:    parseDuration(getEnv("RESULT_TTL", "24h"), 24*time.Hour),
	}

	cfg.Archive = ArchiveConfig{
		Bucket:   getEnv("AWS_S3_BUCKET", ""),
		Region:   getEnv("AWS_REGION", "us-east-1"),
		Prefix:   strings.Trim(getEnv("ARCHIVE_PREFIX", "results"), "/"),
		Password: getEnv("ARCHIVE_PASSWORD", ""),

		Endpoint:  getEnv("AWS_S3_ENDPOINT", ""),
		AccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
	}

	// HISTORY_DB set to an empty string turns the history off.
	cfg.History = HistoryConfig{Path: "data/pathdesk.db"}
	if v, ok := os.LookupEnv("HISTORY_DB"); ok {
		cfg.History.Path = v
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
