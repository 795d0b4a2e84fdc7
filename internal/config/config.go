package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/artemis/databridge/internal/observability"
)

// Config holds all application configuration. Fields are populated from
// environment variables by Load; a zero Config is never used directly.
type Config struct {
	HTTPAddr string `json:"http_addr"`

	PostgresDSN string `json:"postgres_dsn"`
	RedisAddr   string `json:"redis_addr"`

	WorkerConcurrency int `json:"worker_concurrency"`

	ImportBatchSize     int           `json:"import_batch_size"`
	ImportMaxFileSize   int64         `json:"import_max_file_size"`
	ImportMaxRecords    int           `json:"import_max_records"`
	ImportAllowedHosts  []string      `json:"import_allowed_hosts"`
	ImportStoragePath   string        `json:"import_storage_path"`
	ErrorReportPath     string        `json:"error_report_storage_path"`
	RemoteFetchTimeout  time.Duration `json:"remote_fetch_timeout"`

	ExportBatchSize    int    `json:"export_batch_size"`
	ExportMaxRecords   int    `json:"export_max_records"`
	StreamMaxLimit     int    `json:"stream_max_limit"`
	ExportStoragePath  string `json:"export_storage_path"`
	FileRetentionHours int    `json:"file_retention_hours"`
	DownloadBaseURL    string `json:"download_base_url"`

	CancelCheckInterval int `json:"cancel_check_interval"`

	LogLevel  string `json:"log_level"`
	LogPretty bool   `json:"log_pretty"`

	mu sync.RWMutex
}

// DefaultConfig returns a configuration with sensible out-of-the-box
// defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr: ":8080",

		PostgresDSN: "",
		RedisAddr:   "localhost:6379",

		WorkerConcurrency: 4,

		ImportBatchSize:    1000,
		ImportMaxFileSize:  1 << 30, // 1 GiB
		ImportMaxRecords:   1_000_000,
		ImportAllowedHosts: nil,
		ImportStoragePath:  "./data/imports",
		ErrorReportPath:    "./data/import-errors",
		RemoteFetchTimeout: 30 * time.Second,

		ExportBatchSize:    1000,
		ExportMaxRecords:   1_000_000,
		StreamMaxLimit:     1000,
		ExportStoragePath:  "./data/exports",
		FileRetentionHours: 24,
		DownloadBaseURL:    "",

		CancelCheckInterval: 500,

		LogLevel:  "info",
		LogPretty: false,
	}
}

// Load builds a Config from DATABRIDGE_* environment variables layered over
// DefaultConfig.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("DATABRIDGE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.PostgresDSN = os.Getenv("DATABRIDGE_POSTGRES_DSN")
	if v := os.Getenv("DATABRIDGE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v, ok := envInt("DATABRIDGE_WORKER_CONCURRENCY"); ok {
		cfg.WorkerConcurrency = v
	}
	if v, ok := envInt("DATABRIDGE_IMPORT_BATCH_SIZE"); ok {
		cfg.ImportBatchSize = v
	}
	if v, ok := envInt64("DATABRIDGE_IMPORT_MAX_FILE_SIZE"); ok {
		cfg.ImportMaxFileSize = v
	}
	if v, ok := envInt("DATABRIDGE_IMPORT_MAX_RECORDS"); ok {
		cfg.ImportMaxRecords = v
	}
	if v := os.Getenv("DATABRIDGE_IMPORT_ALLOWED_HOSTS"); v != "" {
		cfg.ImportAllowedHosts = splitCSV(v)
	}
	if v := os.Getenv("DATABRIDGE_IMPORT_STORAGE_PATH"); v != "" {
		cfg.ImportStoragePath = v
	}
	if v := os.Getenv("DATABRIDGE_ERROR_REPORT_PATH"); v != "" {
		cfg.ErrorReportPath = v
	}
	if v, ok := envInt("DATABRIDGE_EXPORT_BATCH_SIZE"); ok {
		cfg.ExportBatchSize = v
	}
	if v, ok := envInt("DATABRIDGE_EXPORT_MAX_RECORDS"); ok {
		cfg.ExportMaxRecords = v
	}
	if v, ok := envInt("DATABRIDGE_STREAM_MAX_LIMIT"); ok {
		cfg.StreamMaxLimit = v
	}
	if v := os.Getenv("DATABRIDGE_EXPORT_STORAGE_PATH"); v != "" {
		cfg.ExportStoragePath = v
	}
	if v, ok := envInt("DATABRIDGE_FILE_RETENTION_HOURS"); ok {
		cfg.FileRetentionHours = v
	}
	cfg.DownloadBaseURL = os.Getenv("DATABRIDGE_DOWNLOAD_BASE_URL")
	if v, ok := envInt("DATABRIDGE_CANCEL_CHECK_INTERVAL"); ok {
		cfg.CancelCheckInterval = v
	}
	if v := os.Getenv("DATABRIDGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v, ok := envBool("DATABRIDGE_LOG_PRETTY"); ok {
		cfg.LogPretty = v
	}

	return cfg, nil
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Redact returns a copy of the config safe to log: the Postgres DSN and any
// download base URL credentials are masked.
func (c *Config) Redact() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	redactURL := func(s string) string {
		if u, err := url.Parse(s); err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "***REDACTED***")
				return u.String()
			}
		}
		return observability.RedactString(s)
	}

	return map[string]any{
		"http_addr":              c.HTTPAddr,
		"postgres_dsn":           redactURL(c.PostgresDSN),
		"redis_addr":             c.RedisAddr,
		"worker_concurrency":     c.WorkerConcurrency,
		"import_batch_size":      c.ImportBatchSize,
		"import_max_file_size":   c.ImportMaxFileSize,
		"import_max_records":     c.ImportMaxRecords,
		"import_allowed_hosts":   c.ImportAllowedHosts,
		"import_storage_path":    c.ImportStoragePath,
		"error_report_path":      c.ErrorReportPath,
		"export_batch_size":      c.ExportBatchSize,
		"export_max_records":     c.ExportMaxRecords,
		"stream_max_limit":       c.StreamMaxLimit,
		"export_storage_path":    c.ExportStoragePath,
		"file_retention_hours":   c.FileRetentionHours,
		"download_base_url":      redactURL(c.DownloadBaseURL),
		"cancel_check_interval":  c.CancelCheckInterval,
		"log_level":              c.LogLevel,
		"log_pretty":             c.LogPretty,
	}
}

// FileRetention returns the configured retention as a time.Duration.
func (c *Config) FileRetention() time.Duration {
	return time.Duration(c.FileRetentionHours) * time.Hour
}
