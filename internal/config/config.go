/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// FetchMode selects how category pages are retrieved.
type FetchMode string

const (
	FetchHTTP    FetchMode = "http"
	FetchBrowser FetchMode = "browser"
)

// SnapshotBackend selects where the snapshot document lives.
type SnapshotBackend string

const (
	SnapshotFile SnapshotBackend = "file"
	SnapshotS3   SnapshotBackend = "s3"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	CatalogPath string // optional YAML catalog; built-in categories when empty
	Timezone    string // overrides the catalog timezone when set

	// Polling
	PollInterval       time.Duration
	FetchMode          FetchMode
	FetchTimeout       time.Duration
	FetchAttempts      int
	FetchBackoff       time.Duration
	FetchRatePerSecond float64
	UserAgent          string
	BrowserBin         string // go-rod launcher binary; auto-download when empty
	BrowserControlURL  string // connect to a running browser instead of launching

	// Snapshot persistence
	SnapshotBackend SnapshotBackend
	SnapshotDir     string
	SnapshotKey     string

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Prefix          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// History database. History is disabled when DBDSN is empty.
	DBBackend        DatabaseBackend
	DBDSN            string
	HistoryRetention time.Duration // rows older than this are pruned; zero keeps everything

	JWTSigningKey string // admin endpoints are disabled when empty

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string
	CacheTTL              time.Duration

	// Event fan-out
	NATSURL   string
	NATSToken string

	// Telegram alerts on slots becoming available
	TelegramBotToken string
	TelegramChatID   int64

	// HTTP edge
	CORSOrigins        []string
	RateLimitPerMinute int

	LegacyEnvWarnings []string
}

// Load reads an optional .env file and environment variables, applies
// defaults, and validates the result.
func Load() (*Config, error) {
	envFile := getEnv("SLOTWATCH_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		Environment: getEnvAny([]string{"SLOTWATCH_ENV", "NODE_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"SLOTWATCH_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"SLOTWATCH_HTTP_PORT", "PORT"}, 4000),
		CatalogPath: getEnvAny([]string{"SLOTWATCH_CATALOG"}, ""),
		Timezone:    getEnvAny([]string{"SLOTWATCH_TIMEZONE", "TZ"}, ""),

		PollInterval:       getEnvDurationAny([]string{"SLOTWATCH_POLL_INTERVAL"}, 60*time.Second),
		FetchMode:          FetchMode(strings.ToLower(getEnvAny([]string{"SLOTWATCH_FETCH_MODE"}, string(FetchHTTP)))),
		FetchTimeout:       getEnvDurationAny([]string{"SLOTWATCH_FETCH_TIMEOUT"}, 30*time.Second),
		FetchAttempts:      getEnvIntAny([]string{"SLOTWATCH_FETCH_ATTEMPTS"}, 3),
		FetchBackoff:       getEnvDurationAny([]string{"SLOTWATCH_FETCH_BACKOFF"}, time.Second),
		FetchRatePerSecond: getEnvFloatAny([]string{"SLOTWATCH_FETCH_RATE"}, 2),
		UserAgent:          getEnvAny([]string{"SLOTWATCH_USER_AGENT"}, ""),
		BrowserBin:         getEnvAny([]string{"SLOTWATCH_BROWSER_BIN", "ROD_BROWSER_BIN"}, ""),
		BrowserControlURL:  getEnvAny([]string{"SLOTWATCH_BROWSER_URL"}, ""),

		SnapshotBackend: SnapshotBackend(strings.ToLower(getEnvAny([]string{"SLOTWATCH_SNAPSHOT_BACKEND"}, string(SnapshotFile)))),
		SnapshotDir:     getEnvAny([]string{"SLOTWATCH_SNAPSHOT_DIR"}, "."),
		SnapshotKey:     getEnvAny([]string{"SLOTWATCH_SNAPSHOT_KEY"}, "slot_snapshot.json"),

		S3AccessKeyID:     getEnvAny([]string{"SLOTWATCH_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"SLOTWATCH_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"SLOTWATCH_S3_REGION", "AWS_REGION"}, "ap-northeast-2"),
		S3Bucket:          getEnvAny([]string{"SLOTWATCH_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Prefix:          getEnvAny([]string{"SLOTWATCH_S3_PREFIX"}, ""),
		S3Endpoint:        getEnvAny([]string{"SLOTWATCH_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"SLOTWATCH_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		DBBackend:        DatabaseBackend(getEnvAny([]string{"SLOTWATCH_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:            getEnvAny([]string{"SLOTWATCH_DB_DSN"}, ""),
		HistoryRetention: getEnvDurationAny([]string{"SLOTWATCH_HISTORY_RETENTION"}, 30*24*time.Hour),

		JWTSigningKey: getEnvAny([]string{"SLOTWATCH_JWT_SIGNING_KEY"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"SLOTWATCH_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"SLOTWATCH_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"SLOTWATCH_TRACING_SAMPLE_RATE"}, 1.0),

		LeaderElectionEnabled: getEnvBoolAny([]string{"SLOTWATCH_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"SLOTWATCH_REDIS_ADDR", "REDIS_ADDR"}, ""),
		RedisPassword:         getEnvAny([]string{"SLOTWATCH_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"SLOTWATCH_REDIS_DB", "REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"SLOTWATCH_INSTANCE_ID", "HOSTNAME"}, ""),
		CacheTTL:              getEnvDurationAny([]string{"SLOTWATCH_CACHE_TTL"}, 30*time.Second),

		NATSURL:   getEnvAny([]string{"SLOTWATCH_NATS_URL", "NATS_URL"}, ""),
		NATSToken: getEnvAny([]string{"SLOTWATCH_NATS_TOKEN", "NATS_TOKEN"}, ""),

		TelegramBotToken: getEnvAny([]string{"SLOTWATCH_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN"}, ""),
		TelegramChatID:   getEnvInt64Any([]string{"SLOTWATCH_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID"}, 0),

		CORSOrigins:        getEnvListAny([]string{"SLOTWATCH_CORS_ORIGINS"}, []string{"*"}),
		RateLimitPerMinute: getEnvIntAny([]string{"SLOTWATCH_RATE_LIMIT_PER_MINUTE"}, 120),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("SLOTWATCH_POLL_INTERVAL must be at least 1s, got %s", c.PollInterval)
	}
	if c.FetchAttempts < 1 {
		return fmt.Errorf("SLOTWATCH_FETCH_ATTEMPTS must be at least 1")
	}
	if c.FetchMode != FetchHTTP && c.FetchMode != FetchBrowser {
		return fmt.Errorf("unsupported fetch mode %q", c.FetchMode)
	}

	switch c.SnapshotBackend {
	case SnapshotFile:
	case SnapshotS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("SLOTWATCH_S3_BUCKET must be provided when the snapshot backend is s3")
		}
	default:
		return fmt.Errorf("unsupported snapshot backend %q", c.SnapshotBackend)
	}

	if c.DBDSN != "" && c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	if c.LeaderElectionEnabled && c.RedisAddr == "" {
		return fmt.Errorf("SLOTWATCH_REDIS_ADDR is required when leader election is enabled")
	}

	if (c.TelegramBotToken == "") != (c.TelegramChatID == 0) {
		return fmt.Errorf("SLOTWATCH_TELEGRAM_BOT_TOKEN and SLOTWATCH_TELEGRAM_CHAT_ID must be set together")
	}

	if strings.EqualFold(c.Environment, "production") && c.JWTSigningKey != "" && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("SLOTWATCH_JWT_SIGNING_KEY must be at least 32 characters in production")
	}
	return nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"SNAPSHOT_FILE":   "use SLOTWATCH_SNAPSHOT_DIR and SLOTWATCH_SNAPSHOT_KEY",
		"POLL_INTERVAL":   "use SLOTWATCH_POLL_INTERVAL",
		"JWT_SIGNING_KEY": "use SLOTWATCH_JWT_SIGNING_KEY",
		"TIMEZONE":        "use SLOTWATCH_TIMEZONE",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// HistoryEnabled reports whether a history database is configured.
func (c *Config) HistoryEnabled() bool {
	return c != nil && c.DBDSN != ""
}

// AdminEnabled reports whether admin endpoints can verify tokens.
func (c *Config) AdminEnabled() bool {
	return c != nil && c.JWTSigningKey != ""
}

// ListenAddr joins the bind address and port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

func getEnvInt64Any(keys []string, def int64) int64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("90s") or bare seconds ("90").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

// getEnvListAny splits a comma separated value.
func getEnvListAny(keys []string, def []string) []string {
	raw := getEnvAny(keys, "")
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
