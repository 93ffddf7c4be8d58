package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SMARTEXEC_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Venues decode into an empty slice so a [[venues]] table in the file
	// replaces the built-in set instead of merging into it.
	defaultVenues := cfg.Venues
	cfg.Venues = nil

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if len(cfg.Venues) == 0 {
		cfg.Venues = defaultVenues
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SMARTEXEC_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SMARTEXEC_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SMARTEXEC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SMARTEXEC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SMARTEXEC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SMARTEXEC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SMARTEXEC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SMARTEXEC_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SMARTEXEC_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SMARTEXEC_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SMARTEXEC_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SMARTEXEC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SMARTEXEC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SMARTEXEC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SMARTEXEC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SMARTEXEC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SMARTEXEC_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "SMARTEXEC_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.CacheTTL, "SMARTEXEC_REDIS_CACHE_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "SMARTEXEC_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SMARTEXEC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SMARTEXEC_S3_REGION")
	setStr(&cfg.S3.Bucket, "SMARTEXEC_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SMARTEXEC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SMARTEXEC_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SMARTEXEC_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SMARTEXEC_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "SMARTEXEC_S3_PREFIX")
	setDuration(&cfg.S3.ArchiveInterval, "SMARTEXEC_S3_ARCHIVE_INTERVAL")
	setInt(&cfg.S3.RetentionDays, "SMARTEXEC_S3_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SMARTEXEC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SMARTEXEC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SMARTEXEC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SMARTEXEC_NOTIFY_EVENTS")
	setStr(&cfg.Notify.MinSeverity, "SMARTEXEC_NOTIFY_MIN_SEVERITY")
	setInt(&cfg.Notify.OutboxSize, "SMARTEXEC_NOTIFY_OUTBOX_SIZE")

	// ── Telemetry ──
	setStr(&cfg.Telemetry.Endpoint, "SMARTEXEC_TELEMETRY_ENDPOINT")
	setStr(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT") // compatibility alias
	setStr(&cfg.Telemetry.ServiceName, "SMARTEXEC_TELEMETRY_SERVICE_NAME")
	setStr(&cfg.Telemetry.Environment, "SMARTEXEC_TELEMETRY_ENVIRONMENT")
	setDuration(&cfg.Telemetry.ExportInterval, "SMARTEXEC_TELEMETRY_EXPORT_INTERVAL")

	// ── Server ──
	setInt(&cfg.Server.Port, "SMARTEXEC_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SMARTEXEC_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SMARTEXEC_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SMARTEXEC_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SMARTEXEC_SERVER_RATE_WINDOW")

	// ── Atomic ──
	setFloat64(&cfg.Atomic.MaxOrderValue, "SMARTEXEC_ATOMIC_MAX_ORDER_VALUE")
	setFloat64(&cfg.Atomic.MinValidationScore, "SMARTEXEC_ATOMIC_MIN_VALIDATION_SCORE")
	setDuration(&cfg.Atomic.MaxExecutionTime, "SMARTEXEC_ATOMIC_MAX_EXECUTION_TIME")

	// ── Slippage ──
	setFloat64(&cfg.Slippage.MaxSlippage, "SMARTEXEC_SLIPPAGE_MAX_SLIPPAGE")
	setFloat64(&cfg.Slippage.MaxImpact, "SMARTEXEC_SLIPPAGE_MAX_IMPACT")

	// ── Policy ──
	setFloat64(&cfg.Policy.InitialEpsilon, "SMARTEXEC_POLICY_INITIAL_EPSILON")
	setFloat64(&cfg.Policy.MinEpsilon, "SMARTEXEC_POLICY_MIN_EPSILON")

	// ── Executor ──
	setInt(&cfg.Executor.MaxRetries, "SMARTEXEC_EXECUTOR_MAX_RETRIES")
	setInt(&cfg.Executor.RateLimit, "SMARTEXEC_EXECUTOR_RATE_LIMIT")
	setDuration(&cfg.Executor.RateWindow, "SMARTEXEC_EXECUTOR_RATE_WINDOW")
	setBool(&cfg.Executor.ConsumeRequests, "SMARTEXEC_EXECUTOR_CONSUME_REQUESTS")

	// ── Learning ──
	setStr(&cfg.Learning.BoltPath, "SMARTEXEC_LEARNING_BOLT_PATH")
	setDuration(&cfg.Learning.SnapshotInterval, "SMARTEXEC_LEARNING_SNAPSHOT_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "SMARTEXEC_MODE")
	setStr(&cfg.LogLevel, "SMARTEXEC_LOG_LEVEL")
	setStr(&cfg.LogFile, "SMARTEXEC_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
