// Package config defines the top-level configuration for the smart execution
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SMARTEXEC_* environment variables.
type Config struct {
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	LogFile   string          `toml:"log_file"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Server    ServerConfig    `toml:"server"`
	Venues    []VenueConfig   `toml:"venues"`
	Market    MarketConfig    `toml:"market"`
	Atomic    AtomicConfig    `toml:"atomic"`
	Slippage  SlippageConfig  `toml:"slippage"`
	Protector ProtectorConfig `toml:"protector"`
	TCA       TCAConfig       `toml:"tca"`
	Policy    PolicyConfig    `toml:"policy"`
	Executor  ExecutorConfig  `toml:"executor"`
	Learning  LearningConfig  `toml:"learning"`
}

// PostgresConfig holds PostgreSQL connection parameters. Leaving both DSN and
// Host empty disables durable storage; audit and attempt history then live
// only in process memory.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"sslmode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a database is configured.
func (p PostgresConfig) Enabled() bool { return p.DSN != "" || p.Host != "" }

// RedisConfig holds Redis connection parameters. An empty Addr disables the
// distributed lock, shared rate limiter, signal bus and market-data cache.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// S3Config holds object storage settings used by the history archiver.
type S3Config struct {
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	Prefix          string   `toml:"prefix"`
	ArchiveInterval duration `toml:"archive_interval"`
	RetentionDays   int      `toml:"retention_days"`
}

// Enabled reports whether archiving is configured.
func (s S3Config) Enabled() bool { return s.Bucket != "" }

// Retention is the age after which history is archived.
func (s S3Config) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// NotifyConfig holds alert delivery settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinSeverity       string   `toml:"min_severity"`
	OutboxSize        int      `toml:"outbox_size"`
}

// TelemetryConfig configures the OTLP exporters. An empty endpoint keeps
// instruments as no-ops.
type TelemetryConfig struct {
	Endpoint       string   `toml:"endpoint"`
	ServiceName    string   `toml:"service_name"`
	Environment    string   `toml:"environment"`
	ExportInterval duration `toml:"export_interval"`
}

// ServerConfig holds HTTP and WebSocket API settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// VenueConfig describes one trading venue. Only the "paper" kind is built in.
type VenueConfig struct {
	Name     string             `toml:"name"`
	Kind     string             `toml:"kind"`
	Sandbox  bool               `toml:"sandbox"`
	Balances map[string]float64 `toml:"balances"`
	Markets  []MarketSpec       `toml:"markets"`
}

// MarketSpec describes a market listed on a venue. Price, Spread, LevelSize,
// Levels and Volume24h seed the paper venue's simulated book.
type MarketSpec struct {
	Symbol          string  `toml:"symbol"`
	AmountPrecision int32   `toml:"amount_precision"`
	PricePrecision  int32   `toml:"price_precision"`
	MinAmount       float64 `toml:"min_amount"`
	MinCost         float64 `toml:"min_cost"`
	TakerFee        float64 `toml:"taker_fee"`
	Price           float64 `toml:"price"`
	Spread          float64 `toml:"spread"`
	LevelSize       float64 `toml:"level_size"`
	Levels          int     `toml:"levels"`
	Volume24h       float64 `toml:"volume_24h"`
}

// MarketConfig tunes market-data aggregation and price validation.
type MarketConfig struct {
	BookDepth          int      `toml:"book_depth"`
	VolatilityWindow   int      `toml:"volatility_window"`
	RefreshInterval    duration `toml:"refresh_interval"`
	MaxTickerAge       duration `toml:"max_ticker_age"`
	MaxDeviation       float64  `toml:"max_deviation"`
	SingleVenueScore   float64  `toml:"single_venue_score"`
	EmergencyDeviation float64  `toml:"emergency_deviation"`
}

// AtomicConfig tunes multi-leg transaction validation and rollback.
type AtomicConfig struct {
	MaxOrderValue      float64  `toml:"max_order_value"`
	MinValidationScore float64  `toml:"min_validation_score"`
	MaxExecutionTime   duration `toml:"max_execution_time"`
	FailureRate        float64  `toml:"failure_rate"`
	GracefulTolerance  float64  `toml:"graceful_tolerance"`
	LockTTL            duration `toml:"lock_ttl"`
}

// SlippageConfig holds the risk gate thresholds.
type SlippageConfig struct {
	MaxSlippage       float64  `toml:"max_slippage"`
	MaxImpact         float64  `toml:"max_impact"`
	FallbackSlippage  float64  `toml:"fallback_slippage"`
	FallbackScore     float64  `toml:"fallback_score"`
	DefaultVolatility float64  `toml:"default_volatility"`
	UtilizationScale  float64  `toml:"utilization_scale"`
	DelayUtilization  float64  `toml:"delay_utilization"`
	DelayDuration     duration `toml:"delay_duration"`
	ReduceFraction    float64  `toml:"reduce_fraction"`
	SplitFraction     float64  `toml:"split_fraction"`
}

// ProtectorConfig tunes the standing protection monitor.
type ProtectorConfig struct {
	Interval       duration `toml:"interval"`
	ExpiresAfter   duration `toml:"expires_after"`
	MaxSplitParts  int      `toml:"max_split_parts"`
	EmergencyScore float64  `toml:"emergency_score"`
}

// TCAConfig tunes the transaction cost analyzer.
type TCAConfig struct {
	HistorySize           int     `toml:"history_size"`
	Alpha                 float64 `toml:"alpha"`
	MinSamples            int     `toml:"min_samples"`
	DefaultCost           float64 `toml:"default_cost"`
	NewVenueConfidence    float64 `toml:"new_venue_confidence"`
	ReferenceSize         float64 `toml:"reference_size"`
	FullConfidenceSamples int     `toml:"full_confidence_samples"`
}

// PolicyConfig holds the learning policy hyperparameters.
type PolicyConfig struct {
	LearningRate   float64  `toml:"learning_rate"`
	Discount       float64  `toml:"discount"`
	InitialEpsilon float64  `toml:"initial_epsilon"`
	EpsilonDecay   float64  `toml:"epsilon_decay"`
	MinEpsilon     float64  `toml:"min_epsilon"`
	LargeOrderSize float64  `toml:"large_order_size"`
	HugeOrderSize  float64  `toml:"huge_order_size"`
	TWAPSlices     int      `toml:"twap_slices"`
	TWAPInterval   duration `toml:"twap_interval"`
	CostScale      float64  `toml:"cost_scale"`
	SlippageScale  float64  `toml:"slippage_scale"`
	LatencyScaleMs float64  `toml:"latency_scale_ms"`
	ImpactScale    float64  `toml:"impact_scale"`
}

// ExecutorConfig tunes the execution orchestrator.
type ExecutorConfig struct {
	TCAConfidence   float64  `toml:"tca_confidence"`
	MaxRetries      int      `toml:"max_retries"`
	RetryBackoff    duration `toml:"retry_backoff"`
	TWAPSlices      int      `toml:"twap_slices"`
	TWAPInterval    duration `toml:"twap_interval"`
	SplitDelay      duration `toml:"split_delay"`
	IcebergWait     duration `toml:"iceberg_wait"`
	MaxSlices       int      `toml:"max_slices"`
	MaxDelays       int      `toml:"max_delays"`
	MaxDelayWait    duration `toml:"max_delay_wait"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	DedupTTL        duration `toml:"dedup_ttl"`
	CleanupInterval duration `toml:"cleanup_interval"`
	QueueSize       int      `toml:"queue_size"`
	ConsumeRequests bool     `toml:"consume_requests"`
}

// LearningConfig controls persistence of learned state.
type LearningConfig struct {
	BoltPath         string   `toml:"bolt_path"`
	SnapshotInterval duration `toml:"snapshot_interval"`
}

// Enabled reports whether learned state is persisted.
func (l LearningConfig) Enabled() bool { return l.BoltPath != "" }

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "30s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var validModes = map[string]bool{
	"full":    true,
	"server":  true,
	"worker":  true,
	"archive": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSeverities = map[string]bool{
	"info":     true,
	"warning":  true,
	"critical": true,
}

// Defaults returns a Config pre-populated with sensible defaults: two paper
// venues quoting BTC/USDT and ETH/USDT, no external services.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "smartexec",
			User:          "smartexec",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    "smartexec",
			CacheTTL:     duration{5 * time.Second},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Region:          "us-east-1",
			ForcePathStyle:  true,
			Prefix:          "smartexec",
			ArchiveInterval: duration{24 * time.Hour},
			RetentionDays:   30,
		},
		Notify: NotifyConfig{
			Events:      []string{"risk_veto", "rollback_partial", "rollback_manual_review", "emergency_stop", "protection_action", "transaction_failed"},
			MinSeverity: "warning",
			OutboxSize:  256,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "smartexec",
			Environment:    "dev",
			ExportInterval: duration{15 * time.Second},
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Venues: []VenueConfig{
			paperVenue("alpha", 0.001, 50000, 3000),
			paperVenue("beta", 0.0008, 50010, 3001),
		},
		Market: MarketConfig{
			BookDepth:          20,
			VolatilityWindow:   100,
			RefreshInterval:    duration{time.Second},
			MaxTickerAge:       duration{5 * time.Second},
			MaxDeviation:       0.02,
			SingleVenueScore:   0.8,
			EmergencyDeviation: 0.05,
		},
		Atomic: AtomicConfig{
			MaxOrderValue:      100_000,
			MinValidationScore: 0.7,
			MaxExecutionTime:   duration{30 * time.Second},
			FailureRate:        0.3,
			GracefulTolerance:  0.002,
			LockTTL:            duration{2 * time.Minute},
		},
		Slippage: SlippageConfig{
			MaxSlippage:       0.005,
			MaxImpact:         0.01,
			FallbackSlippage:  0.002,
			FallbackScore:     0.3,
			DefaultVolatility: 0.02,
			UtilizationScale:  50,
			DelayUtilization:  25,
			DelayDuration:     duration{60 * time.Second},
			ReduceFraction:    0.10,
			SplitFraction:     0.05,
		},
		Protector: ProtectorConfig{
			Interval:       duration{time.Second},
			ExpiresAfter:   duration{5 * time.Minute},
			MaxSplitParts:  10,
			EmergencyScore: 0.9,
		},
		TCA: TCAConfig{
			HistorySize:           1000,
			Alpha:                 0.01,
			MinSamples:            10,
			DefaultCost:           0.001,
			NewVenueConfidence:    0.3,
			ReferenceSize:         10000,
			FullConfidenceSamples: 100,
		},
		Policy: PolicyConfig{
			LearningRate:   0.1,
			Discount:       0.9,
			InitialEpsilon: 0.3,
			EpsilonDecay:   0.995,
			MinEpsilon:     0.05,
			LargeOrderSize: 1000,
			HugeOrderSize:  10000,
			TWAPSlices:     3,
			TWAPInterval:   duration{200 * time.Millisecond},
			CostScale:      0.01,
			SlippageScale:  0.005,
			LatencyScaleMs: 1000,
			ImpactScale:    0.01,
		},
		Executor: ExecutorConfig{
			TCAConfidence:   0.7,
			MaxRetries:      3,
			RetryBackoff:    duration{200 * time.Millisecond},
			TWAPSlices:      3,
			TWAPInterval:    duration{200 * time.Millisecond},
			SplitDelay:      duration{100 * time.Millisecond},
			IcebergWait:     duration{200 * time.Millisecond},
			MaxSlices:       50,
			MaxDelays:       1,
			MaxDelayWait:    duration{60 * time.Second},
			RateLimit:       10,
			RateWindow:      duration{time.Second},
			DedupTTL:        duration{5 * time.Minute},
			CleanupInterval: duration{time.Minute},
			QueueSize:       256,
		},
		Learning: LearningConfig{
			BoltPath:         "data/learning.db",
			SnapshotInterval: duration{time.Minute},
		},
	}
}

func paperVenue(name string, fee, btc, eth float64) VenueConfig {
	return VenueConfig{
		Name:     name,
		Kind:     "paper",
		Sandbox:  true,
		Balances: map[string]float64{"USDT": 1_000_000, "BTC": 10, "ETH": 100},
		Markets: []MarketSpec{
			{
				Symbol: "BTC/USDT", AmountPrecision: 6, PricePrecision: 2,
				MinAmount: 0.0001, MinCost: 5, TakerFee: fee,
				Price: btc, Spread: 0.0005, LevelSize: 2, Levels: 20, Volume24h: 5e8,
			},
			{
				Symbol: "ETH/USDT", AmountPrecision: 4, PricePrecision: 2,
				MinAmount: 0.001, MinCost: 5, TakerFee: fee,
				Price: eth, Spread: 0.0006, LevelSize: 20, Levels: 20, Volume24h: 2e8,
			},
		},
	}
}

// Validate checks the configuration for logical errors and returns a
// descriptive error listing every problem found. A nil return means the
// configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, server, worker, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Postgres.Enabled() && c.Postgres.DSN == "" {
		if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Enabled() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Executor.ConsumeRequests && !c.Redis.Enabled() {
		errs = append(errs, "executor: consume_requests needs redis.addr")
	}

	if c.Mode == "archive" && !c.S3.Enabled() {
		errs = append(errs, "s3: bucket must be set for mode archive")
	}
	if c.S3.Enabled() {
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be positive")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if !validSeverities[strings.ToLower(c.Notify.MinSeverity)] {
		errs = append(errs, fmt.Sprintf("notify: unknown min_severity %q (valid: info, warning, critical)", c.Notify.MinSeverity))
	}
	if c.Notify.OutboxSize < 1 {
		errs = append(errs, "notify: outbox_size must be >= 1")
	}

	if c.Mode == "full" || c.Mode == "server" {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	errs = append(errs, c.validateVenues()...)

	if c.Atomic.MaxOrderValue <= 0 {
		errs = append(errs, "atomic: max_order_value must be > 0")
	}
	if c.Atomic.MinValidationScore < 0 || c.Atomic.MinValidationScore > 1 {
		errs = append(errs, "atomic: min_validation_score must be within [0, 1]")
	}
	if c.Atomic.FailureRate < 0 || c.Atomic.FailureRate > 1 {
		errs = append(errs, "atomic: failure_rate must be within [0, 1]")
	}
	if c.Atomic.MaxExecutionTime.Duration <= 0 {
		errs = append(errs, "atomic: max_execution_time must be positive")
	}

	if c.Slippage.MaxSlippage <= 0 {
		errs = append(errs, "slippage: max_slippage must be > 0")
	}
	if c.Slippage.MaxImpact <= 0 {
		errs = append(errs, "slippage: max_impact must be > 0")
	}
	if c.Protector.Interval.Duration <= 0 {
		errs = append(errs, "protector: interval must be positive")
	}

	if c.TCA.HistorySize < 1 {
		errs = append(errs, "tca: history_size must be >= 1")
	}
	if c.TCA.Alpha <= 0 || c.TCA.Alpha > 1 {
		errs = append(errs, "tca: alpha must be within (0, 1]")
	}

	if c.Policy.LearningRate <= 0 || c.Policy.LearningRate > 1 {
		errs = append(errs, "policy: learning_rate must be within (0, 1]")
	}
	if c.Policy.Discount < 0 || c.Policy.Discount > 1 {
		errs = append(errs, "policy: discount must be within [0, 1]")
	}
	if c.Policy.EpsilonDecay <= 0 || c.Policy.EpsilonDecay > 1 {
		errs = append(errs, "policy: epsilon_decay must be within (0, 1]")
	}
	if c.Policy.MinEpsilon > c.Policy.InitialEpsilon {
		errs = append(errs, "policy: min_epsilon must not exceed initial_epsilon")
	}

	if c.Executor.MaxRetries < 1 {
		errs = append(errs, "executor: max_retries must be >= 1")
	}
	if c.Executor.MaxSlices < 1 {
		errs = append(errs, "executor: max_slices must be >= 1")
	}
	if c.Executor.QueueSize < 1 {
		errs = append(errs, "executor: queue_size must be >= 1")
	}

	if c.Learning.Enabled() && c.Learning.SnapshotInterval.Duration <= 0 {
		errs = append(errs, "learning: snapshot_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateVenues() []string {
	var errs []string
	if len(c.Venues) == 0 {
		return []string{"venues: at least one venue must be configured"}
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		label := v.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Sprintf("venues[%d]: name must not be empty", i))
		}
		if seen[v.Name] {
			errs = append(errs, fmt.Sprintf("venues: duplicate name %q", v.Name))
		}
		seen[v.Name] = true
		if v.Kind != "paper" {
			errs = append(errs, fmt.Sprintf("venue %s: unknown kind %q (valid: paper)", label, v.Kind))
		}
		if len(v.Markets) == 0 {
			errs = append(errs, fmt.Sprintf("venue %s: at least one market must be listed", label))
		}
		for _, m := range v.Markets {
			if !strings.Contains(m.Symbol, "/") {
				errs = append(errs, fmt.Sprintf("venue %s: symbol %q must be BASE/QUOTE", label, m.Symbol))
			}
			if m.Price <= 0 {
				errs = append(errs, fmt.Sprintf("venue %s: market %s price must be > 0", label, m.Symbol))
			}
			if m.TakerFee < 0 {
				errs = append(errs, fmt.Sprintf("venue %s: market %s taker_fee must be >= 0", label, m.Symbol))
			}
		}
	}
	return errs
}
