package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/smartexec/internal/atomic"
	s3blob "github.com/alanyoungcy/smartexec/internal/blob/s3"
	"github.com/alanyoungcy/smartexec/internal/cache/redis"
	"github.com/alanyoungcy/smartexec/internal/config"
	"github.com/alanyoungcy/smartexec/internal/domain"
	"github.com/alanyoungcy/smartexec/internal/executor"
	"github.com/alanyoungcy/smartexec/internal/notify"
	"github.com/alanyoungcy/smartexec/internal/policy"
	"github.com/alanyoungcy/smartexec/internal/slippage"
	"github.com/alanyoungcy/smartexec/internal/store/bolt"
	"github.com/alanyoungcy/smartexec/internal/store/memory"
	"github.com/alanyoungcy/smartexec/internal/store/postgres"
	"github.com/alanyoungcy/smartexec/internal/tca"
	"github.com/alanyoungcy/smartexec/internal/telemetry"
	"github.com/alanyoungcy/smartexec/internal/venue"
)

// Version is reported to telemetry and the status greeting. Set at build
// time with -ldflags "-X github.com/alanyoungcy/smartexec/internal/app.Version=...".
var Version = "dev"

// Dependencies bundles every component the run modes need. It is constructed
// by Wire and torn down by the returned cleanup function. Infrastructure
// clients are nil when their section is not configured.
type Dependencies struct {
	// Infrastructure
	Postgres  *postgres.Client
	Redis     *redis.Client
	Blob      *s3blob.Client
	Learning  *bolt.LearningStore
	Telemetry *telemetry.Client

	// Stores
	AuditStore       domain.AuditStore
	TransactionStore domain.TransactionStore
	AttemptStore     domain.LegAttemptStore
	CostStore        domain.CostSampleStore

	// Caches
	MarketCache domain.MarketDataCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
	Outbox   *notify.Outbox

	// Execution core
	Venues    *venue.Registry
	Market    *venue.MarketData
	Validator *venue.ConsensusValidator
	Gate      *slippage.Analyzer
	Protector *slippage.Protector
	TCA       *tca.Analyzer
	Policy    *policy.Policy
	Executor  *executor.Executor
	Engine    *atomic.Engine
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Telemetry ---
	tel, err := telemetry.New(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Telemetry.Environment,
		ExportInterval: cfg.Telemetry.ExportInterval.Duration,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: telemetry: %w", err)
	}
	deps.Telemetry = tel
	closers = append(closers, func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	})

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		stores := pgClient.Stores()
		deps.Postgres = pgClient
		deps.AuditStore = stores.Audit
		deps.TransactionStore = stores.Transactions
		deps.AttemptStore = stores.LegAttempts
		deps.CostStore = stores.Costs
	} else {
		logger.Warn("postgres not configured: audit and transaction history are not persisted")
	}

	// --- Redis ---
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Executor.RateLimit, cfg.Executor.RateWindow.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen, logger)
	} else {
		logger.Warn("redis not configured: locks and rate limits are process-local, signal bus disabled")
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Blob = s3Client

		// Archiver: only when Postgres holds the history to drain.
		if deps.Postgres != nil {
			stores := deps.Postgres.Stores()
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				s3blob.NewReader(s3Client),
				s3blob.Sources{
					Costs:       stores.Costs,
					LegAttempts: stores.LegAttempts,
					Audit:       stores.Audit,
					CostPruner:  stores.Costs,
					LegPruner:   stores.LegAttempts,
					AuditPruner: stores.Audit,
				},
				logger,
			)
		} else {
			logger.Warn("s3 configured without postgres: archiver disabled")
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, domain.Severity(strings.ToLower(cfg.Notify.MinSeverity)), logger)
	deps.Outbox = notify.NewOutbox(cfg.Notify.OutboxSize, deps.Notifier, deps.SignalBus, logger)

	// --- Venues and market data ---
	registry, err := buildVenues(ctx, cfg.Venues, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Venues = registry
	deps.Market = venue.NewMarketData(registry, deps.MarketCache, deps.SignalBus, venue.MarketDataConfig{
		BookDepth:        cfg.Market.BookDepth,
		VolatilityWindow: cfg.Market.VolatilityWindow,
		RefreshInterval:  cfg.Market.RefreshInterval.Duration,
		MaxTickerAge:     cfg.Market.MaxTickerAge.Duration,
	}, logger)
	deps.Validator = venue.NewConsensusValidator(registry, deps.Market, venue.ValidatorConfig{
		MaxDeviation:       cfg.Market.MaxDeviation,
		SingleVenueScore:   cfg.Market.SingleVenueScore,
		EmergencyDeviation: cfg.Market.EmergencyDeviation,
	})

	// --- Risk gate and protections ---
	deps.Gate = slippage.NewAnalyzer(deps.Market, slippageConfig(cfg.Slippage), logger)
	deps.Protector = slippage.NewProtector(deps.Gate, memory.NewMap[string, domain.Protection](), deps.Outbox, slippage.ProtectorConfig{
		Interval:       cfg.Protector.Interval.Duration,
		ExpiresAfter:   cfg.Protector.ExpiresAfter.Duration,
		MaxSplitParts:  cfg.Protector.MaxSplitParts,
		EmergencyScore: cfg.Protector.EmergencyScore,
	}, logger)

	// --- Learning components ---
	deps.TCA = tca.NewAnalyzer(memory.NewMap[string, domain.VenuePerformance](), deps.CostStore, tcaConfig(cfg.TCA), logger)
	deps.Policy = policy.New(memory.NewMap[string, domain.QEntry](), policyConfig(cfg.Policy), nil, logger)

	if cfg.Learning.Enabled() {
		learning, err := bolt.Open(cfg.Learning.BoltPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: learning store: %w", err)
		}
		closers = append(closers, func() { _ = learning.Close() })
		deps.Learning = learning
		restoreLearning(learning, deps.Policy, deps.TCA, logger)
	}

	// --- Orchestrator and atomic engine ---
	var metrics executor.Metrics
	if m, err := telemetry.NewExecutionMetrics(tel.Meter()); err != nil {
		logger.Warn("execution metrics disabled", slog.String("error", err.Error()))
	} else {
		metrics = m
	}

	execDeps := executor.Deps{
		Venues:  registry,
		Market:  deps.Market,
		Gate:    deps.Gate,
		Costs:   deps.TCA,
		Policy:  deps.Policy,
		Limiter: deps.RateLimiter,
		Alerts:  deps.Outbox,
		Bus:     deps.SignalBus,
		Audit:   deps.AuditStore,
		Metrics: metrics,
	}
	deps.Executor = executor.New(execDeps, executorConfig(cfg.Executor), logger)

	deps.Engine = atomic.NewEngine(atomic.Deps{
		Submitter:    deps.Executor,
		Validator:    deps.Validator,
		Active:       memory.NewMap[string, *domain.Transaction](),
		Attempts:     deps.AttemptStore,
		Transactions: deps.TransactionStore,
		Locks:        deps.LockManager,
		Alerts:       deps.Outbox,
		Bus:          deps.SignalBus,
	}, atomicConfig(cfg.Atomic), logger)
	deps.Executor.SetTransactions(deps.Engine)

	return deps, cleanup, nil
}

// buildVenues registers one client per configured venue.
func buildVenues(ctx context.Context, venues []config.VenueConfig, logger *slog.Logger) (*venue.Registry, error) {
	registry := venue.NewRegistry()
	for _, vc := range venues {
		switch vc.Kind {
		case "paper":
			client := venue.NewPaper(vc.Name, paperMarkets(vc.Markets), vc.Balances, logger)
			client.SetSandboxMode(vc.Sandbox)
			if err := registry.Register(ctx, client); err != nil {
				return nil, fmt.Errorf("wire: %w", err)
			}
		default:
			return nil, fmt.Errorf("wire: venue %s: unsupported kind %q", vc.Name, vc.Kind)
		}
		logger.Info("venue registered",
			slog.String("venue", vc.Name),
			slog.String("kind", vc.Kind),
			slog.Int("markets", len(vc.Markets)),
		)
	}
	return registry, nil
}

func paperMarkets(specs []config.MarketSpec) []venue.PaperMarket {
	out := make([]venue.PaperMarket, 0, len(specs))
	for _, s := range specs {
		base, quote, _ := strings.Cut(s.Symbol, "/")
		out = append(out, venue.PaperMarket{
			Market: domain.Market{
				Symbol:          s.Symbol,
				Base:            base,
				Quote:           quote,
				AmountPrecision: s.AmountPrecision,
				PricePrecision:  s.PricePrecision,
				MinAmount:       s.MinAmount,
				MinCost:         s.MinCost,
				TakerFee:        s.TakerFee,
				Active:          true,
			},
			Price:     s.Price,
			Spread:    s.Spread,
			LevelSize: s.LevelSize,
			Levels:    s.Levels,
			Volume24h: s.Volume24h,
		})
	}
	return out
}

func slippageConfig(c config.SlippageConfig) slippage.Config {
	return slippage.Config{
		MaxSlippage:       c.MaxSlippage,
		MaxImpact:         c.MaxImpact,
		FallbackSlippage:  c.FallbackSlippage,
		FallbackScore:     c.FallbackScore,
		DefaultVolatility: c.DefaultVolatility,
		UtilizationScale:  c.UtilizationScale,
		DelayUtilization:  c.DelayUtilization,
		DelayDuration:     c.DelayDuration.Duration,
		ReduceFraction:    c.ReduceFraction,
		SplitFraction:     c.SplitFraction,
	}
}

func tcaConfig(c config.TCAConfig) tca.Config {
	return tca.Config{
		HistorySize:           c.HistorySize,
		Alpha:                 c.Alpha,
		MinSamples:            c.MinSamples,
		DefaultCost:           c.DefaultCost,
		NewVenueConfidence:    c.NewVenueConfidence,
		ReferenceSize:         c.ReferenceSize,
		FullConfidenceSamples: c.FullConfidenceSamples,
	}
}

func policyConfig(c config.PolicyConfig) policy.Config {
	return policy.Config{
		LearningRate:   c.LearningRate,
		Discount:       c.Discount,
		InitialEpsilon: c.InitialEpsilon,
		EpsilonDecay:   c.EpsilonDecay,
		MinEpsilon:     c.MinEpsilon,
		LargeOrderSize: c.LargeOrderSize,
		HugeOrderSize:  c.HugeOrderSize,
		TWAPSlices:     c.TWAPSlices,
		TWAPInterval:   c.TWAPInterval.Duration,
		CostScale:      c.CostScale,
		SlippageScale:  c.SlippageScale,
		LatencyScaleMs: c.LatencyScaleMs,
		ImpactScale:    c.ImpactScale,
	}
}

func executorConfig(c config.ExecutorConfig) executor.Config {
	return executor.Config{
		TCAConfidence:   c.TCAConfidence,
		MaxRetries:      c.MaxRetries,
		RetryBackoff:    c.RetryBackoff.Duration,
		TWAPSlices:      c.TWAPSlices,
		TWAPInterval:    c.TWAPInterval.Duration,
		SplitDelay:      c.SplitDelay.Duration,
		IcebergWait:     c.IcebergWait.Duration,
		MaxSlices:       c.MaxSlices,
		MaxDelays:       c.MaxDelays,
		MaxDelayWait:    c.MaxDelayWait.Duration,
		RateLimit:       c.RateLimit,
		RateWindow:      c.RateWindow.Duration,
		DedupTTL:        c.DedupTTL.Duration,
		CleanupInterval: c.CleanupInterval.Duration,
		QueueSize:       c.QueueSize,
	}
}

func atomicConfig(c config.AtomicConfig) atomic.Config {
	return atomic.Config{
		MaxOrderValue:      c.MaxOrderValue,
		MinValidationScore: c.MinValidationScore,
		MaxExecutionTime:   c.MaxExecutionTime.Duration,
		FailureRate:        c.FailureRate,
		GracefulTolerance:  c.GracefulTolerance,
		LockTTL:            c.LockTTL.Duration,
	}
}
