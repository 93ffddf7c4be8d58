package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Venues, 2)
	assert.False(t, cfg.Postgres.Enabled())
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.S3.Enabled())
	assert.True(t, cfg.Learning.Enabled())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Notify.TelegramToken = "tok"
	cfg.Venues = append(cfg.Venues, VenueConfig{Name: "alpha", Kind: "ccxt"})
	cfg.Policy.MinEpsilon = 0.9

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "telegram_token and telegram_chat_id")
	assert.Contains(t, msg, `duplicate name "alpha"`)
	assert.Contains(t, msg, `unknown kind "ccxt"`)
	assert.Contains(t, msg, "at least one market")
	assert.Contains(t, msg, "min_epsilon")
}

func TestValidateEpsilonDecayRange(t *testing.T) {
	for _, decay := range []float64{0, -0.5, 1.5} {
		cfg := Defaults()
		cfg.Policy.EpsilonDecay = decay
		assert.ErrorContains(t, cfg.Validate(), "epsilon_decay", "decay %v", decay)
	}

	cfg := Defaults()
	cfg.Policy.EpsilonDecay = 1
	assert.NoError(t, cfg.Validate())
}

func TestValidateArchiveModeNeedsBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	require.ErrorContains(t, cfg.Validate(), "s3: bucket")

	cfg.S3.Bucket = "history"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*24*time.Hour, cfg.S3.Retention())
}

func TestValidateWorkerSkipsServerPort(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "worker"
	cfg.Server.Port = 0
	assert.NoError(t, cfg.Validate())

	cfg.Mode = "server"
	assert.ErrorContains(t, cfg.Validate(), "server: port")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smartexec.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[redis]
addr = "localhost:6379"
cache_ttl = "2s"

[executor]
retry_backoff = "50ms"

[[venues]]
name = "gamma"
kind = "paper"
balances = { USDT = 5000.0 }

  [[venues.markets]]
  symbol = "SOL/USDT"
  price = 150.0
  taker_fee = 0.002
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Second, cfg.Redis.CacheTTL.Duration)
	assert.Equal(t, 50*time.Millisecond, cfg.Executor.RetryBackoff.Duration)
	assert.Equal(t, 3, cfg.Executor.MaxRetries)
	assert.Equal(t, "smartexec", cfg.Redis.KeyPrefix)

	require.Len(t, cfg.Venues, 1)
	assert.Equal(t, "gamma", cfg.Venues[0].Name)
	assert.InDelta(t, 5000, cfg.Venues[0].Balances["USDT"], 1e-9)
	require.Len(t, cfg.Venues[0].Markets, 1)
	assert.Equal(t, "SOL/USDT", cfg.Venues[0].Markets[0].Symbol)
	require.NoError(t, cfg.Validate())
}

func TestLoadWithoutFileKeepsDefaultVenues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Venues, 2)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SMARTEXEC_MODE", "worker")
	t.Setenv("SMARTEXEC_REDIS_ADDR", "redis:6379")
	t.Setenv("SMARTEXEC_EXECUTOR_CONSUME_REQUESTS", "true")
	t.Setenv("SMARTEXEC_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("SMARTEXEC_S3_ARCHIVE_INTERVAL", "6h")
	t.Setenv("SMARTEXEC_SLIPPAGE_MAX_SLIPPAGE", "0.01")
	t.Setenv("SMARTEXEC_EXECUTOR_MAX_RETRIES", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "worker", cfg.Mode)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Executor.ConsumeRequests)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 6*time.Hour, cfg.S3.ArchiveInterval.Duration)
	assert.InDelta(t, 0.01, cfg.Slippage.MaxSlippage, 1e-12)
	assert.Equal(t, 3, cfg.Executor.MaxRetries, "unparsable values are ignored")
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Notify.TelegramToken = "tg-secret"
	cfg.Server.APIKey = "api-secret"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Postgres.DSN, "empty secrets stay empty")

	assert.Equal(t, "pg-secret", cfg.Postgres.Password)
	out.Venues[0].Balances["USDT"] = 0
	out.Venues[0].Markets[0].Price = 0
	out.Server.CORSOrigins[0] = "changed"
	assert.NotZero(t, cfg.Venues[0].Balances["USDT"])
	assert.NotZero(t, cfg.Venues[0].Markets[0].Price)
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
}
