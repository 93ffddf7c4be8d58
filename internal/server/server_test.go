package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartexec/internal/domain"
	"github.com/alanyoungcy/smartexec/internal/server/handler"
)

type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error) {
	switch req.Symbol {
	case "VETO/USDT":
		return domain.ExecutionResult{}, &domain.RiskVetoError{Symbol: req.Symbol, Level: domain.RiskCritical, Reason: "too thin"}
	case "":
		verr := &domain.ValidationError{}
		verr.Add("symbol is required")
		return domain.ExecutionResult{}, fmt.Errorf("executor: execute: %w", verr)
	}
	return domain.ExecutionResult{Success: true, FilledAmount: req.Amount, Mode: domain.ModeDirect}, nil
}

type stubEngine struct{}

func (stubEngine) CreateTransaction(context.Context, []domain.LegSpec) (string, error) {
	return "tx-1", nil
}
func (stubEngine) Execute(_ context.Context, id string) (*domain.Transaction, error) {
	return &domain.Transaction{ID: id, Status: domain.StatusCompleted}, nil
}
func (stubEngine) Get(_ context.Context, id string) (*domain.Transaction, error) {
	if id != "tx-1" {
		return nil, fmt.Errorf("atomic: get %s: %w", id, domain.ErrNotFound)
	}
	return &domain.Transaction{ID: id, Status: domain.StatusPending}, nil
}
func (stubEngine) Cancel(_ context.Context, id string) (*domain.Transaction, error) {
	return &domain.Transaction{ID: id, Status: domain.StatusCancelled}, nil
}
func (stubEngine) Active() []*domain.Transaction { return nil }

type stubProtector struct {
	last domain.ProtectionConfig
}

func (s *stubProtector) CreateProtection(_ context.Context, symbol string, side domain.Side, size float64, cfg domain.ProtectionConfig) (domain.Protection, error) {
	s.last = cfg
	return domain.Protection{ID: "p-1", Symbol: symbol, Side: side, Size: size, Config: cfg}, nil
}
func (s *stubProtector) Get(id string) (domain.Protection, error) {
	return domain.Protection{}, fmt.Errorf("slippage: protection %s: %w", id, domain.ErrNotFound)
}
func (s *stubProtector) List() []domain.Protection { return nil }
func (s *stubProtector) Cancel(_ context.Context, id string) (domain.Protection, error) {
	return domain.Protection{ID: id, Status: domain.ProtectionCancelled}, nil
}

type stubStats struct{}

func (stubStats) Stats() domain.ExecutionStats {
	return domain.ExecutionStats{
		Executions: 3,
		Venues:     []domain.VenuePerformance{{Venue: "alpha", Symbol: "BTC/USDT", Samples: 3}},
	}
}

type stubVenues struct{}

func (stubVenues) Names() []string   { return []string{"beta", "alpha"} }
func (stubVenues) Symbols() []string { return []string{"BTC/USDT"} }
func (stubVenues) VenuesFor(string) []string {
	return []string{"alpha", "beta"}
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }
func (denyLimiter) Wait(context.Context, string) error                           { return nil }

func newTestRoutes(cfg Config, limiter domain.RateLimiter) (http.Handler, *stubProtector) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prot := &stubProtector{}
	h := Handlers{
		Health:       handler.NewHealthHandler("paper", nil, logger),
		Execute:      handler.NewExecuteHandler(stubExecutor{}, logger),
		Transactions: handler.NewTransactionHandler(stubEngine{}, logger),
		Protections:  handler.NewProtectionHandler(prot, logger),
		Stats:        handler.NewStatsHandler(stubStats{}, stubVenues{}, nil, logger),
	}
	return Routes(cfg, h, nil, limiter, logger), prot
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthSkipsHealth(t *testing.T) {
	h, _ := newTestRoutes(Config{APIKey: "secret"}, nil)

	rec := do(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/stats", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExecuteStatusMapping(t *testing.T) {
	h, _ := newTestRoutes(Config{}, nil)

	rec := do(t, h, http.MethodPost, "/api/execute", `{"symbol":"BTC/USDT","side":"buy","amount":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res domain.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 2.0, res.FilledAmount)

	rec = do(t, h, http.MethodPost, "/api/execute", `{"symbol":"VETO/USDT","side":"buy","amount":2}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/execute", `{"side":"buy","amount":2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"violations":["symbol is required"]`)

	rec = do(t, h, http.MethodPost, "/api/execute", `{"symbol":"BTC/USDT","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactionRoutes(t *testing.T) {
	h, _ := newTestRoutes(Config{}, nil)

	rec := do(t, h, http.MethodPost, "/api/transactions", `{"legs":[{"symbol":"BTC/USDT","side":"buy","amount":1,"venue":"alpha","kind":"market"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"tx-1"`)

	rec = do(t, h, http.MethodPost, "/api/transactions/tx-1/execute", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(domain.StatusCompleted))

	rec = do(t, h, http.MethodGet, "/api/transactions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/transactions/tx-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/transactions", "")
	assert.JSONEq(t, `{"transactions":[]}`, rec.Body.String())
}

func TestProtectionRoutes(t *testing.T) {
	h, prot := newTestRoutes(Config{}, nil)

	rec := do(t, h, http.MethodPost, "/api/protections",
		`{"symbol":"BTC/USDT","side":"sell","size":3,"max_slippage":0.01,"expires_after":"15m"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 15*time.Minute, prot.last.ExpiresAfter)
	assert.Equal(t, 0.01, prot.last.MaxSlippage)

	rec = do(t, h, http.MethodPost, "/api/protections", `{"symbol":"BTC/USDT","side":"sell","size":3,"expires_after":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/protections/p-9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/protections", "")
	assert.JSONEq(t, `{"protections":[]}`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/api/protections/p-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatsVenues(t *testing.T) {
	h, _ := newTestRoutes(Config{}, nil)

	rec := do(t, h, http.MethodGet, "/api/stats/venues", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Venues []struct {
			Name        string                    `json:"name"`
			Symbols     []string                  `json:"symbols"`
			Performance []domain.VenuePerformance `json:"performance"`
		} `json:"venues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Venues, 2)
	assert.Equal(t, "alpha", body.Venues[0].Name)
	assert.Equal(t, []string{"BTC/USDT"}, body.Venues[0].Symbols)
	assert.Len(t, body.Venues[0].Performance, 1)
	assert.Empty(t, body.Venues[1].Performance)
}

func TestRateLimitAndCORS(t *testing.T) {
	h, _ := newTestRoutes(Config{RateLimit: 1, RateWindow: time.Second}, denyLimiter{})
	rec := do(t, h, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = do(t, h, http.MethodOptions, "/api/execute", "", "Origin", "https://ops.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
