package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wealthkit/autopilot/internal/config"
	"github.com/wealthkit/autopilot/internal/engine"
	"github.com/wealthkit/autopilot/internal/events"
	"github.com/wealthkit/autopilot/internal/executor"
	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/metrics"
	"github.com/wealthkit/autopilot/internal/model"
	"github.com/wealthkit/autopilot/internal/performance"
	"github.com/wealthkit/autopilot/internal/portfolio"
	"github.com/wealthkit/autopilot/internal/pricing"
	"github.com/wealthkit/autopilot/internal/queue"
	"github.com/wealthkit/autopilot/internal/rules"
)

type fakeSource struct {
	prices map[string]float64
}

func (f *fakeSource) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	price, ok := f.prices[symbol]
	if !ok {
		return 0, errors.New("unknown symbol " + symbol)
	}
	return price, nil
}

func (f *fakeSource) ExecutionPrice(ctx context.Context, symbol string) (float64, error) {
	return f.CurrentPrice(ctx, symbol)
}

func newTestRouter(t *testing.T, prices pricing.PriceSource) (*mux.Router, *engine.Engine) {
	t.Helper()

	cfg := config.DefaultEngineConfig()
	nop := logger.NewNopLogger()
	m := metrics.NewRegistry()
	repo := portfolio.NewRepository(nil, nop)
	q := queue.NewTradeQueue(nop)
	sink := events.NewLogSink(nop)

	eng := engine.New(
		cfg,
		repo,
		q,
		rules.NewEngine(cfg.Rules, cfg.Universe, repo, q, sink, m, nop),
		executor.NewExecutor(cfg.Executor, repo, q, prices, sink, m, nop),
		performance.NewTracker(cfg.Performance, repo, prices, nop),
		sink,
		m,
		nop,
	)
	return NewRouter(NewHandler(eng, nil, prices, m, "VTI", nop)), eng
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, &fakeSource{prices: map[string]float64{"VTI": 200}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp healthResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "disabled", resp.Components["postgres"])
	assert.Equal(t, "ok", resp.Components["pricing"])
}

func TestHealth_DegradedPricing(t *testing.T) {
	router, _ := newTestRouter(t, &fakeSource{prices: map[string]float64{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp healthResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Components["pricing"], "unknown symbol VTI")
}

func TestSummary(t *testing.T) {
	router, eng := newTestRouter(t, &fakeSource{prices: map[string]float64{"VTI": 200}})
	p, err := eng.CreateAutomatedPortfolio("owner-1", engine.CreatePortfolioRequest{
		RiskTolerance:  model.Moderate,
		InitialDeposit: 50_000,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/portfolios/"+p.ID+"/summary", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var summary engine.PortfolioSummary
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, p.ID, summary.ID)
	assert.Equal(t, 50_000.0, summary.Cash)
	assert.Equal(t, model.SemiAutomated, summary.AutomationLevel)
	assert.Equal(t, 0, summary.PendingOrders)
}

func TestSummary_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, &fakeSource{prices: map[string]float64{"VTI": 200}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/portfolios/missing/summary", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]string
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "portfolio not found")
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, &fakeSource{prices: map[string]float64{"VTI": 200}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autopilot_trade_queue_depth")
	assert.Contains(t, rec.Body.String(), "autopilot_active_portfolios")
}
