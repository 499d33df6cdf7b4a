package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wealthkit/autopilot/internal/config"
	"github.com/wealthkit/autopilot/internal/executor"
	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/metrics"
	"github.com/wealthkit/autopilot/internal/model"
	"github.com/wealthkit/autopilot/internal/performance"
	"github.com/wealthkit/autopilot/internal/portfolio"
	"github.com/wealthkit/autopilot/internal/queue"
	"github.com/wealthkit/autopilot/internal/rules"
)

type fakeSource struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (f *fakeSource) set(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *fakeSource) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	price, ok := f.prices[symbol]
	if !ok {
		return 0, errors.New("unknown symbol " + symbol)
	}
	return price, nil
}

func (f *fakeSource) ExecutionPrice(ctx context.Context, symbol string) (float64, error) {
	return f.CurrentPrice(ctx, symbol)
}

type captureSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *captureSink) Publish(e model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *captureSink) ofType(t model.EventType) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	engine *Engine
	repo   *portfolio.Repository
	queue  *queue.TradeQueue
	prices *fakeSource
	sink   *captureSink
}

func newFixture(t *testing.T, mutate ...func(*config.EngineConfig)) *fixture {
	t.Helper()

	cfg := config.DefaultEngineConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	nop := logger.NewNopLogger()
	prices := &fakeSource{prices: map[string]float64{
		"VTI":  200,
		"BND":  100,
		"AAPL": 150,
		"ITOT": 115,
	}}
	sink := &captureSink{}
	m := metrics.NewRegistry()
	repo := portfolio.NewRepository(nil, nop)
	q := queue.NewTradeQueue(nop)

	eng := New(
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
	return &fixture{engine: eng, repo: repo, queue: q, prices: prices, sink: sink}
}

func validRequest() CreatePortfolioRequest {
	return CreatePortfolioRequest{
		Name:            "Growth",
		RiskTolerance:   model.Moderate,
		AutomationLevel: model.FullyAutomated,
		TargetAllocation: map[model.AssetClass]float64{
			model.Stocks: 60,
			model.Bonds:  30,
			model.Cash:   10,
		},
		InitialDeposit:     100_000,
		RebalancingEnabled: true,
		StopLossEnabled:    true,
	}
}

func TestCreateAutomatedPortfolio(t *testing.T) {
	f := newFixture(t)

	p, err := f.engine.CreateAutomatedPortfolio("owner-1", validRequest())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(p.ID, "apfl-"))
	assert.Equal(t, "Growth", p.Name)
	assert.Equal(t, model.StatusActive, p.Status)
	assert.Equal(t, model.FullyAutomated, p.Config.AutomationLevel)
	assert.Equal(t, 0.15, p.Limits.MaxPositionSize)
	assert.Equal(t, 0.03, p.Limits.MinCash)
	assert.Equal(t, 100_000.0, p.Cash)
	assert.Equal(t, 100_000.0, p.Performance.TotalValue)
	assert.Len(t, f.sink.ofType(model.EventPortfolioCreated), 1)

	// The caller gets a detached copy.
	p.Cash = 0
	snap, err := f.repo.Snapshot(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 100_000.0, snap.Cash)
}

func TestCreateAutomatedPortfolio_Defaults(t *testing.T) {
	f := newFixture(t)

	req := validRequest()
	req.Name = ""
	req.AutomationLevel = ""

	p, err := f.engine.CreateAutomatedPortfolio("owner-1", req)
	require.NoError(t, err)
	assert.Equal(t, "Portfolio", p.Name)
	assert.Equal(t, model.SemiAutomated, p.Config.AutomationLevel)
}

func TestCreateAutomatedPortfolio_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		owner  string
		mutate func(*CreatePortfolioRequest)
		field  string
	}{
		{
			name:   "empty owner",
			mutate: func(r *CreatePortfolioRequest) {},
			field:  "owner_id",
		},
		{
			name:   "negative deposit",
			owner:  "owner-1",
			mutate: func(r *CreatePortfolioRequest) { r.InitialDeposit = -1 },
			field:  "initial_deposit",
		},
		{
			name:   "unknown risk tier",
			owner:  "owner-1",
			mutate: func(r *CreatePortfolioRequest) { r.RiskTolerance = "yolo" },
			field:  "risk_tolerance",
		},
		{
			name:   "unknown automation level",
			owner:  "owner-1",
			mutate: func(r *CreatePortfolioRequest) { r.AutomationLevel = "autopilot" },
			field:  "automation_level",
		},
		{
			name:  "allocation does not sum to 100",
			owner: "owner-1",
			mutate: func(r *CreatePortfolioRequest) {
				r.TargetAllocation = map[model.AssetClass]float64{model.Stocks: 60, model.Cash: 30}
			},
			field: "target_allocation",
		},
		{
			name:  "unknown asset class",
			owner: "owner-1",
			mutate: func(r *CreatePortfolioRequest) {
				r.TargetAllocation = map[model.AssetClass]float64{"crypto": 100}
			},
			field: "target_allocation",
		},
		{
			name:  "negative weight",
			owner: "owner-1",
			mutate: func(r *CreatePortfolioRequest) {
				r.TargetAllocation = map[model.AssetClass]float64{model.Stocks: 110, model.Cash: -10}
			},
			field: "target_allocation",
		},
		{
			name:  "unknown dca frequency",
			owner: "owner-1",
			mutate: func(r *CreatePortfolioRequest) {
				r.DCA = model.DCAPlan{Frequency: "yearly", Symbols: []string{"VTI"}, Amount: 100}
			},
			field: "dca.frequency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			_, err := f.engine.CreateAutomatedPortfolio(tt.owner, req)
			var verr model.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	assert.Equal(t, 0, f.repo.Len())
}

func TestQueueTrade(t *testing.T) {
	f := newFixture(t)
	p, err := f.engine.CreateAutomatedPortfolio("owner-1", validRequest())
	require.NoError(t, err)

	o, err := f.engine.QueueTrade(p.ID, TradeIntent{Symbol: "VTI", Action: model.Buy, Amount: 1_000})
	require.NoError(t, err)
	assert.Equal(t, model.Manual, o.Reason)
	assert.Equal(t, model.OrderPending, o.Status)
	assert.Equal(t, 1, f.queue.Len())

	executed, failed := f.engine.RunExecutionCycle(context.Background())
	assert.Equal(t, 1, executed)
	assert.Equal(t, 0, failed)

	// The returned order is live and reflects execution progress.
	assert.Equal(t, model.OrderExecuted, o.Status)
}

func TestQueueTrade_Validation(t *testing.T) {
	f := newFixture(t)
	p, err := f.engine.CreateAutomatedPortfolio("owner-1", validRequest())
	require.NoError(t, err)

	tests := []struct {
		name   string
		intent TradeIntent
		field  string
	}{
		{
			name:   "unknown action",
			intent: TradeIntent{Symbol: "VTI", Action: "HOLD", Amount: 100},
			field:  "action",
		},
		{
			name:   "empty symbol",
			intent: TradeIntent{Action: model.Buy, Amount: 100},
			field:  "symbol",
		},
		{
			name:   "no size",
			intent: TradeIntent{Symbol: "VTI", Action: model.Buy},
			field:  "size",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.QueueTrade(p.ID, tt.intent)
			var verr model.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	// Reinvest orders carry no size of their own.
	_, err = f.engine.QueueTrade(p.ID, TradeIntent{Symbol: "VTI", Action: model.Reinvest})
	require.NoError(t, err)

	_, err = f.engine.QueueTrade("missing", TradeIntent{Symbol: "VTI", Action: model.Buy, Amount: 100})
	assert.ErrorIs(t, err, portfolio.NotFoundError)

	require.NoError(t, f.engine.Deactivate(p.ID))
	_, err = f.engine.QueueTrade(p.ID, TradeIntent{Symbol: "VTI", Action: model.Buy, Amount: 100})
	assert.ErrorContains(t, err, "inactive")
}

func TestDepositWithdrawDividend(t *testing.T) {
	f := newFixture(t)
	p, err := f.engine.CreateAutomatedPortfolio("owner-1", validRequest())
	require.NoError(t, err)

	require.NoError(t, f.engine.Deposit(p.ID, 500))
	require.NoError(t, f.engine.Withdraw(p.ID, 250))

	snap, err := f.repo.Snapshot(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 100_250.0, snap.Cash)

	err = f.engine.Withdraw(p.ID, 1_000_000)
	assert.ErrorContains(t, err, "insufficient cash")

	var verr model.ValidationError
	require.ErrorAs(t, f.engine.Deposit(p.ID, -5), &verr)
	assert.Equal(t, "amount", verr.Field)
	require.ErrorAs(t, f.engine.Withdraw(p.ID, 0), &verr)
	assert.Equal(t, "amount", verr.Field)

	require.NoError(t, f.engine.CreditDividend(p.ID, "VTI", 75.5))
	snap, err = f.repo.Snapshot(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 75.5, snap.PendingDividends)
	assert.Equal(t, 100_250.0, snap.Cash)

	assert.ErrorIs(t, f.engine.Deposit("missing", 10), portfolio.NotFoundError)
}

func TestDeactivate(t *testing.T) {
	f := newFixture(t)
	p, err := f.engine.CreateAutomatedPortfolio("owner-1", validRequest())
	require.NoError(t, err)

	o, err := f.engine.QueueTrade(p.ID, TradeIntent{Symbol: "VTI", Action: model.Buy, Amount: 1_000})
	require.NoError(t, err)

	require.NoError(t, f.engine.Deactivate(p.ID))
	snap, err := f.repo.Snapshot(p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInactive, snap.Status)

	// Queued orders are skipped, not failed.
	executed, failed := f.engine.RunExecutionCycle(context.Background())
	assert.Equal(t, 0, executed)
	assert.Equal(t, 0, failed)
	assert.Equal(t, model.OrderPending, o.Status)
	assert.Equal(t, 0, f.queue.Len())

	assert.ErrorIs(t, f.engine.Deactivate("missing"), portfolio.NotFoundError)
}

func TestGetPortfolioSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.engine.CreateAutomatedPortfolio("owner-1", validRequest())
	require.NoError(t, err)

	_, err = f.engine.QueueTrade(p.ID, TradeIntent{Symbol: "VTI", Action: model.Buy, Amount: 30_000})
	require.NoError(t, err)
	_, err = f.engine.QueueTrade(p.ID, TradeIntent{Symbol: "AAPL", Action: model.Buy, Amount: 10_000})
	require.NoError(t, err)
	executed, failed := f.engine.RunExecutionCycle(ctx)
	require.Equal(t, 2, executed)
	require.Equal(t, 0, failed)

	_, err = f.engine.QueueTrade(p.ID, TradeIntent{Symbol: "BND", Action: model.Buy, Amount: 1_000})
	require.NoError(t, err)

	s, err := f.engine.GetPortfolioSummary(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, s.ID)
	assert.Equal(t, model.StatusActive, s.Status)
	assert.InDelta(t, 59_960, s.Cash, 1e-9) // two buys, 40,000 notional plus 40 of fees
	assert.InDelta(t, 99_960, s.TotalValue, 1e-9)
	assert.Equal(t, 1, s.PendingOrders)

	require.Len(t, s.Positions, 2)
	assert.Equal(t, "AAPL", s.Positions[0].Symbol)
	assert.Equal(t, "VTI", s.Positions[1].Symbol)

	// VTI holds 30% of the book against the moderate 15% position cap.
	require.Len(t, s.Violations, 1)
	assert.Equal(t, model.ViolationConcentration, s.Violations[0].Kind)
	assert.Equal(t, "VTI", s.Violations[0].Symbol)

	require.Contains(t, s.PeriodReturns, "1d")
	require.Contains(t, s.PeriodReturns, "7d")
	require.Contains(t, s.PeriodReturns, "30d")
	assert.Equal(t, 0.0, s.PeriodReturns["7d"]) // no snapshots yet

	_, err = f.engine.GetPortfolioSummary("missing")
	assert.ErrorIs(t, err, portfolio.NotFoundError)
}

// TestEnginePipeline drives one portfolio through the full loop:
// creation, rebalancing into the market, a crash, the protective exit
// with its tax-loss follow-up, and the performance trail of all of it.
func TestEnginePipeline(t *testing.T) {
	f := newFixture(t, func(cfg *config.EngineConfig) {
		// Wide risk limits keep the risk monitor quiet; the point here is
		// the interplay of rebalancing, protections and harvesting.
		cfg.RiskTiers[model.Moderate] = model.RiskLimits{
			MaxPositionSize:   1.0,
			MaxSectorExposure: 1.0,
			MaxLeverage:       1.0,
		}
	})
	ctx := context.Background()

	p, err := f.engine.CreateAutomatedPortfolio("owner-1", validRequest())
	require.NoError(t, err)

	f.engine.RunRuleEvaluationCycle(ctx)
	require.Equal(t, 2, f.queue.Len())

	executed, failed := f.engine.RunExecutionCycle(ctx)
	require.Equal(t, 2, executed)
	require.Equal(t, 0, failed)

	snap, err := f.repo.Snapshot(p.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.Positions["VTI"])
	require.NotNil(t, snap.Positions["BND"])
	assert.InDelta(t, 300, snap.Positions["VTI"].Quantity, 1e-9)
	assert.InDelta(t, 300, snap.Positions["BND"].Quantity, 1e-9)
	assert.InDelta(t, 9_910, snap.Cash, 1e-9)
	assert.False(t, snap.NextRebalancing.IsZero())

	f.engine.RunPerformanceCycle(ctx)
	snap, err = f.repo.Snapshot(p.ID)
	require.NoError(t, err)
	require.Len(t, snap.Snapshots, 1)
	assert.InDelta(t, -0.09, snap.Performance.TotalReturnPct, 1e-6) // 90 of fees on 100,000

	// VTI drops 15% below cost. The sweep refreshes prices without
	// taking another snapshot; the high-water mark stays at the peak.
	f.prices.set("VTI", 170)
	f.engine.RunPerformanceSweep(ctx)
	snap, err = f.repo.Snapshot(p.ID)
	require.NoError(t, err)
	require.Len(t, snap.Snapshots, 1)
	assert.Equal(t, 170.0, snap.Positions["VTI"].CurrentPrice)
	assert.Equal(t, 200.0, snap.Positions["VTI"].HighWaterMark)

	// Stop-loss exit, harvest sell and replacement buy. Rebalancing
	// stays quiet: the cooldown from the first cycle is still running.
	f.engine.RunRuleEvaluationCycle(ctx)
	require.Equal(t, 3, f.queue.Len())

	f.engine.RunRuleEvaluationCycle(ctx)
	assert.Equal(t, 3, f.queue.Len(), "re-evaluation must not duplicate orders")

	// The stop-loss outranks the harvest sell and empties the position
	// first, so the harvest sell fails; the replacement buy still runs.
	executed, failed = f.engine.RunExecutionCycle(ctx)
	assert.Equal(t, 2, executed)
	assert.Equal(t, 1, failed)

	snap, err = f.repo.Snapshot(p.ID)
	require.NoError(t, err)
	assert.NotContains(t, snap.Positions, "VTI")
	require.NotNil(t, snap.Positions["ITOT"])
	assert.InDelta(t, 51_850, snap.Cash, 1e-9)
	assert.InDelta(t, 90_850, snap.TotalValue(), 1e-6)

	f.engine.RunPerformanceCycle(ctx)
	snap, err = f.repo.Snapshot(p.ID)
	require.NoError(t, err)
	require.Len(t, snap.Snapshots, 2)
	assert.InDelta(t, -9.15, snap.Performance.TotalReturnPct, 1e-6)
	assert.InDelta(t, 9.0682, snap.Performance.MaxDrawdownPct, 1e-3)

	assert.Len(t, f.sink.ofType(model.EventRebalancingNeeded), 1)
	assert.Len(t, f.sink.ofType(model.EventStopLossTriggered), 1)
	assert.Len(t, f.sink.ofType(model.EventTradeExecuted), 4)
	assert.Empty(t, f.sink.ofType(model.EventApprovalRequired))
}
