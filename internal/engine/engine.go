package engine

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/wealthkit/autopilot/internal/config"
	"github.com/wealthkit/autopilot/internal/events"
	"github.com/wealthkit/autopilot/internal/executor"
	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/metrics"
	"github.com/wealthkit/autopilot/internal/model"
	"github.com/wealthkit/autopilot/internal/performance"
	"github.com/wealthkit/autopilot/internal/portfolio"
	"github.com/wealthkit/autopilot/internal/queue"
	"github.com/wealthkit/autopilot/internal/rules"
	"github.com/wealthkit/autopilot/internal/tools"
)

// Engine ties the automation components together behind one façade:
// portfolio lifecycle, manual trade intake, the periodic cycles and
// read-side summaries.
type Engine struct {
	cfg      config.EngineConfig
	repo     *portfolio.Repository
	queue    *queue.TradeQueue
	rules    *rules.Engine
	executor *executor.Executor
	tracker  *performance.Tracker
	sink     events.Sink
	metrics  *metrics.Registry
	logger   logger.Logger
}

func New(
	cfg config.EngineConfig,
	repo *portfolio.Repository,
	q *queue.TradeQueue,
	rulesEngine *rules.Engine,
	exec *executor.Executor,
	tracker *performance.Tracker,
	sink events.Sink,
	m *metrics.Registry,
	logger logger.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		repo:     repo,
		queue:    q,
		rules:    rulesEngine,
		executor: exec,
		tracker:  tracker,
		sink:     sink,
		metrics:  m,
		logger:   logger.With("component", "engine"),
	}
}

// CreatePortfolioRequest is everything an owner chooses when handing a
// portfolio over to the engine.
type CreatePortfolioRequest struct {
	Name               string                       `json:"name"`
	Strategy           string                       `json:"strategy"`
	RiskTolerance      model.RiskTolerance          `json:"risk_tolerance"`
	AutomationLevel    model.AutomationLevel        `json:"automation_level"`
	TargetAllocation   map[model.AssetClass]float64 `json:"target_allocation"`
	InitialDeposit     float64                      `json:"initial_deposit"`
	RebalancingEnabled bool                         `json:"rebalancing_enabled"`
	StopLossEnabled    bool                         `json:"stop_loss_enabled"`
	DCA                model.DCAPlan                `json:"dca"`
}

// CreateAutomatedPortfolio validates the request, resolves risk limits
// from the tier table and registers the portfolio with the working set.
// An empty target allocation is allowed here; the rebalancing rule
// skips such portfolios until one is configured.
func (e *Engine) CreateAutomatedPortfolio(ownerID string, req CreatePortfolioRequest) (*model.Portfolio, error) {
	if ownerID == "" {
		return nil, model.ValidationError{Field: "owner_id", Reason: "empty"}
	}
	if req.InitialDeposit < 0 {
		return nil, model.ValidationError{Field: "initial_deposit", Reason: "negative"}
	}
	if !req.RiskTolerance.Valid() {
		return nil, model.ValidationError{Field: "risk_tolerance", Reason: fmt.Sprintf("unknown tier %q", req.RiskTolerance)}
	}

	automation := req.AutomationLevel
	if automation == "" {
		automation = model.SemiAutomated
	}
	if !automation.Valid() {
		return nil, model.ValidationError{Field: "automation_level", Reason: fmt.Sprintf("unknown level %q", automation)}
	}

	if len(req.TargetAllocation) > 0 {
		var sum float64
		for class, pct := range req.TargetAllocation {
			if !class.Valid() {
				return nil, model.ValidationError{Field: "target_allocation", Reason: fmt.Sprintf("unknown asset class %q", class)}
			}
			if pct < 0 {
				return nil, model.ValidationError{Field: "target_allocation", Reason: fmt.Sprintf("negative weight for %s", class)}
			}
			sum += pct
		}
		if math.Abs(sum-100) > 1e-6 {
			return nil, model.ValidationError{Field: "target_allocation", Reason: fmt.Sprintf("weights sum to %.2f, want 100", sum)}
		}
	}

	if req.DCA.Frequency != "" && req.DCA.Frequency.Interval() == 0 {
		return nil, model.ValidationError{Field: "dca.frequency", Reason: fmt.Sprintf("unknown frequency %q", req.DCA.Frequency)}
	}

	limits, ok := e.cfg.RiskTiers.LimitsFor(req.RiskTolerance)
	if !ok {
		return nil, model.ValidationError{Field: "risk_tolerance", Reason: fmt.Sprintf("no limits for tier %q", req.RiskTolerance)}
	}

	now := time.Now().UTC()
	p := &model.Portfolio{
		ID:      model.NewPortfolioID(),
		OwnerID: ownerID,
		Name:    cmp.Or(req.Name, "Portfolio"),
		Status:  model.StatusActive,
		Config: model.PortfolioConfig{
			Strategy:           req.Strategy,
			RiskTolerance:      req.RiskTolerance,
			AutomationLevel:    automation,
			TargetAllocation:   req.TargetAllocation,
			RebalancingEnabled: req.RebalancingEnabled,
			StopLossEnabled:    req.StopLossEnabled,
			DCA:                req.DCA,
		},
		Limits:         limits,
		Cash:           tools.RoundCash(req.InitialDeposit),
		InitialDeposit: tools.RoundCash(req.InitialDeposit),
		Positions:      make(map[string]*model.Position),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	p.Performance.TotalValue = p.Cash

	if err := e.repo.Add(p); err != nil {
		return nil, fmt.Errorf("%w: can't register portfolio", err)
	}

	e.metrics.ActivePortfolios.Set(float64(len(e.repo.ActiveIDs())))
	e.sink.Publish(model.NewEvent(model.EventPortfolioCreated, p.ID, p.Config))
	e.logger.Infof("created portfolio %s for %s, %s / %s, deposit %.2f",
		p.ID, ownerID, p.Config.RiskTolerance, p.Config.AutomationLevel, p.InitialDeposit)

	return p.Clone(), nil
}

// TradeIntent is a manually requested trade, bypassing the rules.
type TradeIntent struct {
	Symbol     string            `json:"symbol"`
	AssetClass model.AssetClass  `json:"asset_class,omitempty"`
	Action     model.TradeAction `json:"action"`
	Quantity   float64           `json:"quantity,omitempty"`
	Amount     float64           `json:"amount,omitempty"`
	Reason     model.TradeReason `json:"reason"`
}

// QueueTrade validates an intent and places it on the trade queue. The
// returned order is live: its status reflects execution progress.
func (e *Engine) QueueTrade(portfolioID string, intent TradeIntent) (*model.TradeOrder, error) {
	snap, err := e.repo.Snapshot(portfolioID)
	if err != nil {
		return nil, err
	}
	if !snap.Active() {
		return nil, fmt.Errorf("portfolio %s is inactive", portfolioID)
	}

	if !intent.Action.Valid() {
		return nil, model.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", intent.Action)}
	}
	if intent.Symbol == "" {
		return nil, model.ValidationError{Field: "symbol", Reason: "empty"}
	}
	if intent.Action != model.Reinvest && intent.Quantity <= 0 && intent.Amount <= 0 {
		return nil, model.ValidationError{Field: "size", Reason: "either quantity or amount must be positive"}
	}

	reason := intent.Reason
	if reason == "" {
		reason = model.Manual
	}

	o := model.NewTradeOrder(portfolioID, intent.Symbol, intent.Action, reason)
	o.AssetClass = intent.AssetClass
	o.Quantity = intent.Quantity
	o.Amount = intent.Amount

	e.queue.Enqueue(o)
	e.metrics.QueueDepth.Set(float64(e.queue.Len()))
	return o, nil
}

// RunRuleEvaluationCycle evaluates all rules over all active portfolios.
func (e *Engine) RunRuleEvaluationCycle(ctx context.Context) {
	start := time.Now()
	e.rules.EvaluateAll(ctx)
	e.metrics.ObserveCycle("rules", start)
}

// RunExecutionCycle drains one batch from the trade queue.
func (e *Engine) RunExecutionCycle(ctx context.Context) (executed, failed int) {
	start := time.Now()
	executed, failed = e.executor.ExecuteCycle(ctx)
	e.metrics.ObserveCycle("execution", start)
	return executed, failed
}

// RunPerformanceCycle snapshots every active portfolio.
func (e *Engine) RunPerformanceCycle(ctx context.Context) {
	start := time.Now()
	e.tracker.RunCycle(ctx)
	e.metrics.ObserveCycle("performance", start)
}

// RunPerformanceSweep refreshes prices between full performance cycles.
func (e *Engine) RunPerformanceSweep(ctx context.Context) {
	start := time.Now()
	e.tracker.RunSweep(ctx)
	e.metrics.ObserveCycle("performance_sweep", start)
}

func (e *Engine) Deposit(portfolioID string, amount float64) error {
	if amount <= 0 {
		return model.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return e.repo.Update(portfolioID, func(p *model.Portfolio) error {
		p.Cash = tools.RoundCash(p.Cash + amount)
		e.logger.Infof("deposited %.2f into %s, cash now %.2f", amount, portfolioID, p.Cash)
		return nil
	})
}

func (e *Engine) Withdraw(portfolioID string, amount float64) error {
	if amount <= 0 {
		return model.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return e.repo.Update(portfolioID, func(p *model.Portfolio) error {
		if p.Cash < amount {
			return fmt.Errorf("insufficient cash: have %.2f, want %.2f", p.Cash, amount)
		}
		p.Cash = tools.RoundCash(p.Cash - amount)
		e.logger.Infof("withdrew %.2f from %s, cash now %.2f", amount, portfolioID, p.Cash)
		return nil
	})
}

// CreditDividend adds a dividend payment to the portfolio's pending
// balance. The reinvestment rule picks it up on the next evaluation.
func (e *Engine) CreditDividend(portfolioID, symbol string, amount float64) error {
	if amount <= 0 {
		return model.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return e.repo.Update(portfolioID, func(p *model.Portfolio) error {
		p.PendingDividends = tools.RoundCash(p.PendingDividends + amount)
		e.logger.Infof("credited %.2f dividend from %s to %s, pending %.2f",
			amount, symbol, portfolioID, p.PendingDividends)
		return nil
	})
}

// Deactivate takes a portfolio out of automation. Its queued orders are
// skipped by the executor and stay pending.
func (e *Engine) Deactivate(portfolioID string) error {
	if err := e.repo.Deactivate(portfolioID); err != nil {
		return err
	}
	e.metrics.ActivePortfolios.Set(float64(len(e.repo.ActiveIDs())))
	e.logger.Infof("deactivated portfolio %s", portfolioID)
	return nil
}

// PortfolioSummary is the read model for one portfolio: current state,
// performance and anything currently in breach.
type PortfolioSummary struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Status          model.PortfolioStatus  `json:"status"`
	RiskTolerance   model.RiskTolerance    `json:"risk_tolerance"`
	AutomationLevel model.AutomationLevel  `json:"automation_level"`
	Cash            float64                `json:"cash"`
	TotalValue      float64                `json:"total_value"`
	Performance     model.PerformanceStats `json:"performance"`
	PeriodReturns   map[string]float64     `json:"period_returns"`
	Positions       []model.Position       `json:"positions"`
	Violations      []model.RiskViolation  `json:"violations,omitempty"`
	PendingOrders   int                    `json:"pending_orders"`
}

// GetPortfolioSummary assembles the summary from a snapshot. Violations
// are recomputed here so the report reflects the current state, not the
// last cycle's.
func (e *Engine) GetPortfolioSummary(portfolioID string) (PortfolioSummary, error) {
	snap, err := e.repo.Snapshot(portfolioID)
	if err != nil {
		return PortfolioSummary{}, err
	}

	now := time.Now().UTC()
	tv := snap.TotalValue()

	positions := make([]model.Position, 0, len(snap.Positions))
	for _, sym := range sortedSymbols(snap.Positions) {
		positions = append(positions, *snap.Positions[sym])
	}

	return PortfolioSummary{
		ID:              snap.ID,
		Name:            snap.Name,
		Status:          snap.Status,
		RiskTolerance:   snap.Config.RiskTolerance,
		AutomationLevel: snap.Config.AutomationLevel,
		Cash:            snap.Cash,
		TotalValue:      tv,
		Performance:     snap.Performance,
		PeriodReturns: map[string]float64{
			"1d":  performance.PeriodReturn(snap.Snapshots, tv, 1, now),
			"7d":  performance.PeriodReturn(snap.Snapshots, tv, 7, now),
			"30d": performance.PeriodReturn(snap.Snapshots, tv, 30, now),
		},
		Positions:     positions,
		Violations:    e.rules.DetectViolations(snap),
		PendingOrders: len(e.queue.PendingForPortfolio(portfolioID)),
	}, nil
}

func sortedSymbols(positions map[string]*model.Position) []string {
	symbols := make([]string, 0, len(positions))
	for sym := range positions {
		symbols = append(symbols, sym)
	}
	slices.Sort(symbols)
	return symbols
}
