package rules

import (
	"context"
	"slices"
	"sync"

	"github.com/wealthkit/autopilot/internal/config"
	"github.com/wealthkit/autopilot/internal/events"
	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/metrics"
	"github.com/wealthkit/autopilot/internal/model"
	"github.com/wealthkit/autopilot/internal/portfolio"
	"github.com/wealthkit/autopilot/internal/queue"
)

// Engine runs the automation rules over portfolio snapshots and turns
// their decisions into queued trade orders and events. It never mutates
// a portfolio: all state changes happen in the executor.
type Engine struct {
	cfg      config.RulesConfig
	universe config.UniverseConfig
	repo     *portfolio.Repository
	queue    *queue.TradeQueue
	sink     events.Sink
	metrics  *metrics.Registry
	logger   logger.Logger
}

func NewEngine(
	cfg config.RulesConfig,
	universe config.UniverseConfig,
	repo *portfolio.Repository,
	q *queue.TradeQueue,
	sink events.Sink,
	m *metrics.Registry,
	logger logger.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		universe: universe,
		repo:     repo,
		queue:    q,
		sink:     sink,
		metrics:  m,
		logger:   logger.With("component", "rules"),
	}
}

// EvaluateAll evaluates every rule for every active portfolio.
// Portfolios are independent, so they run in parallel; within one
// portfolio the rules run in sequence over a single consistent snapshot.
func (e *Engine) EvaluateAll(ctx context.Context) {
	ids := e.repo.ActiveIDs()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			if ctx.Err() != nil {
				return
			}
			p, err := e.repo.Snapshot(id)
			if err != nil {
				e.logger.Errorf("%s: can't snapshot portfolio %s", err, id)
				return
			}
			e.EvaluatePortfolio(p)
		}(id)
	}
	wg.Wait()

	e.metrics.QueueDepth.Set(float64(e.queue.Len()))
}

// EvaluatePortfolio runs the full rule set over one snapshot.
func (e *Engine) EvaluatePortfolio(p *model.Portfolio) {
	if !p.Active() {
		return
	}

	e.evaluateProtections(p)
	e.evaluateRebalancing(p)
	e.evaluateRiskLimits(p)
	e.evaluateOptimizations(p)
}

// enqueue pushes an order unless an equivalent intent is already
// waiting. Reports whether the order was actually queued.
func (e *Engine) enqueue(o *model.TradeOrder) bool {
	if e.queue.HasPending(o.PortfolioID, o.Reason, o.Target()) {
		e.logger.Debugf("%s %s already pending for %s, skipping", o.Reason, o.Target(), o.PortfolioID)
		return false
	}
	e.queue.Enqueue(o)
	return true
}

func sortedSymbols(positions map[string]*model.Position) []string {
	symbols := make([]string, 0, len(positions))
	for sym := range positions {
		symbols = append(symbols, sym)
	}
	slices.Sort(symbols)
	return symbols
}
