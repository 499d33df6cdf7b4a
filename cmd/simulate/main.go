package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/wealthkit/autopilot/internal/config"
	"github.com/wealthkit/autopilot/internal/engine"
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

const (
	_simDays     = 30
	_stepsPerDay = 24
	_crashDay    = 10
)

// Simulation driver: runs the whole engine against the simulated price
// walk in compressed time, no database, no server. One step is one
// simulated hour; a performance snapshot is taken per simulated day.
func main() {
	zapLogger, loggerSync, err := logger.NewZapLogger(logger.Info)
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	if err := godotenv.Load(); err != nil {
		zapLogger.Warnf("can't detect .env file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.DefaultEngineConfig()
	// Compressed time: a real cooldown would block every rebalance after
	// the first one.
	cfg.Executor.RebalanceCooldown = time.Millisecond

	sim := pricing.NewSimulatedSource(cfg.Pricing.Simulated, zapLogger)
	repo := portfolio.NewRepository(nil, zapLogger)
	tally := &eventTally{counts: make(map[model.EventType]int)}
	m := metrics.NewRegistry()

	tradeQueue := queue.NewTradeQueue(zapLogger)
	rulesEngine := rules.NewEngine(cfg.Rules, cfg.Universe, repo, tradeQueue, tally, m, zapLogger)
	exec := executor.NewExecutor(cfg.Executor, repo, tradeQueue, sim, tally, m, zapLogger)
	tracker := performance.NewTracker(cfg.Performance, repo, sim, zapLogger)
	eng := engine.New(cfg, repo, tradeQueue, rulesEngine, exec, tracker, tally, m, zapLogger)

	growth, err := eng.CreateAutomatedPortfolio("sim-owner", engine.CreatePortfolioRequest{
		Name:            "Growth",
		Strategy:        "growth",
		RiskTolerance:   model.Moderate,
		AutomationLevel: model.FullyAutomated,
		TargetAllocation: map[model.AssetClass]float64{
			model.Stocks:       60,
			model.Bonds:        30,
			model.Alternatives: 5,
			model.Cash:         5,
		},
		InitialDeposit:     100_000,
		RebalancingEnabled: true,
		StopLossEnabled:    true,
		DCA: model.DCAPlan{
			Frequency: model.DCAWeekly,
			Symbols:   []string{"VTI", "BND"},
			Amount:    500,
		},
	})
	if err != nil {
		zapLogger.Fatalf("%s: can't create growth portfolio", err)
	}

	steady, err := eng.CreateAutomatedPortfolio("sim-owner", engine.CreatePortfolioRequest{
		Name:            "Steady",
		Strategy:        "income",
		RiskTolerance:   model.Conservative,
		AutomationLevel: model.SemiAutomated,
		TargetAllocation: map[model.AssetClass]float64{
			model.Stocks: 40,
			model.Bonds:  50,
			model.Cash:   10,
		},
		InitialDeposit:     50_000,
		RebalancingEnabled: true,
		StopLossEnabled:    true,
	})
	if err != nil {
		zapLogger.Fatalf("%s: can't create steady portfolio", err)
	}

	var totalExecuted, totalFailed int
	for day := 1; day <= _simDays && ctx.Err() == nil; day++ {
		for h := 0; h < _stepsPerDay && ctx.Err() == nil; h++ {
			sim.Advance()
			eng.RunPerformanceSweep(ctx)
			eng.RunRuleEvaluationCycle(ctx)

			executed, failed := eng.RunExecutionCycle(ctx)
			totalExecuted += executed
			totalFailed += failed
		}

		eng.RunPerformanceCycle(ctx)

		if day == _crashDay {
			price, err := sim.CurrentPrice(ctx, "VTI")
			if err != nil {
				zapLogger.Fatalf("%s: can't read VTI price", err)
			}
			zapLogger.Infof("day %d: VTI gaps down 15%%", day)
			sim.SetPrice("VTI", price*0.85)
		}
		if day%7 == 0 {
			if err := eng.CreditDividend(growth.ID, "VTI", 120); err != nil {
				zapLogger.Errorf("%s: can't credit dividend", err)
			}
		}
		if day == 15 {
			if err := eng.Deposit(growth.ID, 10_000); err != nil {
				zapLogger.Errorf("%s: can't deposit", err)
			}
		}
		if day == 20 {
			if err := eng.Withdraw(steady.ID, 2_000); err != nil {
				zapLogger.Errorf("%s: can't withdraw", err)
			}
		}

		g, err := eng.GetPortfolioSummary(growth.ID)
		if err != nil {
			zapLogger.Fatalf("%s: can't summarize growth portfolio", err)
		}
		zapLogger.Infof("day %d: growth value %.2f (%+.2f%%), cash %.2f, %d positions, %d violations",
			day, g.TotalValue, g.Performance.TotalReturnPct, g.Cash, len(g.Positions), len(g.Violations))
	}

	zapLogger.Infof("simulation finished: %d trades executed, %d failed", totalExecuted, totalFailed)

	for _, p := range []*model.Portfolio{growth, steady} {
		s, err := eng.GetPortfolioSummary(p.ID)
		if err != nil {
			zapLogger.Fatalf("%s: can't summarize portfolio", err)
		}
		zapLogger.Infof("%s: value %.2f, return %.2f%%, sharpe %.2f, max drawdown %.2f%%, 7d %.2f%%",
			s.Name, s.TotalValue, s.Performance.TotalReturnPct, s.Performance.SharpeRatio,
			s.Performance.MaxDrawdownPct, s.PeriodReturns["7d"])

		snap, err := repo.Snapshot(p.ID)
		if err != nil {
			zapLogger.Fatalf("%s: can't snapshot portfolio", err)
		}
		printSeries(snap.Snapshots)
	}

	tally.print(zapLogger)
	zapLogger.Infoln("start graceful shutdown")
}

// eventTally counts events by type, standing in for the notification
// boundary during simulation.
type eventTally struct {
	mu     sync.Mutex
	counts map[model.EventType]int
}

func (t *eventTally) Publish(e model.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[e.Type]++
}

func (t *eventTally) print(zapLogger logger.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()

	types := make([]string, 0, len(t.counts))
	for typ := range t.counts {
		types = append(types, string(typ))
	}
	sort.Strings(types)

	for _, typ := range types {
		zapLogger.Infof("%s events: %d", typ, t.counts[model.EventType(typ)])
	}
}

func printSeries(snapshots []model.PerformanceSnapshot) {
	for _, s := range snapshots {
		fmt.Printf("%.2f,", s.TotalValue)
	}
	fmt.Println()
	for _, s := range snapshots {
		fmt.Printf("%.4f,", s.CumulativeReturnPct)
	}
	fmt.Println()
}
