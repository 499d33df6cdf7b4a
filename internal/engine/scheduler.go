package engine

import (
	"context"
	"sync"
	"time"

	"github.com/wealthkit/autopilot/internal/config"
	"github.com/wealthkit/autopilot/internal/logger"
)

// Scheduler drives the four periodic cycles, one goroutine per cycle.
// Each cycle runs strictly sequentially with itself; the cycles overlap
// freely with each other, the portfolio locks keep that safe.
type Scheduler struct {
	cfg    config.CyclesConfig
	engine *Engine
	logger logger.Logger
}

func NewScheduler(cfg config.CyclesConfig, engine *Engine, logger logger.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		engine: engine,
		logger: logger.With("component", "scheduler"),
	}
}

// Run blocks until ctx is cancelled and every cycle loop has stopped.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)

	go s.loop(ctx, &wg, "rules", s.cfg.RuleEvaluationInterval, s.engine.RunRuleEvaluationCycle)
	go s.loop(ctx, &wg, "execution", s.cfg.ExecutionInterval, func(ctx context.Context) {
		s.engine.RunExecutionCycle(ctx)
	})
	go s.loop(ctx, &wg, "performance", s.cfg.PerformanceInterval, s.engine.RunPerformanceCycle)
	go s.loop(ctx, &wg, "performance_sweep", s.cfg.PerformanceSweep, s.engine.RunPerformanceSweep)

	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, tick func(context.Context)) {
	defer wg.Done()
	s.logger.Infof("%s cycle every %s", name, interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("%s cycle stopped", name)
			return
		case <-time.After(interval):
			tick(ctx)
		}
	}
}
