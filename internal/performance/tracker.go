package performance

import (
	"context"
	"slices"
	"time"

	"github.com/wealthkit/autopilot/internal/config"
	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/model"
	"github.com/wealthkit/autopilot/internal/portfolio"
	"github.com/wealthkit/autopilot/internal/pricing"
)

// Tracker revalues portfolios against current prices and maintains the
// snapshot series the headline metrics are computed from.
type Tracker struct {
	cfg    config.PerformanceConfig
	repo   *portfolio.Repository
	prices pricing.PriceSource
	logger logger.Logger
}

func NewTracker(cfg config.PerformanceConfig, repo *portfolio.Repository, prices pricing.PriceSource, logger logger.Logger) *Tracker {
	return &Tracker{
		cfg:    cfg,
		repo:   repo,
		prices: prices,
		logger: logger.With("component", "performance"),
	}
}

// RunCycle takes a snapshot for every active portfolio.
func (t *Tracker) RunCycle(ctx context.Context) {
	for _, id := range t.repo.ActiveIDs() {
		if ctx.Err() != nil {
			return
		}
		if err := t.Track(ctx, id); err != nil {
			t.logger.Errorf("%s: can't track portfolio %s", err, id)
		}
	}
}

// RunSweep refreshes prices and the running total value without
// extending the snapshot series. It keeps the stop rules working on
// fresh prices between full performance cycles.
func (t *Tracker) RunSweep(ctx context.Context) {
	for _, id := range t.repo.ActiveIDs() {
		if ctx.Err() != nil {
			return
		}
		if err := t.Revalue(ctx, id); err != nil {
			t.logger.Errorf("%s: can't revalue portfolio %s", err, id)
		}
	}
}

// Revalue refreshes position prices, raises high-water marks and
// recomputes the running total value.
func (t *Tracker) Revalue(ctx context.Context, id string) error {
	return t.repo.Update(id, func(p *model.Portfolio) error {
		t.refreshPrices(ctx, p)

		now := time.Now().UTC()
		tv := p.TotalValue()
		p.Performance.TotalValue = tv
		p.Performance.TotalReturnPct = TotalReturnPct(tv, p.InitialDeposit)
		p.Performance.UpdatedAt = now
		return nil
	})
}

// Track revalues the portfolio, appends a snapshot and recomputes the
// derived statistics over the series.
func (t *Tracker) Track(ctx context.Context, id string) error {
	return t.repo.Update(id, func(p *model.Portfolio) error {
		t.refreshPrices(ctx, p)

		now := time.Now().UTC()
		tv := p.TotalValue()
		ret := TotalReturnPct(tv, p.InitialDeposit)

		p.Snapshots = append(p.Snapshots, model.PerformanceSnapshot{
			Ts:                  now,
			TotalValue:          tv,
			CumulativeReturnPct: ret,
		})
		if over := len(p.Snapshots) - t.cfg.MaxSnapshots; over > 0 {
			p.Snapshots = slices.Delete(p.Snapshots, 0, over)
		}

		p.Performance = model.PerformanceStats{
			TotalValue:     tv,
			TotalReturnPct: ret,
			SharpeRatio:    SharpeRatio(p.Snapshots, t.cfg.RiskFreeRate),
			MaxDrawdownPct: MaxDrawdown(p.Snapshots),
			UpdatedAt:      now,
		}
		return nil
	})
}

// refreshPrices updates every position with the latest quote. A failed
// lookup keeps the last known price, stale beats missing here.
func (t *Tracker) refreshPrices(ctx context.Context, p *model.Portfolio) {
	symbols := make([]string, 0, len(p.Positions))
	for sym := range p.Positions {
		symbols = append(symbols, sym)
	}
	slices.Sort(symbols)

	for _, sym := range symbols {
		priceCtx, cancel := context.WithTimeout(ctx, t.cfg.PriceTimeout)
		price, err := t.prices.CurrentPrice(priceCtx, sym)
		cancel()
		if err != nil {
			t.logger.Warnf("%s: keeping last price for %s", err, sym)
			continue
		}

		pos := p.Positions[sym]
		pos.CurrentPrice = price
		if price > pos.HighWaterMark {
			pos.HighWaterMark = price
		}
	}
}
