package rules

import (
	"cmp"
	"math"
	"slices"

	"github.com/wealthkit/autopilot/internal/model"
	"github.com/wealthkit/autopilot/internal/performance"
	"github.com/wealthkit/autopilot/internal/tools"
)

// DetectViolations checks the snapshot against its risk limits and
// returns every exceeded one in a stable order. Read-only, so the
// portfolio summary endpoint reuses it for on-demand reporting.
func (e *Engine) DetectViolations(p *model.Portfolio) []model.RiskViolation {
	total := p.TotalValue()
	if total <= 0 {
		return nil
	}

	var violations []model.RiskViolation

	for _, sym := range sortedSymbols(p.Positions) {
		pos := p.Positions[sym]
		frac := pos.MarketValue() / total
		if frac > p.Limits.MaxPositionSize {
			violations = append(violations, model.RiskViolation{
				Kind:     model.ViolationConcentration,
				Symbol:   sym,
				Observed: frac,
				Limit:    p.Limits.MaxPositionSize,
			})
		}
	}

	sectors := make(map[string]float64)
	for _, pos := range p.Positions {
		sectors[e.universe.SectorOf(pos.Symbol)] += pos.MarketValue() / total
	}
	names := make([]string, 0, len(sectors))
	for name := range sectors {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int { return cmp.Compare(a, b) })
	for _, name := range names {
		if sectors[name] > p.Limits.MaxSectorExposure {
			violations = append(violations, model.RiskViolation{
				Kind:     model.ViolationSectorExposure,
				Sector:   name,
				Observed: sectors[name],
				Limit:    p.Limits.MaxSectorExposure,
			})
		}
	}

	if cashFrac := p.Cash / total; cashFrac < p.Limits.MinCash {
		violations = append(violations, model.RiskViolation{
			Kind:     model.ViolationCashShortfall,
			Observed: cashFrac,
			Limit:    p.Limits.MinCash,
		})
	}

	if p.Limits.MaxVolatility > 0 {
		if vol := performance.Volatility(p.Snapshots); vol > p.Limits.MaxVolatility {
			violations = append(violations, model.RiskViolation{
				Kind:     model.ViolationVolatility,
				Observed: vol,
				Limit:    p.Limits.MaxVolatility,
			})
		}
	}

	return violations
}

// evaluateRiskLimits reports violations and, for fully automated
// portfolios, queues the corrective trades. Sector breaches only ever
// request approval: deciding which holding to cut is a judgement call.
// Volatility breaches are report-only.
func (e *Engine) evaluateRiskLimits(p *model.Portfolio) {
	violations := e.DetectViolations(p)
	if len(violations) == 0 {
		return
	}

	e.sink.Publish(model.NewEvent(model.EventRiskLimitViolation, p.ID, violations))

	if p.Config.AutomationLevel != model.FullyAutomated {
		return
	}

	total := p.TotalValue()
	for _, v := range violations {
		switch v.Kind {
		case model.ViolationConcentration:
			pos, ok := p.Positions[v.Symbol]
			if !ok {
				continue
			}
			excess := tools.RoundCash(pos.MarketValue() - p.Limits.MaxPositionSize*total)
			if excess <= 0 {
				continue
			}

			o := model.NewTradeOrder(p.ID, v.Symbol, model.Sell, model.RiskReduction)
			o.Amount = excess
			if e.enqueue(o) {
				e.logger.Infof("selling %.2f of %s in %s to cut concentration", excess, v.Symbol, p.ID)
			}
		case model.ViolationSectorExposure:
			e.sink.Publish(model.NewEvent(model.EventApprovalRequired, p.ID, v))
		case model.ViolationCashShortfall:
			e.raiseCash(p, total)
		}
	}
}

// raiseCash sells winners, best performer first, until the cash floor
// is covered again.
func (e *Engine) raiseCash(p *model.Portfolio, total float64) {
	shortfall := tools.RoundCash(p.Limits.MinCash*total - p.Cash)
	if shortfall <= 0 {
		return
	}

	var positions []*model.Position
	for _, pos := range p.Positions {
		if pos.Quantity > 0 {
			positions = append(positions, pos)
		}
	}
	slices.SortFunc(positions, func(a, b *model.Position) int {
		if c := cmp.Compare(b.GainPct(), a.GainPct()); c != 0 {
			return c
		}
		return cmp.Compare(a.Symbol, b.Symbol)
	})

	for _, pos := range positions {
		if shortfall < 0.01 {
			return
		}
		take := tools.RoundCash(math.Min(shortfall, pos.MarketValue()))
		if take <= 0 {
			continue
		}

		o := model.NewTradeOrder(p.ID, pos.Symbol, model.Sell, model.RaiseCash)
		o.Amount = take
		if e.enqueue(o) {
			e.logger.Infof("selling %.2f of %s in %s to restore the cash floor", take, pos.Symbol, p.ID)
		}
		shortfall = tools.RoundCash(shortfall - take)
	}
}
