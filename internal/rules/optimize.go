package rules

import (
	"time"

	"github.com/wealthkit/autopilot/internal/model"
	"github.com/wealthkit/autopilot/internal/tools"
)

// evaluateOptimizations scans for tax-loss harvesting candidates, due
// dollar-cost-averaging installments and reinvestable dividends. All
// findings go out in one optimizationOpportunities event per portfolio.
func (e *Engine) evaluateOptimizations(p *model.Portfolio) {
	var opportunities []model.Opportunity

	opportunities = append(opportunities, e.harvestLosses(p)...)
	opportunities = append(opportunities, e.runDCA(p)...)
	opportunities = append(opportunities, e.reinvestDividends(p)...)

	if len(opportunities) == 0 {
		return
	}
	e.sink.Publish(model.NewEvent(model.EventOptimizationOpportunities, p.ID, opportunities))
}

// harvestLosses sells positions whose unrealized loss crossed the
// minimum and immediately buys the configured substitute, sized to the
// harvested loss, to keep market exposure.
func (e *Engine) harvestLosses(p *model.Portfolio) []model.Opportunity {
	var opportunities []model.Opportunity

	for _, sym := range sortedSymbols(p.Positions) {
		pos := p.Positions[sym]
		loss := -pos.UnrealizedGain()
		if loss < e.cfg.TaxLossMinLoss {
			continue
		}

		opportunities = append(opportunities, model.Opportunity{
			Kind:   model.OpportunityTaxLossHarvesting,
			Symbol: sym,
			Amount: tools.RoundCash(loss),
		})

		sell := model.NewTradeOrder(p.ID, sym, model.Sell, model.TaxLossHarvesting)
		sell.Quantity = pos.Quantity
		if !e.enqueue(sell) {
			continue
		}
		e.logger.Infof("harvesting %.2f loss on %s in %s", loss, sym, p.ID)

		sub, ok := e.universe.SubstituteFor(sym)
		if !ok {
			continue
		}
		buy := model.NewTradeOrder(p.ID, sub, model.Buy, model.TaxLossReplacement)
		buy.Amount = tools.RoundCash(loss)
		e.enqueue(buy)
	}

	return opportunities
}

// runDCA queues the periodic installment, split evenly across the
// plan's symbols, once the configured interval has elapsed.
func (e *Engine) runDCA(p *model.Portfolio) []model.Opportunity {
	plan := p.Config.DCA
	if !plan.Enabled() {
		return nil
	}
	if !p.LastDCA.IsZero() && time.Since(p.LastDCA) < plan.Frequency.Interval() {
		return nil
	}

	amounts := tools.SplitEvenly(plan.Amount, len(plan.Symbols))
	queued := false
	for i, sym := range plan.Symbols {
		o := model.NewTradeOrder(p.ID, sym, model.Buy, model.DollarCostAveraging)
		o.Amount = amounts[i]
		if e.enqueue(o) {
			queued = true
		}
	}
	if !queued {
		return nil
	}

	e.logger.Infof("dca installment of %.2f across %d symbols for %s", plan.Amount, len(plan.Symbols), p.ID)
	return []model.Opportunity{{
		Kind:   model.OpportunityDollarCostAveraging,
		Amount: plan.Amount,
	}}
}

// reinvestDividends turns the accumulated dividend balance into more of
// the portfolio's largest holding.
func (e *Engine) reinvestDividends(p *model.Portfolio) []model.Opportunity {
	if p.PendingDividends <= 0 {
		return nil
	}

	target := largestHolding(p)
	if target == "" {
		e.logger.Debugf("portfolio %s has dividends but no holdings, letting them accrue", p.ID)
		return nil
	}

	opportunity := model.Opportunity{
		Kind:   model.OpportunityDividendReinvestment,
		Symbol: target,
		Amount: p.PendingDividends,
	}

	o := model.NewTradeOrder(p.ID, target, model.Reinvest, model.DividendReinvestment)
	o.Amount = p.PendingDividends
	if e.enqueue(o) {
		e.logger.Infof("reinvesting %.2f of dividends into %s for %s", p.PendingDividends, target, p.ID)
	}
	return []model.Opportunity{opportunity}
}

func largestHolding(p *model.Portfolio) string {
	var best string
	var bestValue float64
	for _, sym := range sortedSymbols(p.Positions) {
		if mv := p.Positions[sym].MarketValue(); mv > bestValue {
			best, bestValue = sym, mv
		}
	}
	return best
}
