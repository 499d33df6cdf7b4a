package rules

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/wealthkit/autopilot/internal/model"
	"github.com/wealthkit/autopilot/internal/tools"
)

// evaluateRebalancing compares current allocations against the target
// and proposes trades for every class drifted beyond the threshold.
// Underweight classes are bought through the class proxy ticker,
// overweight classes are sold down starting from the largest position.
func (e *Engine) evaluateRebalancing(p *model.Portfolio) {
	if !p.Config.RebalancingEnabled {
		return
	}
	if len(p.Config.TargetAllocation) == 0 {
		cfgErr := model.ConfigurationError{Rule: "rebalancing", Reason: "empty target allocation"}
		e.logger.Warnf("%s: skipping rule for portfolio %s", cfgErr, p.ID)
		return
	}
	if !p.NextRebalancing.IsZero() && time.Now().Before(p.NextRebalancing) {
		return
	}

	total := p.TotalValue()
	if total <= 0 {
		return
	}
	current := p.Allocations(e.universe.ClassOf)

	classes := make([]model.AssetClass, 0, len(p.Config.TargetAllocation))
	for class := range p.Config.TargetAllocation {
		classes = append(classes, class)
	}
	slices.SortFunc(classes, func(a, b model.AssetClass) int { return cmp.Compare(a, b) })

	var proposed []model.ProposedTrade
	for _, class := range classes {
		// Cash rebalances implicitly through the other classes' trades.
		if class == model.Cash {
			continue
		}

		drift := current[class] - p.Config.TargetAllocation[class]
		if math.Abs(drift) <= e.cfg.RebalanceThresholdPct {
			continue
		}
		amount := tools.RoundCash(math.Abs(drift) / 100 * total)

		if drift > 0 {
			proposed = append(proposed, e.proposeClassSell(p, class, amount)...)
			continue
		}

		proxy, ok := e.universe.ProxyFor(class)
		if !ok {
			cfgErr := model.ConfigurationError{Rule: "rebalancing", Reason: "no proxy ticker for class " + string(class)}
			e.logger.Warnf("%s: skipping buy for portfolio %s", cfgErr, p.ID)
			continue
		}
		proposed = append(proposed, model.ProposedTrade{
			Symbol:     proxy,
			AssetClass: class,
			Action:     model.Buy,
			Amount:     amount,
			Reason:     model.Rebalancing,
		})
	}

	if len(proposed) == 0 {
		return
	}

	e.sink.Publish(model.NewEvent(model.EventRebalancingNeeded, p.ID, proposed))

	if p.Config.AutomationLevel != model.FullyAutomated {
		e.sink.Publish(model.NewEvent(model.EventApprovalRequired, p.ID, proposed))
		return
	}

	for _, t := range proposed {
		o := model.NewTradeOrder(p.ID, t.Symbol, t.Action, model.Rebalancing)
		o.AssetClass = t.AssetClass
		o.Amount = t.Amount
		e.enqueue(o)
	}
}

// proposeClassSell splits an overweight class's excess across its
// positions, biggest first, so one drifted class usually means one
// trade.
func (e *Engine) proposeClassSell(p *model.Portfolio, class model.AssetClass, amount float64) []model.ProposedTrade {
	var positions []*model.Position
	for _, pos := range p.Positions {
		if e.universe.ClassOf(pos.Symbol) == class {
			positions = append(positions, pos)
		}
	}
	slices.SortFunc(positions, func(a, b *model.Position) int {
		if c := cmp.Compare(b.MarketValue(), a.MarketValue()); c != 0 {
			return c
		}
		return cmp.Compare(a.Symbol, b.Symbol)
	})

	var proposed []model.ProposedTrade
	remaining := amount
	for _, pos := range positions {
		if remaining < 0.01 {
			break
		}
		take := tools.RoundCash(math.Min(remaining, pos.MarketValue()))
		if take <= 0 {
			continue
		}

		proposed = append(proposed, model.ProposedTrade{
			Symbol:     pos.Symbol,
			AssetClass: class,
			Action:     model.Sell,
			Amount:     take,
			Reason:     model.Rebalancing,
		})
		remaining = tools.RoundCash(remaining - take)
	}
	return proposed
}
