package rules

import "github.com/wealthkit/autopilot/internal/model"

// evaluateProtections runs the per-position protective rules: stop-loss,
// trailing stop and profit taking.
func (e *Engine) evaluateProtections(p *model.Portfolio) {
	for _, sym := range sortedSymbols(p.Positions) {
		pos := p.Positions[sym]
		if pos.Quantity <= 0 {
			continue
		}

		if p.Config.StopLossEnabled && e.checkStopLoss(p, pos) {
			// The whole position is leaving; the weaker sell rules have
			// nothing left to protect.
			continue
		}
		e.checkTrailingStop(p, pos)
		e.checkProfitTiers(p, pos)
	}
}

// checkStopLoss sells a position out completely once its loss reaches
// the configured threshold. The threshold itself counts as breached.
func (e *Engine) checkStopLoss(p *model.Portfolio, pos *model.Position) bool {
	gain := pos.GainPct()
	if gain > -e.cfg.StopLossPct {
		return false
	}

	o := model.NewTradeOrder(p.ID, pos.Symbol, model.Sell, model.StopLoss)
	o.Quantity = pos.Quantity
	if !e.enqueue(o) {
		return true
	}

	e.logger.Infof("stop-loss for %s in %s at %.2f%% loss", pos.Symbol, p.ID, gain)
	e.sink.Publish(model.NewEvent(model.EventStopLossTriggered, p.ID, model.TradeTrigger{
		Kind:     model.StopLoss,
		Symbol:   pos.Symbol,
		Quantity: o.Quantity,
		GainPct:  gain,
	}))
	return true
}

// checkTrailingStop sells part of a position that has retreated too far
// from its high-water mark.
func (e *Engine) checkTrailingStop(p *model.Portfolio, pos *model.Position) {
	if pos.HighWaterMark <= 0 {
		return
	}

	retreat := (pos.CurrentPrice - pos.HighWaterMark) / pos.HighWaterMark * 100
	if retreat > -e.cfg.TrailingStopPct {
		return
	}

	o := model.NewTradeOrder(p.ID, pos.Symbol, model.Sell, model.TrailingStop)
	o.Quantity = pos.Quantity * e.cfg.TrailingSellFraction
	if !e.enqueue(o) {
		return
	}

	e.logger.Infof("trailing stop for %s in %s, %.2f%% off the high", pos.Symbol, p.ID, retreat)
	e.sink.Publish(model.NewEvent(model.EventStopLossTriggered, p.ID, model.TradeTrigger{
		Kind:     model.TrailingStop,
		Symbol:   pos.Symbol,
		Quantity: o.Quantity,
		GainPct:  retreat,
	}))
}

// checkProfitTiers fires the lowest unfired tier the position's gain has
// reached. One tier per evaluation: the next tier can only fire after
// the executor marks this one on the position.
func (e *Engine) checkProfitTiers(p *model.Portfolio, pos *model.Position) {
	gain := pos.GainPct()

	for _, tier := range e.cfg.ProfitTiers {
		if gain < tier.GainPct {
			return
		}
		if pos.TierFired(tier.GainPct) {
			continue
		}

		o := model.NewTradeOrder(p.ID, pos.Symbol, model.Sell, model.ProfitTaking)
		o.Quantity = pos.Quantity * tier.SellFraction
		o.ProfitTier = tier.GainPct
		if !e.enqueue(o) {
			return
		}

		e.logger.Infof("profit tier %.0f%% for %s in %s at %.2f%% gain", tier.GainPct, pos.Symbol, p.ID, gain)
		e.sink.Publish(model.NewEvent(model.EventProfitTargetReached, p.ID, model.TradeTrigger{
			Kind:     model.ProfitTaking,
			Symbol:   pos.Symbol,
			Quantity: o.Quantity,
			GainPct:  gain,
			Tier:     tier.GainPct,
		}))
		return
	}
}
