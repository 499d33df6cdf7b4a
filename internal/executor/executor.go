package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wealthkit/autopilot/internal/config"
	"github.com/wealthkit/autopilot/internal/events"
	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/metrics"
	"github.com/wealthkit/autopilot/internal/model"
	"github.com/wealthkit/autopilot/internal/portfolio"
	"github.com/wealthkit/autopilot/internal/pricing"
	"github.com/wealthkit/autopilot/internal/queue"
	"github.com/wealthkit/autopilot/internal/tools"
)

var _inactiveError = errors.New("portfolio inactive")

// Executor drains the trade queue and applies orders to portfolios
// under their write lock. It is the only component that mutates
// holdings and cash.
type Executor struct {
	cfg     config.ExecutorConfig
	repo    *portfolio.Repository
	queue   *queue.TradeQueue
	prices  pricing.PriceSource
	sink    events.Sink
	metrics *metrics.Registry
	logger  logger.Logger
}

func NewExecutor(
	cfg config.ExecutorConfig,
	repo *portfolio.Repository,
	q *queue.TradeQueue,
	prices pricing.PriceSource,
	sink events.Sink,
	m *metrics.Registry,
	logger logger.Logger,
) *Executor {
	return &Executor{
		cfg:     cfg,
		repo:    repo,
		queue:   q,
		prices:  prices,
		sink:    sink,
		metrics: m,
		logger:  logger.With("component", "executor"),
	}
}

// ExecuteCycle processes up to MaxTradesPerCycle orders in priority
// order and returns how many executed and failed. Orders skipped for an
// inactive portfolio count in neither: they stay pending.
func (e *Executor) ExecuteCycle(ctx context.Context) (executed, failed int) {
	orders := e.queue.Pop(e.cfg.MaxTradesPerCycle)

	for _, o := range orders {
		if ctx.Err() != nil {
			break
		}

		e.Process(ctx, o)
		switch o.Status {
		case model.OrderExecuted:
			executed++
		case model.OrderFailed:
			failed++
		}
	}

	e.metrics.QueueDepth.Set(float64(e.queue.Len()))
	return executed, failed
}

// Process runs a single order through its lifecycle:
// pending -> executing -> executed or failed. Both outcomes are
// terminal; an order skipped because its portfolio went inactive stays
// pending and is not re-enqueued.
func (e *Executor) Process(ctx context.Context, o *model.TradeOrder) {
	if o.Status != model.OrderPending {
		return
	}

	snap, err := e.repo.Snapshot(o.PortfolioID)
	if err != nil {
		e.fail(o, fmt.Errorf("%w: can't load portfolio", err))
		return
	}
	if !snap.Active() {
		e.logger.Debugf("portfolio %s is inactive, skipping order %s", o.PortfolioID, o.ID)
		return
	}

	o.Status = model.OrderExecuting

	if o.Symbol == "" {
		e.fail(o, model.ExecutionError{Reason: "order has no symbol"})
		return
	}

	priceCtx, cancel := context.WithTimeout(ctx, e.cfg.PriceTimeout)
	price, err := e.prices.ExecutionPrice(priceCtx, o.Symbol)
	cancel()
	if err != nil {
		e.fail(o, fmt.Errorf("%w: can't price %s", err, o.Symbol))
		return
	}
	if price <= 0 {
		e.fail(o, model.ExecutionError{Reason: fmt.Sprintf("non-positive price %.4f for %s", price, o.Symbol)})
		return
	}

	var record model.ExecutionRecord
	err = e.repo.Update(o.PortfolioID, func(p *model.Portfolio) error {
		if !p.Active() {
			return _inactiveError
		}

		var applyErr error
		record, applyErr = e.apply(p, o, price)
		return applyErr
	})
	if err != nil {
		if errors.Is(err, _inactiveError) {
			o.Status = model.OrderPending
			e.logger.Debugf("portfolio %s went inactive, order %s stays pending", o.PortfolioID, o.ID)
			return
		}
		e.fail(o, err)
		return
	}

	o.Status = model.OrderExecuted
	o.ExecutedAt = record.Ts
	e.metrics.TradesExecuted.WithLabelValues(string(o.Reason)).Inc()
	e.sink.Publish(model.NewEvent(model.EventTradeExecuted, o.PortfolioID, record))
	e.logger.Infof("executed %s %s %.4f %s at %.2f for %s (%s)",
		o.Reason, o.Action, record.Quantity, o.Symbol, price, o.PortfolioID, o.ID)
}

// apply mutates the portfolio for one priced order. Validation happens
// before any state is touched so a returned error leaves the portfolio
// exactly as it was.
func (e *Executor) apply(p *model.Portfolio, o *model.TradeOrder, price float64) (model.ExecutionRecord, error) {
	now := time.Now().UTC()
	var quantity, fees float64

	switch o.Action {
	case model.Buy:
		var notional float64
		switch {
		case o.Quantity > 0:
			quantity = o.Quantity
			notional = tools.RoundCash(quantity * price)
		case o.Amount > 0:
			notional = tools.RoundCash(o.Amount)
			quantity = notional / price
		default:
			return model.ExecutionRecord{}, model.ExecutionError{Reason: "buy order has no size"}
		}

		fees = tools.Fee(notional, e.cfg.FeeRate)
		cost := tools.RoundCash(notional + fees)
		if p.Cash < cost {
			return model.ExecutionRecord{}, model.ExecutionError{
				Reason: fmt.Sprintf("insufficient cash: need %.2f, have %.2f", cost, p.Cash),
			}
		}

		p.Cash = tools.RoundCash(p.Cash - cost)
		applyBuy(p, o.Symbol, quantity, price, now)

	case model.Sell:
		pos, ok := p.Positions[o.Symbol]
		if !ok {
			return model.ExecutionRecord{}, model.ExecutionError{Reason: "no open position in " + o.Symbol}
		}

		switch {
		case o.Quantity > 0:
			quantity = o.Quantity
		case o.Amount > 0:
			quantity = o.Amount / price
		default:
			return model.ExecutionRecord{}, model.ExecutionError{Reason: "sell order has no size"}
		}

		if quantity >= pos.Quantity {
			quantity = pos.Quantity
			delete(p.Positions, o.Symbol)
		} else {
			pos.Quantity -= quantity
			pos.CurrentPrice = price
			if price > pos.HighWaterMark {
				pos.HighWaterMark = price
			}
			if o.Reason == model.ProfitTaking && o.ProfitTier > 0 {
				if pos.FiredTiers == nil {
					pos.FiredTiers = make(map[float64]struct{})
				}
				pos.FiredTiers[o.ProfitTier] = struct{}{}
			}
		}

		notional := tools.RoundCash(quantity * price)
		fees = tools.Fee(notional, e.cfg.FeeRate)
		p.Cash = tools.RoundCash(p.Cash + notional - fees)

	case model.Reinvest:
		if p.PendingDividends <= 0 {
			return model.ExecutionRecord{}, model.ExecutionError{Reason: "no pending dividends"}
		}

		// Funded by the dividend inflow itself, cash stays untouched.
		dividends := p.PendingDividends
		notional := tools.RoundCash(dividends / (1 + e.cfg.FeeRate))
		fees = tools.RoundCash(dividends - notional)
		quantity = notional / price

		p.PendingDividends = 0
		applyBuy(p, o.Symbol, quantity, price, now)

	default:
		return model.ExecutionRecord{}, model.ExecutionError{Reason: "unknown action " + string(o.Action)}
	}

	switch o.Reason {
	case model.DollarCostAveraging:
		p.LastDCA = now
	case model.Rebalancing:
		p.NextRebalancing = now.Add(e.cfg.RebalanceCooldown)
	}

	tv := p.TotalValue()
	p.Performance.TotalValue = tv
	p.Performance.UpdatedAt = now

	record := model.ExecutionRecord{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Action:     o.Action,
		Reason:     o.Reason,
		Quantity:   quantity,
		Price:      price,
		Fees:       fees,
		TotalValue: tv,
		Ts:         now,
	}
	p.History = append(p.History, record)
	return record, nil
}

// applyBuy folds bought shares into an existing position at the
// weighted average cost, or opens a new one.
func applyBuy(p *model.Portfolio, symbol string, quantity, price float64, now time.Time) {
	pos, ok := p.Positions[symbol]
	if !ok {
		p.Positions[symbol] = &model.Position{
			Symbol:        symbol,
			Quantity:      quantity,
			CostBasis:     price,
			CurrentPrice:  price,
			PurchasedAt:   now,
			HighWaterMark: price,
			FiredTiers:    make(map[float64]struct{}),
		}
		return
	}

	newQuantity := pos.Quantity + quantity
	pos.CostBasis = (pos.Quantity*pos.CostBasis + quantity*price) / newQuantity
	pos.Quantity = newQuantity
	pos.CurrentPrice = price
	if price > pos.HighWaterMark {
		pos.HighWaterMark = price
	}
}

func (e *Executor) fail(o *model.TradeOrder, err error) {
	o.Status = model.OrderFailed
	o.FailReason = err.Error()
	e.metrics.TradesFailed.WithLabelValues(string(o.Reason)).Inc()
	e.logger.Errorf("%s: order %s failed", err, o.ID)
}
