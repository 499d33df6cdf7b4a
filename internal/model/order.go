package model

import (
	"time"

	"github.com/google/uuid"
)

const _orderIDPrefix = "aord-"

type TradeAction string

const (
	Buy      TradeAction = "BUY"
	Sell     TradeAction = "SELL"
	Reinvest TradeAction = "REINVEST"
)

func (a TradeAction) Valid() bool {
	switch a {
	case Buy, Sell, Reinvest:
		return true
	}
	return false
}

type TradeReason string

const (
	StopLoss             TradeReason = "stop_loss"
	TrailingStop         TradeReason = "trailing_stop"
	RiskReduction        TradeReason = "risk_reduction"
	ProfitTaking         TradeReason = "profit_taking"
	Rebalancing          TradeReason = "rebalancing"
	TaxLossHarvesting    TradeReason = "tax_loss_harvesting"
	TaxLossReplacement   TradeReason = "tax_loss_replacement"
	DollarCostAveraging  TradeReason = "dollar_cost_averaging"
	DividendReinvestment TradeReason = "dividend_reinvestment"
	RaiseCash            TradeReason = "raise_cash"
	Manual               TradeReason = "manual"
)

var _priorities = map[TradeReason]int{
	StopLoss:             100,
	TrailingStop:         90,
	RiskReduction:        80,
	ProfitTaking:         70,
	Rebalancing:          60,
	TaxLossHarvesting:    50,
	DollarCostAveraging:  40,
	DividendReinvestment: 30,
}

// Priority orders reasons for the trade queue. Reasons outside the table,
// raise_cash and tax_loss_replacement included, fall back to 0.
func (r TradeReason) Priority() int {
	return _priorities[r]
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderExecuting OrderStatus = "executing"
	OrderExecuted  OrderStatus = "executed"
	OrderFailed    OrderStatus = "failed"
)

// Terminal reports whether no further transition may leave the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderExecuted || s == OrderFailed
}

// TradeOrder is a trade intent produced by the rule engine or queued
// directly by a caller. Orders are sized either in shares (Quantity) or
// in notional dollars (Amount); exactly one of the two should be set.
// Once executed or failed an order is never mutated again.
type TradeOrder struct {
	ID          string      `json:"id"`
	PortfolioID string      `json:"portfolio_id"`
	Symbol      string      `json:"symbol"`
	AssetClass  AssetClass  `json:"asset_class,omitempty"`
	Action      TradeAction `json:"action"`
	Quantity    float64     `json:"quantity,omitempty"`
	Amount      float64     `json:"amount,omitempty"`
	Reason      TradeReason `json:"reason"`
	Priority    int         `json:"priority"`
	Status      OrderStatus `json:"status"`
	FailReason  string      `json:"fail_reason,omitempty"`

	// ProfitTier carries the gain threshold that produced a profit_taking
	// order so the executor can mark it fired on the position.
	ProfitTier float64 `json:"profit_tier,omitempty"`

	QueuedAt   time.Time `json:"queued_at"`
	ExecutedAt time.Time `json:"executed_at,omitempty"`
}

func NewTradeOrder(portfolioID, symbol string, action TradeAction, reason TradeReason) *TradeOrder {
	return &TradeOrder{
		ID:          _orderIDPrefix + uuid.NewString(),
		PortfolioID: portfolioID,
		Symbol:      symbol,
		Action:      action,
		Reason:      reason,
		Priority:    reason.Priority(),
		Status:      OrderPending,
		QueuedAt:    time.Now().UTC(),
	}
}

// Target identifies what the order trades, for duplicate suppression:
// the symbol when known, otherwise the asset class.
func (o *TradeOrder) Target() string {
	if o.Symbol != "" {
		return o.Symbol
	}
	return string(o.AssetClass)
}

// ExecutionRecord is the immutable history entry appended when a trade
// is applied to a portfolio.
type ExecutionRecord struct {
	OrderID    string      `json:"order_id"`
	Symbol     string      `json:"symbol"`
	Action     TradeAction `json:"action"`
	Reason     TradeReason `json:"reason"`
	Quantity   float64     `json:"quantity"`
	Price      float64     `json:"price"`
	Fees       float64     `json:"fees"`
	TotalValue float64     `json:"total_value"`
	Ts         time.Time   `json:"ts"`
}
