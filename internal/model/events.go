package model

import "time"

type EventType string

const (
	EventPortfolioCreated          EventType = "portfolioCreated"
	EventRebalancingNeeded         EventType = "rebalancingNeeded"
	EventStopLossTriggered         EventType = "stopLossTriggered"
	EventProfitTargetReached       EventType = "profitTargetReached"
	EventRiskLimitViolation        EventType = "riskLimitViolation"
	EventOptimizationOpportunities EventType = "optimizationOpportunities"
	EventTradeExecuted             EventType = "tradeExecuted"
	EventApprovalRequired          EventType = "approvalRequired"
)

// Event is what the engine hands to the notification/UI boundary.
type Event struct {
	Type        EventType   `json:"type"`
	PortfolioID string      `json:"portfolio_id"`
	Ts          time.Time   `json:"ts"`
	Payload     interface{} `json:"payload,omitempty"`
}

func NewEvent(t EventType, portfolioID string, payload interface{}) Event {
	return Event{
		Type:        t,
		PortfolioID: portfolioID,
		Ts:          time.Now().UTC(),
		Payload:     payload,
	}
}

// ProposedTrade describes a trade the engine wants approval for, or has
// just enqueued, depending on the event that carries it.
type ProposedTrade struct {
	Symbol     string      `json:"symbol,omitempty"`
	AssetClass AssetClass  `json:"asset_class,omitempty"`
	Action     TradeAction `json:"action"`
	Amount     float64     `json:"amount"`
	Reason     TradeReason `json:"reason"`
}

// TradeTrigger is the payload for stop and profit-target events.
type TradeTrigger struct {
	Kind     TradeReason `json:"kind"`
	Symbol   string      `json:"symbol"`
	Quantity float64     `json:"quantity"`
	GainPct  float64     `json:"gain_pct"`
	Tier     float64     `json:"tier,omitempty"`
}

type ViolationKind string

const (
	ViolationConcentration  ViolationKind = "position_concentration"
	ViolationSectorExposure ViolationKind = "sector_exposure"
	ViolationCashShortfall  ViolationKind = "cash_shortfall"
	ViolationVolatility     ViolationKind = "volatility"
)

// RiskViolation is one exceeded limit found by the risk monitor.
// Observed and Limit are fractions of total portfolio value.
type RiskViolation struct {
	Kind     ViolationKind `json:"kind"`
	Symbol   string        `json:"symbol,omitempty"`
	Sector   string        `json:"sector,omitempty"`
	Observed float64       `json:"observed"`
	Limit    float64       `json:"limit"`
}

type OpportunityKind string

const (
	OpportunityTaxLossHarvesting    OpportunityKind = "tax_loss_harvesting"
	OpportunityDollarCostAveraging  OpportunityKind = "dollar_cost_averaging"
	OpportunityDividendReinvestment OpportunityKind = "dividend_reinvestment"
)

type Opportunity struct {
	Kind   OpportunityKind `json:"kind"`
	Symbol string          `json:"symbol,omitempty"`
	Amount float64         `json:"amount"`
}
