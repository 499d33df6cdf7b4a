package model

import (
	"time"

	"github.com/google/uuid"
)

const _portfolioIDPrefix = "apfl-"

type RiskTolerance string

const (
	Conservative RiskTolerance = "conservative"
	Moderate     RiskTolerance = "moderate"
	Aggressive   RiskTolerance = "aggressive"
)

func (r RiskTolerance) Valid() bool {
	switch r {
	case Conservative, Moderate, Aggressive:
		return true
	}
	return false
}

type AutomationLevel string

const (
	ManualOnly     AutomationLevel = "manual"
	SemiAutomated  AutomationLevel = "semi_automated"
	FullyAutomated AutomationLevel = "fully_automated"
)

func (a AutomationLevel) Valid() bool {
	switch a {
	case ManualOnly, SemiAutomated, FullyAutomated:
		return true
	}
	return false
}

type AssetClass string

const (
	Stocks       AssetClass = "stocks"
	Bonds        AssetClass = "bonds"
	Alternatives AssetClass = "alternatives"
	Cash         AssetClass = "cash"
)

func (a AssetClass) Valid() bool {
	switch a {
	case Stocks, Bonds, Alternatives, Cash:
		return true
	}
	return false
}

type PortfolioStatus string

const (
	StatusActive   PortfolioStatus = "active"
	StatusInactive PortfolioStatus = "inactive"
)

type DCAFrequency string

const (
	DCADaily   DCAFrequency = "daily"
	DCAWeekly  DCAFrequency = "weekly"
	DCAMonthly DCAFrequency = "monthly"
)

func (f DCAFrequency) Interval() time.Duration {
	switch f {
	case DCADaily:
		return 24 * time.Hour
	case DCAWeekly:
		return 7 * 24 * time.Hour
	case DCAMonthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

type DCAPlan struct {
	Frequency DCAFrequency `json:"frequency" yaml:"frequency"`
	Symbols   []string     `json:"symbols" yaml:"symbols"`
	Amount    float64      `json:"amount" yaml:"amount"`
}

func (d DCAPlan) Enabled() bool {
	return d.Frequency.Interval() > 0 && len(d.Symbols) > 0 && d.Amount > 0
}

// PortfolioConfig is the automation setup chosen by the owner at creation.
type PortfolioConfig struct {
	Strategy           string                 `json:"strategy"`
	RiskTolerance      RiskTolerance          `json:"risk_tolerance"`
	AutomationLevel    AutomationLevel        `json:"automation_level"`
	TargetAllocation   map[AssetClass]float64 `json:"target_allocation"`
	RebalancingEnabled bool                   `json:"rebalancing_enabled"`
	StopLossEnabled    bool                   `json:"stop_loss_enabled"`
	DCA                DCAPlan                `json:"dca"`
}

// RiskLimits are fractions of total portfolio value, resolved from the
// risk tier table once at creation.
type RiskLimits struct {
	MaxPositionSize   float64 `json:"max_position_size" yaml:"max_position_size"`
	MaxSectorExposure float64 `json:"max_sector_exposure" yaml:"max_sector_exposure"`
	MaxLeverage       float64 `json:"max_leverage" yaml:"max_leverage"`
	MaxVolatility     float64 `json:"max_volatility" yaml:"max_volatility"`
	MinCash           float64 `json:"min_cash" yaml:"min_cash"`
}

type Position struct {
	Symbol        string               `json:"symbol"`
	Quantity      float64              `json:"quantity"`
	CostBasis     float64              `json:"cost_basis"`
	CurrentPrice  float64              `json:"current_price"`
	PurchasedAt   time.Time            `json:"purchased_at"`
	HighWaterMark float64              `json:"high_water_mark"`
	FiredTiers    map[float64]struct{} `json:"fired_tiers,omitempty"`
}

func (p Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// GainPct is the unrealized gain relative to cost basis, in percent.
// Negative for losing positions.
func (p Position) GainPct() float64 {
	if p.CostBasis == 0 {
		return 0
	}
	return (p.CurrentPrice - p.CostBasis) / p.CostBasis * 100
}

func (p Position) UnrealizedGain() float64 {
	return (p.CurrentPrice - p.CostBasis) * p.Quantity
}

func (p Position) TierFired(gainPct float64) bool {
	_, ok := p.FiredTiers[gainPct]
	return ok
}

func (p Position) Clone() Position {
	c := p
	c.FiredTiers = make(map[float64]struct{}, len(p.FiredTiers))
	for k := range p.FiredTiers {
		c.FiredTiers[k] = struct{}{}
	}
	return c
}

type Portfolio struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	Name             string          `json:"name"`
	Status           PortfolioStatus `json:"status"`
	Config           PortfolioConfig `json:"config"`
	Limits           RiskLimits      `json:"limits"`
	Cash             float64         `json:"cash"`
	InitialDeposit   float64         `json:"initial_deposit"`
	PendingDividends float64         `json:"pending_dividends"`

	Positions map[string]*Position `json:"positions"`

	Performance PerformanceStats      `json:"performance"`
	Snapshots   []PerformanceSnapshot `json:"-"`
	History     []ExecutionRecord     `json:"-"`

	NextRebalancing time.Time `json:"next_rebalancing"`
	LastDCA         time.Time `json:"last_dca"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func NewPortfolioID() string {
	return _portfolioIDPrefix + uuid.NewString()
}

func (p *Portfolio) Active() bool {
	return p.Status == StatusActive
}

// TotalValue is cash plus every position at its last known market price.
func (p *Portfolio) TotalValue() float64 {
	total := p.Cash
	for _, pos := range p.Positions {
		total += pos.MarketValue()
	}
	return total
}

// Allocations returns the percentage of total value held per asset class,
// cash included. classify maps a symbol to its asset class.
func (p *Portfolio) Allocations(classify func(symbol string) AssetClass) map[AssetClass]float64 {
	total := p.TotalValue()
	alloc := make(map[AssetClass]float64)
	if total <= 0 {
		return alloc
	}

	alloc[Cash] = p.Cash / total * 100
	for _, pos := range p.Positions {
		alloc[classify(pos.Symbol)] += pos.MarketValue() / total * 100
	}
	return alloc
}

// Clone deep-copies the portfolio so rule evaluation can read it without
// holding the portfolio's write lock.
func (p *Portfolio) Clone() *Portfolio {
	c := *p

	c.Positions = make(map[string]*Position, len(p.Positions))
	for sym, pos := range p.Positions {
		cp := pos.Clone()
		c.Positions[sym] = &cp
	}

	c.Config.TargetAllocation = make(map[AssetClass]float64, len(p.Config.TargetAllocation))
	for class, pct := range p.Config.TargetAllocation {
		c.Config.TargetAllocation[class] = pct
	}
	c.Config.DCA.Symbols = append([]string(nil), p.Config.DCA.Symbols...)

	c.Snapshots = append([]PerformanceSnapshot(nil), p.Snapshots...)
	c.History = append([]ExecutionRecord(nil), p.History...)

	return &c
}
