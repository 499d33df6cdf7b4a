package config

import (
	"cmp"
	"slices"
	"time"
)

type ProfitTier struct {
	GainPct      float64 `yaml:"gain_pct"`
	SellFraction float64 `yaml:"sell_fraction"`
}

type RulesConfig struct {
	RebalanceThresholdPct float64 `yaml:"rebalance_threshold_pct"`
	// StopLossPct is the loss magnitude in percent; a position is sold
	// out when its loss reaches -StopLossPct or worse.
	StopLossPct          float64      `yaml:"stop_loss_pct"`
	TrailingStopPct      float64      `yaml:"trailing_stop_pct"`
	TrailingSellFraction float64      `yaml:"trailing_sell_fraction"`
	ProfitTiers          []ProfitTier `yaml:"profit_tiers"`
	// TaxLossMinLoss is the unrealized loss in dollars from which a
	// position becomes a harvesting candidate.
	TaxLossMinLoss float64 `yaml:"tax_loss_min_loss"`
}

const (
	_rebalanceThresholdPctDefault = 5.0
	_stopLossPctDefault           = 10.0
	_trailingStopPctDefault       = 5.0
	_trailingSellFractionDefault  = 0.5
	_taxLossMinLossDefault        = 100.0
)

func defaultProfitTiers() []ProfitTier {
	return []ProfitTier{
		{GainPct: 20, SellFraction: 0.25},
		{GainPct: 50, SellFraction: 0.50},
		{GainPct: 100, SellFraction: 0.75},
	}
}

func (c *RulesConfig) Setup() {
	if c.RebalanceThresholdPct <= 0 {
		c.RebalanceThresholdPct = _rebalanceThresholdPctDefault
	}
	if c.StopLossPct <= 0 {
		c.StopLossPct = _stopLossPctDefault
	}
	if c.TrailingStopPct <= 0 {
		c.TrailingStopPct = _trailingStopPctDefault
	}
	if c.TrailingSellFraction <= 0 || c.TrailingSellFraction > 1 {
		c.TrailingSellFraction = _trailingSellFractionDefault
	}
	if c.TaxLossMinLoss <= 0 {
		c.TaxLossMinLoss = _taxLossMinLossDefault
	}

	if len(c.ProfitTiers) == 0 {
		c.ProfitTiers = defaultProfitTiers()
	}
	slices.SortFunc(c.ProfitTiers, func(a, b ProfitTier) int {
		return cmp.Compare(a.GainPct, b.GainPct)
	})
}

type ExecutorConfig struct {
	MaxTradesPerCycle int           `yaml:"max_trades_per_cycle"`
	FeeRate           float64       `yaml:"fee_rate"`
	PriceTimeout      time.Duration `yaml:"price_timeout"`
	// RebalanceCooldown is how far the executor pushes a portfolio's
	// next rebalancing date after a rebalancing trade goes through.
	RebalanceCooldown time.Duration `yaml:"rebalance_cooldown"`
}

const (
	_maxTradesPerCycleDefault = 5
	_feeRateDefault           = 0.001
	_priceTimeoutDefault      = 5 * time.Second
	_rebalanceCooldownDefault = 24 * time.Hour
)

func (c *ExecutorConfig) Setup() {
	if c.MaxTradesPerCycle <= 0 {
		c.MaxTradesPerCycle = _maxTradesPerCycleDefault
	}
	if c.FeeRate <= 0 {
		c.FeeRate = _feeRateDefault
	}
	if c.PriceTimeout <= 0 {
		c.PriceTimeout = _priceTimeoutDefault
	}
	if c.RebalanceCooldown <= 0 {
		c.RebalanceCooldown = _rebalanceCooldownDefault
	}
}

type PerformanceConfig struct {
	// RiskFreeRate is per snapshot interval, in the same percent units
	// as the per-interval returns the Sharpe ratio is computed over.
	RiskFreeRate float64       `yaml:"risk_free_rate"`
	MaxSnapshots int           `yaml:"max_snapshots"`
	PriceTimeout time.Duration `yaml:"price_timeout"`
}

const _maxSnapshotsDefault = 2160 // 90 days of hourly snapshots

func (c *PerformanceConfig) Setup() {
	if c.MaxSnapshots <= 0 {
		c.MaxSnapshots = _maxSnapshotsDefault
	}
	if c.PriceTimeout <= 0 {
		c.PriceTimeout = _priceTimeoutDefault
	}
}
