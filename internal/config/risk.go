package config

import (
	"fmt"

	"github.com/wealthkit/autopilot/internal/model"
)

// RiskTiersConfig is the static risk limit table. Tiers omitted from the
// config file get the built-in limits; a portfolio's limits are resolved
// from here exactly once, at creation.
type RiskTiersConfig map[model.RiskTolerance]model.RiskLimits

func defaultRiskTiers() RiskTiersConfig {
	return RiskTiersConfig{
		model.Conservative: {
			MaxPositionSize:   0.10,
			MaxSectorExposure: 0.25,
			MaxLeverage:       1.0,
			MaxVolatility:     0.12,
			MinCash:           0.05,
		},
		model.Moderate: {
			MaxPositionSize:   0.15,
			MaxSectorExposure: 0.35,
			MaxLeverage:       1.0,
			MaxVolatility:     0.18,
			MinCash:           0.03,
		},
		model.Aggressive: {
			MaxPositionSize:   0.25,
			MaxSectorExposure: 0.50,
			MaxLeverage:       1.5,
			MaxVolatility:     0.30,
			MinCash:           0.01,
		},
	}
}

func (c *RiskTiersConfig) Setup() error {
	if *c == nil {
		*c = make(RiskTiersConfig, 3)
	}

	for tier := range *c {
		if !tier.Valid() {
			return fmt.Errorf("unknown risk tier: %s", tier)
		}
	}

	for tier, limits := range defaultRiskTiers() {
		if _, ok := (*c)[tier]; !ok {
			(*c)[tier] = limits
		}
	}

	return nil
}

func (c RiskTiersConfig) LimitsFor(tier model.RiskTolerance) (model.RiskLimits, bool) {
	limits, ok := c[tier]
	return limits, ok
}
