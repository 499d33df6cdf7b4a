package config

import (
	"fmt"
	"net/url"
	"time"
)

type PricingMode string

const (
	PricingSimulated PricingMode = "simulated"
	PricingHTTP      PricingMode = "http"
)

type SimulatedConfig struct {
	Seed        int64   `yaml:"seed"`
	Drift       float64 `yaml:"drift"`
	Volatility  float64 `yaml:"volatility"`
	SlippageBps float64 `yaml:"slippage_bps"`
	// StartPrices seeds the walk; symbols absent here are unknown to
	// the simulated source.
	StartPrices map[string]float64 `yaml:"start_prices"`
}

const (
	_volatilityDefault  = 0.02
	_slippageBpsDefault = 5.0
)

func (c *SimulatedConfig) Setup() {
	if c.Volatility <= 0 {
		c.Volatility = _volatilityDefault
	}
	if c.SlippageBps <= 0 {
		c.SlippageBps = _slippageBpsDefault
	}
	if len(c.StartPrices) == 0 {
		c.StartPrices = map[string]float64{
			"VTI": 260, "ITOT": 115, "SPY": 540,
			"AAPL": 225, "MSFT": 420, "JNJ": 155,
			"BND": 73, "AGG": 99,
			"VNQ": 88, "GLD": 215,
		}
	}
}

type QuoteServiceConfig struct {
	Address       string        `yaml:"address"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerMinute int           `yaml:"rate_per_minute"`
}

const (
	_quoteTimeoutDefault  = 5 * time.Second
	_ratePerMinuteDefault = 120
)

func (c *QuoteServiceConfig) Setup() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if _, err := url.Parse(c.Address); err != nil {
		return err
	}

	if c.Timeout <= 0 {
		c.Timeout = _quoteTimeoutDefault
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = _ratePerMinuteDefault
	}

	return nil
}

type QuoteCacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

const (
	_cacheAddrDefault = "localhost:6379"
	_cacheTTLDefault  = 30 * time.Second
)

func (c *QuoteCacheConfig) Setup() {
	if c.Addr == "" {
		c.Addr = _cacheAddrDefault
	}
	if c.TTL <= 0 {
		c.TTL = _cacheTTLDefault
	}
}

type PricingConfig struct {
	Mode      PricingMode        `yaml:"mode"`
	Simulated SimulatedConfig    `yaml:"simulated"`
	Quotes    QuoteServiceConfig `yaml:"quotes"`
	Cache     QuoteCacheConfig   `yaml:"cache"`
}

func (c *PricingConfig) Setup() error {
	if c.Mode == "" {
		c.Mode = PricingSimulated
	}

	switch c.Mode {
	case PricingSimulated:
		c.Simulated.Setup()
	case PricingHTTP:
		if err := c.Quotes.Setup(); err != nil {
			return fmt.Errorf("%w: can't setup quote service", err)
		}
	default:
		return fmt.Errorf("unknown pricing mode: %s", c.Mode)
	}

	c.Cache.Setup()
	return nil
}
