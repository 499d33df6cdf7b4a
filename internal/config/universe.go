package config

import (
	"fmt"

	"github.com/wealthkit/autopilot/internal/model"
)

type AssetInfo struct {
	Class  model.AssetClass `yaml:"class"`
	Sector string           `yaml:"sector"`
	// Substitute is the correlated ticker bought to replace a harvested
	// tax loss, when one exists.
	Substitute string `yaml:"substitute"`
}

// UniverseConfig maps the tradable symbols to asset classes and sectors,
// plus one proxy ticker per class for class-level rebalancing buys.
type UniverseConfig struct {
	Assets  map[string]AssetInfo        `yaml:"assets"`
	Proxies map[model.AssetClass]string `yaml:"proxies"`
}

const _sectorUnknown = "unknown"

func defaultAssets() map[string]AssetInfo {
	return map[string]AssetInfo{
		"VTI":  {Class: model.Stocks, Sector: "broad_market", Substitute: "ITOT"},
		"ITOT": {Class: model.Stocks, Sector: "broad_market", Substitute: "VTI"},
		"SPY":  {Class: model.Stocks, Sector: "broad_market", Substitute: "VTI"},
		"AAPL": {Class: model.Stocks, Sector: "technology", Substitute: "MSFT"},
		"MSFT": {Class: model.Stocks, Sector: "technology", Substitute: "AAPL"},
		"JNJ":  {Class: model.Stocks, Sector: "healthcare"},
		"BND":  {Class: model.Bonds, Sector: "fixed_income", Substitute: "AGG"},
		"AGG":  {Class: model.Bonds, Sector: "fixed_income", Substitute: "BND"},
		"VNQ":  {Class: model.Alternatives, Sector: "real_estate"},
		"GLD":  {Class: model.Alternatives, Sector: "commodities"},
	}
}

func defaultProxies() map[model.AssetClass]string {
	return map[model.AssetClass]string{
		model.Stocks:       "VTI",
		model.Bonds:        "BND",
		model.Alternatives: "VNQ",
	}
}

func (c *UniverseConfig) Setup() error {
	if len(c.Assets) == 0 {
		c.Assets = defaultAssets()
	}
	if len(c.Proxies) == 0 {
		c.Proxies = defaultProxies()
	}

	for symbol, info := range c.Assets {
		if !info.Class.Valid() {
			return fmt.Errorf("unknown asset class %q for symbol %s", info.Class, symbol)
		}
		if info.Sector == "" {
			info.Sector = _sectorUnknown
			c.Assets[symbol] = info
		}
	}
	for class, symbol := range c.Proxies {
		if !class.Valid() || class == model.Cash {
			return fmt.Errorf("bad proxy class %q", class)
		}
		if _, ok := c.Assets[symbol]; !ok {
			return fmt.Errorf("proxy symbol %s is not in the universe", symbol)
		}
	}

	return nil
}

// ClassOf falls back to stocks for symbols outside the universe.
func (c UniverseConfig) ClassOf(symbol string) model.AssetClass {
	if info, ok := c.Assets[symbol]; ok {
		return info.Class
	}
	return model.Stocks
}

func (c UniverseConfig) SectorOf(symbol string) string {
	if info, ok := c.Assets[symbol]; ok {
		return info.Sector
	}
	return _sectorUnknown
}

func (c UniverseConfig) SubstituteFor(symbol string) (string, bool) {
	info, ok := c.Assets[symbol]
	if !ok || info.Substitute == "" {
		return "", false
	}
	return info.Substitute, true
}

func (c UniverseConfig) ProxyFor(class model.AssetClass) (string, bool) {
	symbol, ok := c.Proxies[class]
	return symbol, ok
}
