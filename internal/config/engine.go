package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type CyclesConfig struct {
	RuleEvaluationInterval time.Duration `yaml:"rule_evaluation_interval"`
	ExecutionInterval      time.Duration `yaml:"execution_interval"`
	PerformanceInterval    time.Duration `yaml:"performance_interval"`
	PerformanceSweep       time.Duration `yaml:"performance_sweep_interval"`
}

const (
	_ruleEvaluationIntervalDefault = 1 * time.Minute
	_executionIntervalDefault      = 30 * time.Second
	_performanceIntervalDefault    = 1 * time.Hour
	_performanceSweepDefault       = 5 * time.Minute
)

func (c *CyclesConfig) Setup() {
	if c.RuleEvaluationInterval <= 0 {
		c.RuleEvaluationInterval = _ruleEvaluationIntervalDefault
	}
	if c.ExecutionInterval <= 0 {
		c.ExecutionInterval = _executionIntervalDefault
	}
	if c.PerformanceInterval <= 0 {
		c.PerformanceInterval = _performanceIntervalDefault
	}
	if c.PerformanceSweep <= 0 {
		c.PerformanceSweep = _performanceSweepDefault
	}
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

const _portDefault = "8080"

func (c *ServerConfig) Setup() {
	if c.Port == "" {
		c.Port = _portDefault
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		c.Port = _portDefault
	}
}

type EngineConfig struct {
	Cycles      CyclesConfig      `yaml:"cycles"`
	Rules       RulesConfig       `yaml:"rules"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Performance PerformanceConfig `yaml:"performance"`
	Pricing     PricingConfig     `yaml:"pricing"`
	Universe    UniverseConfig    `yaml:"universe"`
	RiskTiers   RiskTiersConfig   `yaml:"risk_tiers"`
	Server      ServerConfig      `yaml:"server"`
}

func (c *EngineConfig) ValidateAndSetup() error {
	c.Cycles.Setup()
	c.Rules.Setup()
	c.Executor.Setup()
	c.Performance.Setup()
	c.Server.Setup()

	if err := c.Pricing.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup pricing", err)
	}
	if err := c.Universe.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup universe", err)
	}
	if err := c.RiskTiers.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup risk tiers", err)
	}

	return nil
}

func LoadEngineConfig(filename string) (EngineConfig, error) {
	var cfg EngineConfig
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: can't unmarshal config", err)
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}

	return cfg, nil
}

// DefaultEngineConfig is the zero config with every default applied,
// used when no config file is given.
func DefaultEngineConfig() EngineConfig {
	var cfg EngineConfig
	if err := cfg.ValidateAndSetup(); err != nil {
		panic(err)
	}
	return cfg
}
