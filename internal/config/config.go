package config

import (
	"fmt"
	"os"
	"time"

	"github.com/quantfold/rebalancer/internal/model"
	"gopkg.in/yaml.v3"
)

type StrategyType string

const (
	ConstantPercentage StrategyType = "constant_percentage"
	BuyAndHold         StrategyType = "buy_and_hold"
)

type AllocationConfig struct {
	Symbol string           `yaml:"symbol"`
	Weight float64          `yaml:"weight"`
	Class  model.AssetClass `yaml:"class"`
}

type StrategyConfig struct {
	Name               string             `yaml:"name"`
	Type               StrategyType       `yaml:"type"`
	StartingCapital    float64            `yaml:"starting_capital"`
	RebalanceThreshold float64            `yaml:"rebalance_threshold"`
	Interval           time.Duration      `yaml:"interval"`
	ExecutionStyle     string             `yaml:"execution_style"`
	Allocations        []AllocationConfig `yaml:"allocations"`
}

const (
	_rebalanceThresholdDefault = 0.05
	_intervalDefault           = 5 * time.Minute
)

func (c *StrategyConfig) Setup() error {
	if c.Name == "" {
		return fmt.Errorf("strategy name is required")
	}
	if c.StartingCapital <= 0 {
		return fmt.Errorf("starting capital must be positive for %s", c.Name)
	}
	if len(c.Allocations) == 0 {
		return fmt.Errorf("empty allocations for %s", c.Name)
	}
	for _, a := range c.Allocations {
		if a.Symbol == "" {
			return fmt.Errorf("empty allocation symbol for %s", c.Name)
		}
		if a.Weight <= 0 || a.Weight > 1 {
			return fmt.Errorf("allocation weight %f out of range for %s/%s", a.Weight, c.Name, a.Symbol)
		}
		switch a.Class {
		case model.Equity, model.Crypto:
		default:
			return fmt.Errorf("unsupported asset class %q for %s/%s", a.Class, c.Name, a.Symbol)
		}
	}

	if c.Type == "" {
		c.Type = ConstantPercentage
	}
	switch c.Type {
	case ConstantPercentage, BuyAndHold:
	default:
		return fmt.Errorf("unknown strategy type %q for %s", c.Type, c.Name)
	}

	if c.RebalanceThreshold <= 0 {
		c.RebalanceThreshold = _rebalanceThresholdDefault
	}
	if c.Interval <= 0 {
		c.Interval = _intervalDefault
	}

	return nil
}

type Config struct {
	Pairs      map[string]string `yaml:"pairs"`
	Strategies []StrategyConfig  `yaml:"strategies"`
}

func (c *Config) ValidateAndSetup() error {
	if len(c.Strategies) == 0 {
		return fmt.Errorf("no strategies configured")
	}

	seen := make(map[string]struct{}, len(c.Strategies))
	for i := range c.Strategies {
		if err := c.Strategies[i].Setup(); err != nil {
			return fmt.Errorf("%w: can't setup strategy", err)
		}
		if _, ok := seen[c.Strategies[i].Name]; ok {
			return fmt.Errorf("duplicate strategy name %s", c.Strategies[i].Name)
		}
		seen[c.Strategies[i].Name] = struct{}{}
	}

	return nil
}

func Load(filename string) (Config, error) {
	var cfg Config
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

type AlpacaConfig struct {
	APIKey    string
	APISecret string
}

func LoadAlpacaConfig() (AlpacaConfig, error) {
	cfg := AlpacaConfig{
		APIKey:    os.Getenv("ALPACA_API_KEY"),
		APISecret: os.Getenv("ALPACA_API_SECRET"),
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return AlpacaConfig{}, fmt.Errorf("empty alpaca api credentials")
	}
	return cfg, nil
}
