package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// fileConfig mirrors the YAML layout. Money-valued fields are strings so the
// file round-trips into exact decimals instead of going through float64.
type fileConfig struct {
	FeeMaker        string        `mapstructure:"fee_maker"`
	FeeTaker        string        `mapstructure:"fee_taker"`
	StartingBalance string        `mapstructure:"starting_balance"`
	MaxOrders       int           `mapstructure:"max_orders"`
	Leverage        int           `mapstructure:"leverage"`
	Contract        fileContract  `mapstructure:"contract"`
	Logging         LoggingConfig `mapstructure:"logging"`
}

type fileContract struct {
	Ticker                string     `mapstructure:"ticker"`
	InitialMarginRate     string     `mapstructure:"initial_margin_rate"`
	MaintenanceMarginRate string     `mapstructure:"maintenance_margin_rate"`
	MarkMethod            string     `mapstructure:"mark_method"`
	PriceFilter           fileFilter `mapstructure:"price_filter"`
	QuantityFilter        fileFilter `mapstructure:"quantity_filter"`
}

type fileFilter struct {
	Min  string `mapstructure:"min"`
	Max  string `mapstructure:"max"`
	Step string `mapstructure:"step"`
}

// Load reads config from a YAML file with FUTSIM_* environment overrides
// (e.g. FUTSIM_LEVERAGE=5) and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FUTSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg, err := fc.parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc fileConfig) parse() (*Config, error) {
	cfg := &Config{
		MaxOrders: fc.MaxOrders,
		Leverage:  fc.Leverage,
		Contract: ContractSpec{
			Ticker:     fc.Contract.Ticker,
			MarkMethod: MarkMethod(fc.Contract.MarkMethod),
		},
		Logging: fc.Logging,
	}
	if cfg.Contract.MarkMethod == "" {
		cfg.Contract.MarkMethod = MarkMidPrice
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"fee_maker", fc.FeeMaker, &cfg.FeeMaker},
		{"fee_taker", fc.FeeTaker, &cfg.FeeTaker},
		{"starting_balance", fc.StartingBalance, &cfg.StartingBalance},
		{"contract.initial_margin_rate", fc.Contract.InitialMarginRate, &cfg.Contract.InitialMarginRate},
		{"contract.maintenance_margin_rate", fc.Contract.MaintenanceMarginRate, &cfg.Contract.MaintenanceMarginRate},
		{"contract.price_filter.min", fc.Contract.PriceFilter.Min, &cfg.Contract.PriceFilter.Min},
		{"contract.price_filter.max", fc.Contract.PriceFilter.Max, &cfg.Contract.PriceFilter.Max},
		{"contract.price_filter.step", fc.Contract.PriceFilter.Step, &cfg.Contract.PriceFilter.TickSize},
		{"contract.quantity_filter.min", fc.Contract.QuantityFilter.Min, &cfg.Contract.QuantityFilter.Min},
		{"contract.quantity_filter.max", fc.Contract.QuantityFilter.Max, &cfg.Contract.QuantityFilter.Max},
		{"contract.quantity_filter.step", fc.Contract.QuantityFilter.Step, &cfg.Contract.QuantityFilter.StepSize},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, f.name, err)
		}
		*f.dst = d
	}
	return cfg, nil
}
