// Package config defines all configuration for the futures simulator.
// A Config can be built in code with New or loaded from a YAML file
// (default: configs/simulator.yaml) with FUTSIM_* environment overrides.
// Money-valued fields are carried as strings in the file so they parse into
// exact decimals.
package config

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MarkMethod selects the reference price used to value the open position.
type MarkMethod string

// MarkMidPrice marks the position at the mid of bid and ask. It is the only
// method currently implemented.
const MarkMidPrice MarkMethod = "mid_price"

var (
	// ErrInvalidFee: taker fee outside [0, 1) or maker fee outside (-1, 1).
	ErrInvalidFee = errors.New("invalid fee")
	// ErrInvalidLeverage: leverage outside [1, 125].
	ErrInvalidLeverage = errors.New("invalid leverage")
	// ErrInvalidMargin: margin rates outside (0, 1] or maintenance >= initial.
	ErrInvalidMargin = errors.New("invalid margin rate")
	// ErrInvalidFilter: malformed price or quantity filter.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrInvalidConfig: anything else, e.g. non-positive starting balance.
	ErrInvalidConfig = errors.New("invalid config")
)

// PriceFilter bounds the limit prices the exchange accepts.
type PriceFilter struct {
	Min      decimal.Decimal
	Max      decimal.Decimal
	TickSize decimal.Decimal
}

// QuantityFilter bounds the order quantities the exchange accepts.
type QuantityFilter struct {
	Min      decimal.Decimal
	Max      decimal.Decimal
	StepSize decimal.Decimal
}

// ContractSpec describes the traded futures contract.
type ContractSpec struct {
	Ticker                string
	InitialMarginRate     decimal.Decimal
	MaintenanceMarginRate decimal.Decimal
	MarkMethod            MarkMethod
	PriceFilter           PriceFilter
	QuantityFilter        QuantityFilter
}

// LoggingConfig selects log level and output format for the replay harness.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full simulator configuration. Fees are rates applied to fill
// notionals; the maker fee may be negative (a rebate).
type Config struct {
	FeeMaker        decimal.Decimal
	FeeTaker        decimal.Decimal
	StartingBalance decimal.Decimal
	MaxOrders       int
	Leverage        int
	Contract        ContractSpec
	Logging         LoggingConfig
}

// New builds and validates a Config.
func New(feeMaker, feeTaker, startingBalance decimal.Decimal, maxOrders, leverage int, contract ContractSpec) (Config, error) {
	cfg := Config{
		FeeMaker:        feeMaker,
		FeeTaker:        feeTaker,
		StartingBalance: startingBalance,
		MaxOrders:       maxOrders,
		Leverage:        leverage,
		Contract:        contract,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// InitMarginReq returns the initial margin requirement 1/leverage as an exact
// decimal fraction.
func (c Config) InitMarginReq() decimal.Decimal {
	return decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(c.Leverage)))
}

// Validate checks all required fields and value ranges.
func (c Config) Validate() error {
	one := decimal.NewFromInt(1)
	if c.FeeTaker.IsNegative() || c.FeeTaker.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: taker fee %s outside [0, 1)", ErrInvalidFee, c.FeeTaker)
	}
	if c.FeeMaker.LessThanOrEqual(one.Neg()) || c.FeeMaker.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: maker fee %s outside (-1, 1)", ErrInvalidFee, c.FeeMaker)
	}
	if !c.StartingBalance.IsPositive() {
		return fmt.Errorf("%w: starting balance %s must be positive", ErrInvalidConfig, c.StartingBalance)
	}
	if c.MaxOrders <= 0 {
		return fmt.Errorf("%w: max orders must be positive", ErrInvalidConfig)
	}
	if c.Leverage < 1 || c.Leverage > 125 {
		return fmt.Errorf("%w: leverage %d outside [1, 125]", ErrInvalidLeverage, c.Leverage)
	}
	return c.Contract.validate()
}

func (s ContractSpec) validate() error {
	one := decimal.NewFromInt(1)
	if s.Ticker == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidConfig)
	}
	for _, rate := range []decimal.Decimal{s.InitialMarginRate, s.MaintenanceMarginRate} {
		if !rate.IsPositive() || rate.GreaterThan(one) {
			return fmt.Errorf("%w: rate %s outside (0, 1]", ErrInvalidMargin, rate)
		}
	}
	if s.MaintenanceMarginRate.GreaterThanOrEqual(s.InitialMarginRate) {
		return fmt.Errorf("%w: maintenance rate %s >= initial rate %s",
			ErrInvalidMargin, s.MaintenanceMarginRate, s.InitialMarginRate)
	}
	if s.MarkMethod != MarkMidPrice {
		return fmt.Errorf("%w: unsupported mark method %q", ErrInvalidConfig, s.MarkMethod)
	}
	if err := validateFilter("price", s.PriceFilter.Min, s.PriceFilter.Max, s.PriceFilter.TickSize); err != nil {
		return err
	}
	return validateFilter("quantity", s.QuantityFilter.Min, s.QuantityFilter.Max, s.QuantityFilter.StepSize)
}

func validateFilter(name string, min, max, step decimal.Decimal) error {
	if !step.IsPositive() {
		return fmt.Errorf("%w: %s step must be positive", ErrInvalidFilter, name)
	}
	if !min.IsPositive() {
		return fmt.Errorf("%w: %s min must be positive", ErrInvalidFilter, name)
	}
	if max.LessThan(min) {
		return fmt.Errorf("%w: %s max %s below min %s", ErrInvalidFilter, name, max, min)
	}
	return nil
}
