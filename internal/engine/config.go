package engine

import (
	"time"

	"github.com/rbasarat/backtester/internal/risk"
	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config configures one Engine run.
type Config struct {
	// MarketDataLatency is the simulated delay between a tick arriving and
	// strategies seeing it.
	MarketDataLatency time.Duration

	// OrderLatency is the simulated delay between a strategy's signal being
	// approved and the resulting order reaching its book.
	OrderLatency time.Duration

	// MatchingAlgorithm selects each instrument's order book algorithm.
	// Only PriceTime is implemented.
	MatchingAlgorithm types.MatchingAlgorithm

	// RiskLimits is the default risk limit set; strategies may be given
	// per-strategy overrides via Engine.SetStrategyRiskLimits.
	RiskLimits risk.Limits

	// SharpeRiskFreeRate is the annualized risk-free rate subtracted from
	// returns before annualizing the Sharpe ratio.
	SharpeRiskFreeRate types.Price

	// EventQueueCapacity sizes the async event bus queue. Zero or a
	// negative value uses 4096.
	EventQueueCapacity int

	Logger *zap.Logger
}

// DefaultConfig returns a Config with PriceTime matching, conservative
// default risk limits, zero market-data and order latency, and a no-op
// logger.
func DefaultConfig() Config {
	return Config{
		MarketDataLatency:  0,
		OrderLatency:       0,
		MatchingAlgorithm:  types.PriceTime,
		RiskLimits:         risk.DefaultLimits(),
		SharpeRiskFreeRate: decimal.Zero,
		Logger:             zap.NewNop(),
	}
}
