package trader

import (
	"autotrader/internal/marketdata"
	"autotrader/internal/models"
	"go.uber.org/zap"
)

// StrategyContext is the read-only state handed to a strategy for one
// evaluation cycle: the user's configuration and balances, current
// positions, and the market snapshot. Strategies hold no state of their
// own; anything they need between cycles (such as recent ticks) comes from
// the snapshot store.
type StrategyContext struct {
	Logger    *zap.Logger
	Config    models.BotConfig
	User      models.User
	Snapshot  *marketdata.SnapshotStore
	Positions map[string]models.Position
}

// Signal is a strategy's request to open an entry. Exits are handled by
// the scheduler before strategies run, so signals are always buys.
type Signal struct {
	Symbol   string
	Quantity float64
	Price    float64
	Reason   string
}

// Strategy decides which entries to open for a user this cycle.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Evaluate returns the entry signals for this cycle. It must not
	// mutate any ledger state; execution belongs to the caller.
	Evaluate(ctx StrategyContext) []Signal
}

// riskFraction maps the 1..10 risk level onto the fraction of the trading
// balance committed per entry: level 1 risks 5%, level 10 risks 50%.
func riskFraction(level float64) float64 {
	if level < 1 {
		level = 1
	}
	if level > 10 {
		level = 10
	}
	return level * 0.05
}

// sizeEntry computes the buy quantity for an entry at the given price:
// min(balance x risk fraction, per-trade cap), rejecting dust-sized trades.
func sizeEntry(cfg models.BotConfig, user models.User, price float64) (float64, bool) {
	if price <= 0 {
		return 0, false
	}

	amount := user.TradingBalance * riskFraction(cfg.RiskLevel)
	if cfg.MaxPerTrade > 0 && amount > cfg.MaxPerTrade {
		amount = cfg.MaxPerTrade
	}

	quantity := amount / price
	if quantity < cfg.MinTradeSize || quantity <= 0 {
		return 0, false
	}
	return quantity, true
}
