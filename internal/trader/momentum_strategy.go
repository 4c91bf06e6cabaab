package trader

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
	"go.uber.org/zap"
)

// rsiPeriod is the lookback for the relative strength index, in ticks of
// the snapshot store's history.
const rsiPeriod = 14

// MomentumStrategy buys instruments whose RSI over the recent tick history
// signals an oversold market. It needs enough polled ticks to warm up, so
// early cycles after startup produce no signals.
type MomentumStrategy struct{}

func (s *MomentumStrategy) Name() string {
	return "momentum"
}

func (s *MomentumStrategy) Evaluate(ctx StrategyContext) []Signal {
	l := ctx.Logger.With(zap.String("strategy", s.Name()))

	oversold := ctx.Config.OversoldRSI
	if oversold <= 0 {
		oversold = 30
	}

	var signals []Signal
	for symbol, quote := range ctx.Snapshot.All() {
		if _, held := ctx.Positions[symbol]; held {
			continue
		}

		ticks := ctx.Snapshot.History(symbol)
		if len(ticks) <= rsiPeriod {
			continue
		}

		rsi := talib.Rsi(ticks, rsiPeriod)
		last := rsi[len(rsi)-1]
		if last <= 0 || last >= oversold {
			continue
		}

		quantity, ok := sizeEntry(ctx.Config, ctx.User, quote.Price)
		if !ok {
			l.Debug("Momentum entry too small, skipping", zap.String("symbol", symbol))
			continue
		}

		signals = append(signals, Signal{
			Symbol:   symbol,
			Quantity: quantity,
			Price:    quote.Price,
			Reason:   fmt.Sprintf("RSI %.1f below oversold bound %.1f", last, oversold),
		})
	}
	return signals
}
