package trader

import (
	"fmt"

	"go.uber.org/zap"
)

// DipStrategy buys instruments whose 24h change has dropped below the
// configured threshold, betting on reversion.
type DipStrategy struct{}

func (s *DipStrategy) Name() string {
	return "dip"
}

func (s *DipStrategy) Evaluate(ctx StrategyContext) []Signal {
	l := ctx.Logger.With(zap.String("strategy", s.Name()))
	threshold := -ctx.Config.DipThresholdPercent

	var signals []Signal
	for symbol, quote := range ctx.Snapshot.All() {
		if _, held := ctx.Positions[symbol]; held {
			continue
		}
		if quote.Change24hPercent > threshold {
			continue
		}

		quantity, ok := sizeEntry(ctx.Config, ctx.User, quote.Price)
		if !ok {
			l.Debug("Dip entry too small, skipping", zap.String("symbol", symbol))
			continue
		}

		signals = append(signals, Signal{
			Symbol:   symbol,
			Quantity: quantity,
			Price:    quote.Price,
			Reason:   fmt.Sprintf("24h change %.2f%% below %.2f%%", quote.Change24hPercent, threshold),
		})
	}
	return signals
}
