package portfolio

import (
	"sort"
	"time"

	"autotrader/internal/models"
)

// Stats summarizes a user's performance from the trade ledger and the
// currently open positions marked to the latest snapshot prices.
type Stats struct {
	TotalRealized   float64 `json:"total_realized"`
	TotalUnrealized float64 `json:"total_unrealized"`
	WinRate         float64 `json:"win_rate"`
	TotalTrades     int     `json:"total_trades"`
	TotalSells      int     `json:"total_sells"`
	WinningSells    int     `json:"winning_sells"`
}

// Compute derives performance statistics. Realized figures come from the
// FIFO replay of the trade history; unrealized figures from open positions
// and snapshot prices. Symbols without a known price contribute their
// invested value as an unrealized loss of zero (they are skipped).
func Compute(trades []models.Trade, positions []models.Position, prices map[string]float64) Stats {
	report := ReplayFIFO(trades)

	stats := Stats{
		TotalRealized: report.TotalRealized,
		WinRate:       report.WinRate(),
		TotalTrades:   len(trades),
		TotalSells:    len(report.Sells),
		WinningSells:  report.WinningSells,
	}

	for _, p := range positions {
		price, ok := prices[p.Symbol]
		if !ok {
			continue
		}
		stats.TotalUnrealized += Value(p, price).UnrealizedPnl
	}

	return stats
}

// ValuePoint is one sample of the synthetic portfolio value series.
type ValuePoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// ValueSeries builds a time series of portfolio value for charting by
// replaying trades chronologically. Holdings at each sample time are priced
// by interpolating linearly between the last trade tick for the symbol
// before the sample and the current snapshot price; cumulative realized
// P&L from past sells is included so closed gains stay visible.
func ValueSeries(trades []models.Trade, prices map[string]float64, samples int, now time.Time) []ValuePoint {
	if len(trades) == 0 || samples <= 0 {
		return nil
	}

	ordered := make([]models.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	start := ordered[0].Timestamp
	end := now.Unix()
	if end <= start {
		end = start + 1
	}
	step := float64(end-start) / float64(samples)

	series := make([]ValuePoint, 0, samples+1)

	for i := 0; i <= samples; i++ {
		at := start + int64(float64(i)*step)

		holdings := make(map[string]float64)
		lastTick := make(map[string]models.Trade)
		realized := 0.0
		for _, t := range ordered {
			if t.Timestamp > at {
				break
			}
			lastTick[t.Symbol] = t
			switch t.Side {
			case models.SideBuy:
				holdings[t.Symbol] += t.Quantity
			case models.SideSell:
				holdings[t.Symbol] -= t.Quantity
				realized += t.RealizedPnl
			}
		}

		value := realized
		for symbol, qty := range holdings {
			if qty < DustThreshold {
				continue
			}
			value += qty * interpolatedPrice(lastTick[symbol], prices[symbol], at, end)
		}

		series = append(series, ValuePoint{Timestamp: at, Value: value})
	}

	return series
}

// interpolatedPrice estimates a symbol's price at a sample time, sliding
// linearly from the last trade tick before the sample towards the current
// snapshot price.
func interpolatedPrice(tick models.Trade, current float64, at, end int64) float64 {
	if current == 0 {
		return tick.Price
	}
	if end <= tick.Timestamp || at <= tick.Timestamp {
		return tick.Price
	}
	frac := float64(at-tick.Timestamp) / float64(end-tick.Timestamp)
	return tick.Price + (current-tick.Price)*frac
}
