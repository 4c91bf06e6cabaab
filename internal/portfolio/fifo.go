package portfolio

import (
	"sort"

	"autotrader/internal/models"
)

// lot is a single open purchase, consumed oldest-first by later sells.
type lot struct {
	Quantity float64
	Price    float64
}

// SellRealization is the FIFO-attributed outcome of one SELL trade.
type SellRealization struct {
	TradeID  uint    `json:"trade_id"`
	Symbol   string  `json:"symbol"`
	Realized float64 `json:"realized"`
	Win      bool    `json:"win"`
}

// FIFOReport aggregates realized gains across a full trade history.
type FIFOReport struct {
	TotalRealized float64           `json:"total_realized"`
	Sells         []SellRealization `json:"sells"`
	WinningSells  int               `json:"winning_sells"`
}

// WinRate returns the fraction of sells whose FIFO-realized amount was
// positive, in percent. Zero when there are no sells.
func (r FIFOReport) WinRate() float64 {
	if len(r.Sells) == 0 {
		return 0
	}
	return float64(r.WinningSells) / float64(len(r.Sells)) * 100
}

// ReplayFIFO reconstructs realized profit by replaying trades in timestamp
// order and matching each sell against the oldest still-open buy lots of
// its symbol. The replay is a pure function of the trade history: the same
// ledger always yields the same report.
func ReplayFIFO(trades []models.Trade) FIFOReport {
	ordered := make([]models.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Timestamp != ordered[j].Timestamp {
			return ordered[i].Timestamp < ordered[j].Timestamp
		}
		return ordered[i].ID < ordered[j].ID
	})

	open := make(map[string][]lot)
	var report FIFOReport

	for _, t := range ordered {
		switch t.Side {
		case models.SideBuy:
			open[t.Symbol] = append(open[t.Symbol], lot{Quantity: t.Quantity, Price: t.Price})

		case models.SideSell:
			remaining := t.Quantity
			realized := 0.0
			queue := open[t.Symbol]

			for remaining > 0 && len(queue) > 0 {
				used := queue[0].Quantity
				if used > remaining {
					used = remaining
				}
				realized += used * (t.Price - queue[0].Price)
				remaining -= used
				queue[0].Quantity -= used
				if queue[0].Quantity < DustThreshold {
					queue = queue[1:]
				}
			}
			open[t.Symbol] = queue

			sr := SellRealization{TradeID: t.ID, Symbol: t.Symbol, Realized: realized, Win: realized > 0}
			if sr.Win {
				report.WinningSells++
			}
			report.TotalRealized += realized
			report.Sells = append(report.Sells, sr)
		}
	}

	return report
}
