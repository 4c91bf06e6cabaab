// Package portfolio implements the accounting engine: position valuation,
// cost basis bookkeeping, FIFO realized-gain replay, and derived statistics.
//
// Two distinct P&L models operate over the same ledger and must not be
// conflated: the live position carries a weighted-average cost basis used
// at execution time, while historical reporting replays the full trade
// history with FIFO lot matching.
package portfolio

import (
	"fmt"

	"autotrader/internal/models"
)

// DustThreshold is the quantity below which a position is considered
// fully closed and is deleted rather than left near zero.
const DustThreshold = 1e-6

// Valuation is a position marked to the current market price.
type Valuation struct {
	CurrentValue         float64 `json:"current_value"`
	UnrealizedPnl        float64 `json:"unrealized_pnl"`
	UnrealizedPnlPercent float64 `json:"unrealized_pnl_percent"`
}

// Value marks a position to the given price.
func Value(p models.Position, price float64) Valuation {
	v := Valuation{CurrentValue: p.Quantity * price}
	v.UnrealizedPnl = v.CurrentValue - p.TotalInvested
	if p.TotalInvested != 0 {
		v.UnrealizedPnlPercent = v.UnrealizedPnl / p.TotalInvested * 100
	}
	return v
}

// ApplyBuy folds a purchase into the position using the weighted-average
// method and returns the updated position.
func ApplyBuy(p models.Position, quantity, price float64) models.Position {
	p.TotalInvested += quantity * price
	p.Quantity += quantity
	p.AverageCost = p.TotalInvested / p.Quantity
	return p
}

// SellOutcome is the result of reducing a position by a sale.
type SellOutcome struct {
	Position models.Position
	// Closed reports that the remaining quantity fell below the dust
	// threshold and the position row must be deleted.
	Closed bool
	// ResidualInvested is the invested value left in a closed position,
	// attributed as fully realized by the caller.
	ResidualInvested float64
}

// ApplySell removes a proportional share of invested capital for the sold
// quantity. The average cost is unchanged between trades, which keeps the
// live position's cost basis stable. Selling more than held is an error,
// never clamped.
func ApplySell(p models.Position, quantity float64) (SellOutcome, error) {
	if quantity > p.Quantity {
		return SellOutcome{}, fmt.Errorf("sell quantity %.8f exceeds held quantity %.8f", quantity, p.Quantity)
	}

	p.TotalInvested *= 1 - quantity/p.Quantity
	p.Quantity -= quantity

	if p.Quantity < DustThreshold {
		residual := p.TotalInvested
		p.Quantity = 0
		p.TotalInvested = 0
		return SellOutcome{Position: p, Closed: true, ResidualInvested: residual}, nil
	}
	return SellOutcome{Position: p}, nil
}
