package models

import "gorm.io/gorm"

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade is an immutable ledger entry. Trades are appended exactly once per
// execution and never mutated or deleted afterwards; the trade history is
// the source of truth for all derived statistics.
type Trade struct {
	gorm.Model
	UserID      uint    `gorm:"index;not null" json:"user_id"`
	Symbol      string  `gorm:"index;not null" json:"symbol"`
	Side        string  `gorm:"not null" json:"side"` // "BUY" or "SELL"
	Quantity    float64 `gorm:"not null" json:"quantity"`
	Price       float64 `gorm:"not null" json:"price"`
	Total       float64 `gorm:"not null" json:"total"`
	RealizedPnl float64 `json:"realized_pnl,omitempty"` // set only for SELL
	IsAutomated bool    `json:"is_automated"`
	Timestamp   int64   `gorm:"index;not null" json:"timestamp"`
}
