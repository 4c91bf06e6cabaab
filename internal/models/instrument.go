package models

import "gorm.io/gorm"

// Instrument represents a tradable symbol with its latest known market data.
// Rows are created lazily on first price observation and mutated only by
// the market snapshot store.
type Instrument struct {
	gorm.Model
	Symbol         string  `gorm:"uniqueIndex;not null" json:"symbol"`
	CurrentPrice   float64 `json:"current_price"`
	PriceChange24h float64 `gorm:"column:price_change24h" json:"price_change_24h"`
	LastTick       int64   `json:"last_tick"` // unix seconds of the last price update
}
