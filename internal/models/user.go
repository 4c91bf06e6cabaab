package models

import "gorm.io/gorm"

// User represents an account holder with two balances: cash available for
// buying, and realized gains held separately (not auto-reinvested).
// Both balances are non-negative at all times; the transaction executor
// rejects any debit that would violate that.
type User struct {
	gorm.Model
	Name           string  `gorm:"uniqueIndex;not null" json:"name"`
	TradingBalance float64 `gorm:"not null" json:"trading_balance"`
	ProfitBalance  float64 `gorm:"not null" json:"profit_balance"`
}
