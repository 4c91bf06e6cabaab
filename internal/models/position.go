package models

import "gorm.io/gorm"

// Position is an open holding keyed by (user, symbol).
//
// TotalInvested is maintained incrementally alongside Quantity rather than
// recomputed as Quantity*AverageCost, so rounding drift stays consistent
// with the ledger. A position whose quantity falls below the dust threshold
// is deleted, never left near zero.
type Position struct {
	gorm.Model
	UserID        uint    `gorm:"uniqueIndex:idx_user_symbol;not null" json:"user_id"`
	Symbol        string  `gorm:"uniqueIndex:idx_user_symbol;not null" json:"symbol"`
	Quantity      float64 `gorm:"not null" json:"quantity"`
	AverageCost   float64 `gorm:"not null" json:"average_cost"`
	TotalInvested float64 `gorm:"not null" json:"total_invested"`
}
