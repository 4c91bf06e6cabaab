package models

import "gorm.io/gorm"

// BotConfig holds a user's automated trading configuration. It is mutated
// by configuration requests and read once per strategy evaluation cycle.
type BotConfig struct {
	gorm.Model
	UserID   uint   `gorm:"uniqueIndex;not null" json:"user_id"`
	Active   bool   `gorm:"default:false" json:"active"`
	Strategy string `gorm:"not null" json:"strategy"`

	// RiskLevel bounds position sizing: 1 (cautious) to 10 (aggressive).
	RiskLevel float64 `gorm:"not null" json:"risk_level"`

	// Exit thresholds, in percent of unrealized P&L.
	TakeProfitPercent float64 `json:"take_profit_percent"`
	StopLossPercent   float64 `json:"stop_loss_percent"`

	// Entry threshold for the dip strategy: buy when the 24h change
	// drops below -DipThresholdPercent.
	DipThresholdPercent float64 `json:"dip_threshold_percent"`

	// RSI bound for the momentum strategy.
	OversoldRSI float64 `json:"oversold_rsi"`

	MaxPerTrade  float64 `json:"max_per_trade"`  // cap on quote spent per buy
	MinTradeSize float64 `json:"min_trade_size"` // reject dust-sized entries
}
