package database

import (
	"fmt"

	"autotrader/internal/config"
	"autotrader/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db, cfg); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates missing tables and seeds configured user accounts.
// The trade ledger is append-only, so existing tables are never dropped.
func Migrate(db *gorm.DB, cfg *config.Config) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Instrument{},
		&models.Position{},
		&models.Trade{},
		&models.BotConfig{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	// Seed configured users; existing accounts keep their balances.
	for _, seed := range cfg.Users {
		user := models.User{Name: seed.Name, TradingBalance: seed.StartingBalance}
		if err := db.FirstOrCreate(&user, models.User{Name: seed.Name}).Error; err != nil {
			return fmt.Errorf("failed to seed user '%s': %w", seed.Name, err)
		}
		botCfg := models.BotConfig{
			UserID:              user.ID,
			Strategy:            "dip",
			RiskLevel:           3,
			TakeProfitPercent:   5,
			StopLossPercent:     10,
			DipThresholdPercent: 3,
			OversoldRSI:         30,
			MaxPerTrade:         cfg.Trading.MaxPerTrade,
			MinTradeSize:        cfg.Trading.MinTradeSize,
		}
		if err := db.FirstOrCreate(&botCfg, models.BotConfig{UserID: user.ID}).Error; err != nil {
			return fmt.Errorf("failed to seed bot config for '%s': %w", seed.Name, err)
		}
	}

	return nil
}
