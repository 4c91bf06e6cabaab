package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Feed     Feed     `mapstructure:"feed"`
	Trading  Trading  `mapstructure:"trading"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Users    []Seed   `mapstructure:"users"`
}

// Feed holds the configuration for the market data feed client.
type Feed struct {
	BaseURL        string   `mapstructure:"base_url"`
	PollInterval   int      `mapstructure:"poll_interval"` // seconds
	RateLimit      float64  `mapstructure:"rate_limit"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
	Symbols        []string `mapstructure:"symbols"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Trading holds the configuration for the strategy execution engine.
type Trading struct {
	CycleInterval int     `mapstructure:"cycle_interval"` // seconds between strategy cycles
	MaxPerTrade   float64 `mapstructure:"max_per_trade"`
	MinTradeSize  float64 `mapstructure:"min_trade_size"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Seed describes a user account created at startup if missing.
type Seed struct {
	Name            string  `mapstructure:"name"`
	StartingBalance float64 `mapstructure:"starting_balance"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("feed.poll_interval", 30)
	viper.SetDefault("feed.rate_limit", 20)      // requests per second
	viper.SetDefault("feed.rate_limit_burst", 5) // burst size
	viper.SetDefault("trading.cycle_interval", 60)
	viper.SetDefault("trading.max_per_trade", 1000)
	viper.SetDefault("trading.min_trade_size", 1e-5)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
