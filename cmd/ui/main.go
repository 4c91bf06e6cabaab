// The ui binary serves a read-only dashboard API over the shared ledger
// database. It never writes: trades and bot control go through the trader
// binary's API.
package main

import (
	"fmt"
	"net/http"
	"os"

	"autotrader/internal/config"
	"autotrader/internal/database"
	"autotrader/internal/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	handler := NewDashboardHandler(log, db)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/api/users/:id/trades", handler.Trades)
	router.GET("/api/users/:id/statistics", handler.Statistics)
	router.GET("/api/instruments", handler.Instruments)

	// Static file serving for CSS, JS, etc.
	router.Static("/static", "web/static")
	router.GET("/", func(c *gin.Context) {
		c.File("web/templates/index.html")
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port+1)
	log.Info("Starting dashboard server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatal("Dashboard server failed", zap.Error(err))
	}
}
