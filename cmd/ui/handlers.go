package main

import (
	"net/http"
	"strconv"
	"time"

	"autotrader/internal/models"
	"autotrader/internal/portfolio"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DashboardHandler holds dependencies for the read-only dashboard API.
type DashboardHandler struct {
	log *zap.Logger
	db  *gorm.DB
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(log *zap.Logger, db *gorm.DB) *DashboardHandler {
	return &DashboardHandler{log: log, db: db}
}

func (h *DashboardHandler) userID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return uint(id), true
}

// Trades returns a user's historical trades, most recent first.
func (h *DashboardHandler) Trades(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var trades []models.Trade
	if err := h.db.Where("user_id = ?", userID).Order("timestamp desc").Find(&trades).Error; err != nil {
		h.log.Error("Failed to get trades from database", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get trades"})
		return
	}
	c.JSON(http.StatusOK, trades)
}

// Instruments returns the latest observed market data per symbol.
func (h *DashboardHandler) Instruments(c *gin.Context) {
	var instruments []models.Instrument
	if err := h.db.Order("symbol").Find(&instruments).Error; err != nil {
		h.log.Error("Failed to get instruments from database", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get instruments"})
		return
	}
	c.JSON(http.StatusOK, instruments)
}

// StatisticsResponse is the structure for the /api/users/:id/statistics endpoint.
type StatisticsResponse struct {
	AllTime  portfolio.Stats        `json:"all_time"`
	Since24h portfolio.Stats        `json:"since_24h"`
	Series   []portfolio.ValuePoint `json:"series"`
}

// Statistics derives performance figures from the trade ledger. Prices for
// unrealized P&L come from the instrument rows the trader process keeps
// current, so this binary stays read-only.
func (h *DashboardHandler) Statistics(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var trades []models.Trade
	if err := h.db.Where("user_id = ?", userID).Find(&trades).Error; err != nil {
		h.log.Error("Failed to get trades for statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to calculate statistics"})
		return
	}
	var positions []models.Position
	if err := h.db.Where("user_id = ?", userID).Find(&positions).Error; err != nil {
		h.log.Error("Failed to get positions for statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to calculate statistics"})
		return
	}
	var instruments []models.Instrument
	if err := h.db.Find(&instruments).Error; err != nil {
		h.log.Error("Failed to get instruments for statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to calculate statistics"})
		return
	}

	prices := make(map[string]float64, len(instruments))
	for _, inst := range instruments {
		prices[inst.Symbol] = inst.CurrentPrice
	}

	now := time.Now()
	since24h := now.Add(-24 * time.Hour).Unix()
	var recent []models.Trade
	for _, t := range trades {
		if t.Timestamp >= since24h {
			recent = append(recent, t)
		}
	}

	c.JSON(http.StatusOK, StatisticsResponse{
		AllTime: portfolio.Compute(trades, positions, prices),
		// The 24h window reports realized activity only; open positions
		// belong to the all-time view.
		Since24h: portfolio.Compute(recent, nil, prices),
		Series:   portfolio.ValueSeries(trades, prices, 50, now),
	})
}
