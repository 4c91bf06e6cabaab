// Package api exposes the trading core over HTTP. Handlers parse and
// validate requests at the boundary and hand validated values to the
// executor and scheduler; the core never sees raw payloads.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"autotrader/internal/broadcast"
	"autotrader/internal/executor"
	"autotrader/internal/marketdata"
	"autotrader/internal/models"
	"autotrader/internal/portfolio"
	"autotrader/internal/trader"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server wires the HTTP surface to the core components.
type Server struct {
	logger    *zap.Logger
	db        *gorm.DB
	snapshot  *marketdata.SnapshotStore
	exec      *executor.Executor
	scheduler *trader.Scheduler
	hub       *broadcast.Hub
	srv       *http.Server
}

// NewServer builds the router and the underlying HTTP server.
func NewServer(logger *zap.Logger, db *gorm.DB, snapshot *marketdata.SnapshotStore, exec *executor.Executor, scheduler *trader.Scheduler, hub *broadcast.Hub, port int) *Server {
	s := &Server{
		logger:    logger.Named("api"),
		db:        db,
		snapshot:  snapshot,
		exec:      exec,
		scheduler: scheduler,
		hub:       hub,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/instruments", s.listInstruments)
		apiGroup.GET("/events", s.streamEvents)

		users := apiGroup.Group("/users/:id")
		users.GET("/portfolio", s.getPortfolio)
		users.GET("/trades", s.listTrades)
		users.GET("/stats", s.getStats)
		users.POST("/trades", s.placeTrade)
		users.POST("/deposit", s.deposit)
		users.POST("/reset", s.resetAccount)
		users.GET("/bot", s.getBotConfig)
		users.PUT("/bot", s.updateBotConfig)
	}

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", zap.String("address", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Stopping API server")
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) userID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return uint(id), true
}

func (s *Server) listInstruments(c *gin.Context) {
	var instruments []models.Instrument
	if err := s.db.Order("symbol").Find(&instruments).Error; err != nil {
		s.logger.Error("Failed to list instruments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list instruments"})
		return
	}
	c.JSON(http.StatusOK, instruments)
}

// positionView is an open position marked to the current snapshot price.
type positionView struct {
	models.Position
	portfolio.Valuation
	CurrentPrice float64 `json:"current_price"`
}

func (s *Server) getPortfolio(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
		return
	}

	var positions []models.Position
	if err := s.db.Where("user_id = ?", userID).Find(&positions).Error; err != nil {
		s.logger.Error("Failed to load positions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load positions"})
		return
	}

	prices := s.snapshot.Prices()
	views := make([]positionView, 0, len(positions))
	totalValue := 0.0
	for _, p := range positions {
		price := prices[p.Symbol]
		v := portfolio.Value(p, price)
		totalValue += v.CurrentValue
		views = append(views, positionView{Position: p, Valuation: v, CurrentPrice: price})
	}

	c.JSON(http.StatusOK, gin.H{
		"trading_balance": user.TradingBalance,
		"profit_balance":  user.ProfitBalance,
		"positions":       views,
		"total_value":     totalValue + user.TradingBalance + user.ProfitBalance,
	})
}

func (s *Server) listTrades(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var trades []models.Trade
	if err := s.db.Where("user_id = ?", userID).Order("timestamp desc").Find(&trades).Error; err != nil {
		s.logger.Error("Failed to load trades", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) getStats(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var trades []models.Trade
	if err := s.db.Where("user_id = ?", userID).Find(&trades).Error; err != nil {
		s.logger.Error("Failed to load trades", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	var positions []models.Position
	if err := s.db.Where("user_id = ?", userID).Find(&positions).Error; err != nil {
		s.logger.Error("Failed to load positions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load positions"})
		return
	}

	prices := s.snapshot.Prices()
	c.JSON(http.StatusOK, gin.H{
		"stats":  portfolio.Compute(trades, positions, prices),
		"series": portfolio.ValueSeries(trades, prices, 50, time.Now()),
	})
}

type tradeRequest struct {
	Symbol   string  `json:"symbol" binding:"required"`
	Side     string  `json:"side" binding:"required,oneof=BUY SELL"`
	Quantity float64 `json:"quantity" binding:"required,gt=0"`
}

func (s *Server) placeTrade(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quote, ok := s.snapshot.Get(req.Symbol)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": executor.ErrUnknownInstrument.Error()})
		return
	}

	var result *executor.Result
	var err error
	if req.Side == models.SideBuy {
		result, err = s.exec.ExecuteBuy(userID, req.Symbol, req.Quantity, quote.Price, false)
	} else {
		result, err = s.exec.ExecuteSell(userID, req.Symbol, req.Quantity, quote.Price, false)
	}
	if err != nil {
		// Manual requests get the specific rejection reason.
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, result)
}

type depositRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

func (s *Server) deposit(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	balance, err := s.exec.Deposit(userID, req.Amount)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trading_balance": balance})
}

type resetRequest struct {
	StartingBalance float64 `json:"starting_balance" binding:"gte=0"`
}

func (s *Server) resetAccount(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.exec.ResetAccount(userID, req.StartingBalance); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getBotConfig(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var cfg models.BotConfig
	if err := s.db.Where("user_id = ?", userID).First(&cfg).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no bot configuration"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg, "running": s.scheduler.Running(userID)})
}

// botConfigRequest carries partial updates; nil fields are left unchanged.
type botConfigRequest struct {
	Active              *bool    `json:"active"`
	Strategy            *string  `json:"strategy"`
	RiskLevel           *float64 `json:"risk_level"`
	TakeProfitPercent   *float64 `json:"take_profit_percent"`
	StopLossPercent     *float64 `json:"stop_loss_percent"`
	DipThresholdPercent *float64 `json:"dip_threshold_percent"`
	OversoldRSI         *float64 `json:"oversold_rsi"`
	MaxPerTrade         *float64 `json:"max_per_trade"`
	MinTradeSize        *float64 `json:"min_trade_size"`
}

func (s *Server) updateBotConfig(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var req botConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var cfg models.BotConfig
	if err := s.db.Where("user_id = ?", userID).First(&cfg).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no bot configuration"})
		return
	}

	if req.RiskLevel != nil && (*req.RiskLevel < 1 || *req.RiskLevel > 10) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "risk_level must be between 1 and 10"})
		return
	}
	if req.Strategy != nil {
		cfg.Strategy = *req.Strategy
	}
	if req.RiskLevel != nil {
		cfg.RiskLevel = *req.RiskLevel
	}
	if req.TakeProfitPercent != nil {
		cfg.TakeProfitPercent = *req.TakeProfitPercent
	}
	if req.StopLossPercent != nil {
		cfg.StopLossPercent = *req.StopLossPercent
	}
	if req.DipThresholdPercent != nil {
		cfg.DipThresholdPercent = *req.DipThresholdPercent
	}
	if req.OversoldRSI != nil {
		cfg.OversoldRSI = *req.OversoldRSI
	}
	if req.MaxPerTrade != nil {
		cfg.MaxPerTrade = *req.MaxPerTrade
	}
	if req.MinTradeSize != nil {
		cfg.MinTradeSize = *req.MinTradeSize
	}
	if req.Active != nil {
		cfg.Active = *req.Active
	}

	if err := s.db.Save(&cfg).Error; err != nil {
		s.logger.Error("Failed to save bot config", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save configuration"})
		return
	}

	// Apply the toggle after the config is durable.
	if cfg.Active {
		if err := s.scheduler.StartBot(userID); err != nil {
			s.logger.Error("Failed to start bot", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start bot"})
			return
		}
	} else {
		s.scheduler.StopBot(userID)
	}

	c.JSON(http.StatusOK, gin.H{"config": cfg, "running": s.scheduler.Running(userID)})
}

// streamEvents forwards broadcast events to the client as server-sent
// events. Missed events are not replayed; clients re-fetch state on
// reconnect.
func (s *Server) streamEvents(c *gin.Context) {
	id, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("trade", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// statusFor maps executor validation errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, executor.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, executor.ErrInvalidQuantity),
		errors.Is(err, executor.ErrUnknownInstrument):
		return http.StatusBadRequest
	case errors.Is(err, executor.ErrInsufficientBalance),
		errors.Is(err, executor.ErrInsufficientPosition):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
