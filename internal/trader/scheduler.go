// Package trader runs the strategy execution engine: one scheduled
// evaluation loop per active user, reading the market snapshot and ledger
// state and handing actionable signals to the transaction executor.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autotrader/internal/executor"
	"autotrader/internal/marketdata"
	"autotrader/internal/models"
	"autotrader/internal/portfolio"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Scheduler owns the per-user evaluation loops. Users are independent:
// each loop is its own goroutine with its own cancel function, and
// stopping a bot tears the goroutine down rather than flagging it, so a
// stale cycle can never complete a trade after stop.
type Scheduler struct {
	logger     *zap.Logger
	db         *gorm.DB
	snapshot   *marketdata.SnapshotStore
	exec       *executor.Executor
	interval   time.Duration
	strategies map[string]Strategy

	mu      sync.Mutex
	running map[uint]context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler with the built-in strategies registered.
func NewScheduler(logger *zap.Logger, db *gorm.DB, snapshot *marketdata.SnapshotStore, exec *executor.Executor, interval time.Duration) *Scheduler {
	s := &Scheduler{
		logger:     logger.Named("scheduler"),
		db:         db,
		snapshot:   snapshot,
		exec:       exec,
		interval:   interval,
		strategies: make(map[string]Strategy),
		running:    make(map[uint]context.CancelFunc),
	}
	s.Register(&DipStrategy{})
	s.Register(&MomentumStrategy{})
	return s
}

// Register adds a strategy to the registry under its name.
func (s *Scheduler) Register(strategy Strategy) {
	s.strategies[strategy.Name()] = strategy
}

// StartActive starts evaluation loops for every user whose bot
// configuration is active, typically at boot.
func (s *Scheduler) StartActive() error {
	var configs []models.BotConfig
	if err := s.db.Where("active = ?", true).Find(&configs).Error; err != nil {
		return fmt.Errorf("failed to load active bot configs: %w", err)
	}
	for _, cfg := range configs {
		if err := s.StartBot(cfg.UserID); err != nil {
			return err
		}
	}
	return nil
}

// StartBot spawns the evaluation loop for a user. Starting an already
// running bot is a no-op. Loops live until StopBot or Shutdown cancels
// them; they are not tied to any caller's context.
func (s *Scheduler) StartBot(userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.running[userID]; ok {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.running[userID] = cancel

	s.wg.Add(1)
	go s.runLoop(loopCtx, userID)

	s.logger.Info("Bot started", zap.Uint("user_id", userID))
	return nil
}

// StopBot cancels and removes the user's evaluation loop.
func (s *Scheduler) StopBot(userID uint) {
	s.mu.Lock()
	cancel, ok := s.running[userID]
	if ok {
		delete(s.running, userID)
	}
	s.mu.Unlock()

	if ok {
		cancel()
		s.logger.Info("Bot stopped", zap.Uint("user_id", userID))
	}
}

// Running reports whether a user's loop is currently scheduled.
func (s *Scheduler) Running(userID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[userID]
	return ok
}

// Shutdown stops all loops and waits for in-flight cycles to finish.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for userID, cancel := range s.running {
		cancel()
		delete(s.running, userID)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, userID uint) {
	defer s.wg.Done()

	l := s.logger.With(zap.Uint("user_id", userID))
	l.Info("Starting evaluation loop", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Info("Evaluation loop torn down")
			return
		case <-ticker.C:
			if err := s.cycle(ctx, userID); err != nil {
				// Background cycles fail silently to the user.
				l.Error("Evaluation cycle failed", zap.Error(err))
			}
		}
	}
}

// cycle runs one strategy evaluation for a user: exit rules first for held
// positions, then the configured strategy's entry rules for the rest.
func (s *Scheduler) cycle(ctx context.Context, userID uint) error {
	var cfg models.BotConfig
	if err := s.db.Where("user_id = ?", userID).First(&cfg).Error; err != nil {
		return fmt.Errorf("failed to load bot config: %w", err)
	}
	if !cfg.Active {
		return nil
	}

	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	quotes := s.snapshot.All()
	if len(quotes) == 0 {
		s.logger.Debug("No market snapshot yet, skipping cycle", zap.Uint("user_id", userID))
		return nil
	}

	var positionRows []models.Position
	if err := s.db.Where("user_id = ?", userID).Find(&positionRows).Error; err != nil {
		return fmt.Errorf("failed to load positions: %w", err)
	}
	positions := make(map[string]models.Position, len(positionRows))
	for _, p := range positionRows {
		positions[p.Symbol] = p
	}

	// Exits take priority over new entries to avoid compounding risk.
	s.evaluateExits(ctx, cfg, positions, quotes)

	strategy, ok := s.strategies[cfg.Strategy]
	if !ok {
		return fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}

	sctx := StrategyContext{
		Logger:    s.logger.With(zap.Uint("user_id", userID)),
		Config:    cfg,
		User:      user,
		Snapshot:  s.snapshot,
		Positions: positions,
	}

	for _, signal := range strategy.Evaluate(sctx) {
		// A stopped bot must not trade even if its final cycle is
		// already in flight.
		if ctx.Err() != nil {
			return nil
		}
		s.executeEntry(cfg, signal)
	}

	return nil
}

func (s *Scheduler) evaluateExits(ctx context.Context, cfg models.BotConfig, positions map[string]models.Position, quotes map[string]marketdata.Quote) {
	l := s.logger.With(zap.Uint("user_id", cfg.UserID))

	for symbol, position := range positions {
		if ctx.Err() != nil {
			return
		}
		quote, ok := quotes[symbol]
		if !ok {
			continue
		}

		valuation := portfolio.Value(position, quote.Price)
		pct := valuation.UnrealizedPnlPercent

		var reason string
		switch {
		case cfg.TakeProfitPercent > 0 && pct >= cfg.TakeProfitPercent:
			reason = "take_profit"
		case cfg.StopLossPercent > 0 && pct <= -cfg.StopLossPercent:
			reason = "stop_loss"
		default:
			continue
		}

		_, err := s.exec.ExecuteSell(cfg.UserID, symbol, position.Quantity, quote.Price, true)
		if err != nil {
			if isValidation(err) {
				l.Debug("Exit not actionable this cycle", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			l.Error("Exit failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		l.Info("Closed position",
			zap.String("symbol", symbol),
			zap.String("reason", reason),
			zap.Float64("unrealized_pnl_percent", pct))
	}
}

func (s *Scheduler) executeEntry(cfg models.BotConfig, signal Signal) {
	l := s.logger.With(zap.Uint("user_id", cfg.UserID), zap.String("symbol", signal.Symbol))

	result, err := s.exec.ExecuteBuy(cfg.UserID, signal.Symbol, signal.Quantity, signal.Price, true)
	if err != nil {
		if isValidation(err) {
			l.Debug("Entry not actionable this cycle", zap.Error(err))
			return
		}
		l.Error("Entry failed", zap.Error(err))
		return
	}
	l.Info("Opened position",
		zap.Float64("quantity", result.Trade.Quantity),
		zap.Float64("price", result.Trade.Price),
		zap.String("reason", signal.Reason))
}

// isValidation reports whether the executor rejected the trade locally;
// such signals are simply not actionable this cycle and are never retried.
func isValidation(err error) bool {
	return errors.Is(err, executor.ErrInvalidQuantity) ||
		errors.Is(err, executor.ErrUnknownInstrument) ||
		errors.Is(err, executor.ErrInsufficientBalance) ||
		errors.Is(err, executor.ErrInsufficientPosition)
}
