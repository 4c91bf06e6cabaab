// Package executor applies buys and sells to the ledger. It is the only
// writer of balances, positions, and trade records: every mutation runs
// inside one database transaction under a per-user lock, so a user's
// ledger state is always internally consistent.
package executor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"autotrader/internal/broadcast"
	"autotrader/internal/models"
	"autotrader/internal/portfolio"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Validation failures. These are local rejections: the caller treats them
// as "not actionable" and never retries automatically.
var (
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrUnknownInstrument    = errors.New("unknown instrument")
	ErrInsufficientBalance  = errors.New("insufficient trading balance")
	ErrInsufficientPosition = errors.New("insufficient position quantity")
	ErrUnknownUser          = errors.New("unknown user")
)

// Result is the outcome of a committed transaction: the appended trade and
// the post-transaction state.
type Result struct {
	Trade          models.Trade     `json:"trade"`
	TradingBalance float64          `json:"trading_balance"`
	ProfitBalance  float64          `json:"profit_balance"`
	Position       *models.Position `json:"position,omitempty"` // nil when the sell closed the position
}

// Executor serializes ledger mutations per user and publishes an event
// after each committed trade.
type Executor struct {
	db     *gorm.DB
	logger *zap.Logger
	hub    *broadcast.Hub

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// New creates a transaction executor. The hub may be nil in tests.
func New(db *gorm.DB, logger *zap.Logger, hub *broadcast.Hub) *Executor {
	return &Executor{
		db:     db,
		logger: logger.Named("executor"),
		hub:    hub,
		locks:  make(map[uint]*sync.Mutex),
	}
}

// userLock returns the mutex serializing all ledger writes for one user.
// Users are independent; there is no cross-user locking.
func (e *Executor) userLock(userID uint) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	return l
}

// ExecuteBuy debits the trading balance and folds the purchase into the
// position at the weighted-average cost, appending one trade record.
func (e *Executor) ExecuteBuy(userID uint, symbol string, quantity, price float64, automated bool) (*Result, error) {
	if quantity <= 0 || price <= 0 {
		return nil, ErrInvalidQuantity
	}

	lock := e.userLock(userID)
	lock.Lock()

	result, err := e.buy(userID, symbol, quantity, price, automated)
	lock.Unlock()

	if err != nil {
		return nil, err
	}

	e.logger.Info("Buy executed",
		zap.Uint("user_id", userID),
		zap.String("symbol", symbol),
		zap.Float64("quantity", quantity),
		zap.Float64("price", price))

	// Broadcast happens outside the lock so slow consumers cannot stall
	// trading.
	e.publish(result)
	return result, nil
}

// ExecuteSell reduces the position proportionally, returns the cost basis
// of the sold quantity to the trading balance, and credits any gain above
// cost basis to the profit balance.
func (e *Executor) ExecuteSell(userID uint, symbol string, quantity, price float64, automated bool) (*Result, error) {
	if quantity <= 0 || price <= 0 {
		return nil, ErrInvalidQuantity
	}

	lock := e.userLock(userID)
	lock.Lock()

	result, err := e.sell(userID, symbol, quantity, price, automated)
	lock.Unlock()

	if err != nil {
		return nil, err
	}

	e.logger.Info("Sell executed",
		zap.Uint("user_id", userID),
		zap.String("symbol", symbol),
		zap.Float64("quantity", quantity),
		zap.Float64("price", price),
		zap.Float64("realized_pnl", result.Trade.RealizedPnl))

	e.publish(result)
	return result, nil
}

func (e *Executor) buy(userID uint, symbol string, quantity, price float64, automated bool) (*Result, error) {
	var result *Result

	err := e.db.Transaction(func(tx *gorm.DB) error {
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		if err := requireInstrument(tx, symbol); err != nil {
			return err
		}

		cost := quantity * price
		if user.TradingBalance < cost {
			return ErrInsufficientBalance
		}
		user.TradingBalance -= cost
		if err := checkBalances(user); err != nil {
			return err
		}

		var position models.Position
		err = tx.Where("user_id = ? AND symbol = ?", userID, symbol).First(&position).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			position = models.Position{UserID: userID, Symbol: symbol}
		} else if err != nil {
			return fmt.Errorf("failed to load position: %w", err)
		}

		position = portfolio.ApplyBuy(position, quantity, price)
		if err := tx.Save(&position).Error; err != nil {
			return fmt.Errorf("failed to save position: %w", err)
		}
		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			Update("trading_balance", user.TradingBalance).Error; err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		trade := models.Trade{
			UserID:      userID,
			Symbol:      symbol,
			Side:        models.SideBuy,
			Quantity:    quantity,
			Price:       price,
			Total:       cost,
			IsAutomated: automated,
			Timestamp:   time.Now().Unix(),
		}
		if err := tx.Create(&trade).Error; err != nil {
			return fmt.Errorf("failed to append trade: %w", err)
		}

		result = &Result{
			Trade:          trade,
			TradingBalance: user.TradingBalance,
			ProfitBalance:  user.ProfitBalance,
			Position:       &position,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Executor) sell(userID uint, symbol string, quantity, price float64, automated bool) (*Result, error) {
	var result *Result

	err := e.db.Transaction(func(tx *gorm.DB) error {
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		if err := requireInstrument(tx, symbol); err != nil {
			return err
		}

		var position models.Position
		err = tx.Where("user_id = ? AND symbol = ?", userID, symbol).First(&position).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInsufficientPosition
		} else if err != nil {
			return fmt.Errorf("failed to load position: %w", err)
		}
		if quantity > position.Quantity {
			return ErrInsufficientPosition
		}

		outcome, err := portfolio.ApplySell(position, quantity)
		if err != nil {
			return ErrInsufficientPosition
		}

		// Realized P&L uses the live average cost, not FIFO. The sale's
		// cost basis goes back to the trading balance and only the gain
		// above it is credited to the profit balance; losses reduce the
		// returned principal instead of debiting profit.
		realized := (price - position.AverageCost) * quantity
		if outcome.Closed {
			realized -= outcome.ResidualInvested
		}
		costBasis := position.AverageCost * quantity

		if realized >= 0 {
			user.TradingBalance += costBasis
			user.ProfitBalance += realized
		} else {
			user.TradingBalance += costBasis + realized
		}
		if err := checkBalances(user); err != nil {
			return err
		}

		if outcome.Closed {
			if err := tx.Unscoped().Delete(&models.Position{}, position.ID).Error; err != nil {
				return fmt.Errorf("failed to delete closed position: %w", err)
			}
		} else {
			if err := tx.Save(&outcome.Position).Error; err != nil {
				return fmt.Errorf("failed to save position: %w", err)
			}
		}

		updates := map[string]interface{}{
			"trading_balance": user.TradingBalance,
			"profit_balance":  user.ProfitBalance,
		}
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update balances: %w", err)
		}

		trade := models.Trade{
			UserID:      userID,
			Symbol:      symbol,
			Side:        models.SideSell,
			Quantity:    quantity,
			Price:       price,
			Total:       quantity * price,
			RealizedPnl: realized,
			IsAutomated: automated,
			Timestamp:   time.Now().Unix(),
		}
		if err := tx.Create(&trade).Error; err != nil {
			return fmt.Errorf("failed to append trade: %w", err)
		}

		result = &Result{
			Trade:          trade,
			TradingBalance: user.TradingBalance,
			ProfitBalance:  user.ProfitBalance,
		}
		if !outcome.Closed {
			p := outcome.Position
			result.Position = &p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Deposit credits the trading balance outside of any trade.
func (e *Executor) Deposit(userID uint, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, ErrInvalidQuantity
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	var balance float64
	err := e.db.Transaction(func(tx *gorm.DB) error {
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		user.TradingBalance += amount
		balance = user.TradingBalance
		return tx.Model(&models.User{}).Where("id = ?", userID).
			Update("trading_balance", user.TradingBalance).Error
	})
	return balance, err
}

// ResetAccount closes all positions without proceeds and restores the
// trading balance to the given amount. The trade history is preserved.
func (e *Executor) ResetAccount(userID uint, startingBalance float64) error {
	if startingBalance < 0 {
		return ErrInvalidQuantity
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return e.db.Transaction(func(tx *gorm.DB) error {
		if _, err := loadUser(tx, userID); err != nil {
			return err
		}
		if err := tx.Unscoped().Where("user_id = ?", userID).Delete(&models.Position{}).Error; err != nil {
			return fmt.Errorf("failed to clear positions: %w", err)
		}
		updates := map[string]interface{}{
			"trading_balance": startingBalance,
			"profit_balance":  0.0,
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error
	})
}

func (e *Executor) publish(result *Result) {
	if e.hub == nil {
		return
	}
	e.hub.Publish(broadcast.Event{
		Trade:          result.Trade,
		TradingBalance: result.TradingBalance,
		ProfitBalance:  result.ProfitBalance,
		Position:       result.Position,
	})
}

func loadUser(tx *gorm.DB, userID uint) (*models.User, error) {
	var user models.User
	if err := tx.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

func requireInstrument(tx *gorm.DB, symbol string) error {
	var count int64
	if err := tx.Model(&models.Instrument{}).Where("symbol = ?", symbol).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to look up instrument: %w", err)
	}
	if count == 0 {
		return ErrUnknownInstrument
	}
	return nil
}

// checkBalances rejects any write that would leave a balance negative.
// Clamping here would desynchronize invested value from quantity, so the
// whole transaction is aborted instead.
func checkBalances(user *models.User) error {
	if user.TradingBalance < 0 {
		return ErrInsufficientBalance
	}
	if user.ProfitBalance < 0 {
		return ErrInsufficientBalance
	}
	return nil
}
