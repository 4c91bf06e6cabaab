package executor

import (
	"sync"
	"testing"

	"autotrader/internal/broadcast"
	"autotrader/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTest creates an isolated in-memory ledger with one funded user and
// one known instrument.
func setupTest(t *testing.T, balance float64) (*Executor, *gorm.DB, uint) {
	// Use a new, non-shared in-memory database for each test to ensure isolation.
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Every pooled connection to ::memory: is a distinct database, so pin
	// the pool to one connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&models.User{}, &models.Instrument{}, &models.Position{}, &models.Trade{})
	require.NoError(t, err)

	user := models.User{Name: "tester", TradingBalance: balance}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&models.Instrument{Symbol: "BTCUSDT", CurrentPrice: 50000}).Error)

	exec := New(db, zap.NewNop(), nil)
	return exec, db, user.ID
}

func loadTestUser(t *testing.T, db *gorm.DB, id uint) models.User {
	var user models.User
	require.NoError(t, db.First(&user, id).Error)
	return user
}

func TestExecuteBuy_Success(t *testing.T) {
	exec, db, userID := setupTest(t, 1000)

	result, err := exec.ExecuteBuy(userID, "BTCUSDT", 0.01, 50000, false)

	require.NoError(t, err)
	assert.Equal(t, models.SideBuy, result.Trade.Side)
	assert.Equal(t, 500.0, result.Trade.Total)
	assert.Equal(t, 500.0, result.TradingBalance)
	require.NotNil(t, result.Position)
	assert.InDelta(t, 0.01, result.Position.Quantity, 1e-9)
	assert.InDelta(t, 50000.0, result.Position.AverageCost, 1e-9)

	user := loadTestUser(t, db, userID)
	assert.Equal(t, 500.0, user.TradingBalance)

	var count int64
	db.Model(&models.Trade{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestExecuteBuy_Validation(t *testing.T) {
	exec, _, userID := setupTest(t, 100)

	t.Run("InsufficientBalance", func(t *testing.T) {
		_, err := exec.ExecuteBuy(userID, "BTCUSDT", 1, 50000, false)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("InvalidQuantity", func(t *testing.T) {
		_, err := exec.ExecuteBuy(userID, "BTCUSDT", 0, 50000, false)
		assert.ErrorIs(t, err, ErrInvalidQuantity)

		_, err = exec.ExecuteBuy(userID, "BTCUSDT", -1, 50000, false)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("UnknownInstrument", func(t *testing.T) {
		_, err := exec.ExecuteBuy(userID, "DOGEUSDT", 1, 1, false)
		assert.ErrorIs(t, err, ErrUnknownInstrument)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		_, err := exec.ExecuteBuy(9999, "BTCUSDT", 0.001, 50000, false)
		assert.ErrorIs(t, err, ErrUnknownUser)
	})
}

func TestExecuteSell_Validation(t *testing.T) {
	exec, _, userID := setupTest(t, 1000)

	t.Run("NoPosition", func(t *testing.T) {
		_, err := exec.ExecuteSell(userID, "BTCUSDT", 0.01, 50000, false)
		assert.ErrorIs(t, err, ErrInsufficientPosition)
	})

	t.Run("MoreThanHeld", func(t *testing.T) {
		_, err := exec.ExecuteBuy(userID, "BTCUSDT", 0.01, 50000, false)
		require.NoError(t, err)

		_, err = exec.ExecuteSell(userID, "BTCUSDT", 0.02, 50000, false)
		assert.ErrorIs(t, err, ErrInsufficientPosition)
	})
}

// TestTradeScenario walks the full account lifecycle: a rejected
// over-sized buy, a successful buy, and a profitable full sell that
// routes cost basis and gain to the right balances.
func TestTradeScenario(t *testing.T) {
	exec, db, userID := setupTest(t, 20.00)

	// Buy 0.001 BTC at 50000 costs 50.00: rejected.
	_, err := exec.ExecuteBuy(userID, "BTCUSDT", 0.001, 50000, false)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Buy 0.0002 BTC at 50000 costs 10.00: accepted.
	result, err := exec.ExecuteBuy(userID, "BTCUSDT", 0.0002, 50000, false)
	require.NoError(t, err)
	assert.InDelta(t, 10.00, result.TradingBalance, 1e-9)
	assert.InDelta(t, 0.0002, result.Position.Quantity, 1e-9)
	assert.InDelta(t, 50000.0, result.Position.AverageCost, 1e-9)

	// Price rises to 55000; sell the entire position. Proceeds 11.00:
	// 10.00 cost basis back to trading, 1.00 gain to profit.
	result, err = exec.ExecuteSell(userID, "BTCUSDT", 0.0002, 55000, false)
	require.NoError(t, err)
	assert.InDelta(t, 20.00, result.TradingBalance, 1e-9)
	assert.InDelta(t, 1.00, result.ProfitBalance, 1e-9)
	assert.InDelta(t, 1.00, result.Trade.RealizedPnl, 1e-9)
	assert.Nil(t, result.Position)

	user := loadTestUser(t, db, userID)
	assert.InDelta(t, 20.00, user.TradingBalance, 1e-9)
	assert.InDelta(t, 1.00, user.ProfitBalance, 1e-9)

	// Position row is gone, not left at dust.
	var count int64
	db.Model(&models.Position{}).Where("user_id = ?", userID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestExecuteSell_LossReducesPrincipalNotProfit(t *testing.T) {
	exec, db, userID := setupTest(t, 100)

	_, err := exec.ExecuteBuy(userID, "BTCUSDT", 0.001, 50000, false) // costs 50
	require.NoError(t, err)

	result, err := exec.ExecuteSell(userID, "BTCUSDT", 0.001, 40000, false) // proceeds 40
	require.NoError(t, err)

	// The 10.00 loss comes out of the returned principal; the profit
	// balance is never debited.
	assert.InDelta(t, 90.00, result.TradingBalance, 1e-9)
	assert.InDelta(t, 0.0, result.ProfitBalance, 1e-9)
	assert.InDelta(t, -10.00, result.Trade.RealizedPnl, 1e-9)

	user := loadTestUser(t, db, userID)
	assert.GreaterOrEqual(t, user.TradingBalance, 0.0)
	assert.GreaterOrEqual(t, user.ProfitBalance, 0.0)
}

// TestBalancesStayNonNegative runs a mixed operation sequence and checks
// the invariant after every step.
func TestBalancesStayNonNegative(t *testing.T) {
	exec, db, userID := setupTest(t, 50)

	steps := []func() error{
		func() error { _, err := exec.ExecuteBuy(userID, "BTCUSDT", 0.0005, 50000, false); return err },  // -25
		func() error { _, err := exec.ExecuteBuy(userID, "BTCUSDT", 0.001, 50000, false); return err },   // rejected
		func() error { _, err := exec.ExecuteSell(userID, "BTCUSDT", 0.0002, 30000, false); return err }, // loss
		func() error { _, err := exec.ExecuteSell(userID, "BTCUSDT", 0.0003, 70000, false); return err }, // gain
		func() error { _, err := exec.Deposit(userID, 10); return err },
		func() error { _, err := exec.ExecuteSell(userID, "BTCUSDT", 1, 50000, false); return err }, // rejected
	}

	for i, step := range steps {
		_ = step()
		user := loadTestUser(t, db, userID)
		assert.GreaterOrEqual(t, user.TradingBalance, 0.0, "trading balance negative after step %d", i)
		assert.GreaterOrEqual(t, user.ProfitBalance, 0.0, "profit balance negative after step %d", i)
	}
}

// TestConcurrentSells races 100 sells against a position that only
// supports one: exactly one must win.
func TestConcurrentSells(t *testing.T) {
	exec, _, userID := setupTest(t, 1000)

	_, err := exec.ExecuteBuy(userID, "BTCUSDT", 0.01, 50000, false)
	require.NoError(t, err)

	const attempts = 100
	var wg sync.WaitGroup
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := exec.ExecuteSell(userID, "BTCUSDT", 0.01, 55000, true)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes, rejections := 0, 0
	for err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientPosition)
			rejections++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, rejections)
}

func TestDeposit(t *testing.T) {
	exec, _, userID := setupTest(t, 10)

	balance, err := exec.Deposit(userID, 15)
	require.NoError(t, err)
	assert.Equal(t, 25.0, balance)

	_, err = exec.Deposit(userID, -5)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestResetAccount(t *testing.T) {
	exec, db, userID := setupTest(t, 1000)

	_, err := exec.ExecuteBuy(userID, "BTCUSDT", 0.01, 50000, false)
	require.NoError(t, err)

	require.NoError(t, exec.ResetAccount(userID, 500))

	user := loadTestUser(t, db, userID)
	assert.Equal(t, 500.0, user.TradingBalance)
	assert.Equal(t, 0.0, user.ProfitBalance)

	var positions int64
	db.Model(&models.Position{}).Where("user_id = ?", userID).Count(&positions)
	assert.Equal(t, int64(0), positions)

	// The trade history survives a reset.
	var trades int64
	db.Model(&models.Trade{}).Where("user_id = ?", userID).Count(&trades)
	assert.Equal(t, int64(1), trades)
}

func TestPublishesEventAfterCommit(t *testing.T) {
	exec, _, userID := setupTest(t, 1000)
	hub := broadcast.NewHub(zap.NewNop(), 8)
	exec.hub = hub

	_, events := hub.Subscribe()

	result, err := exec.ExecuteBuy(userID, "BTCUSDT", 0.001, 50000, false)
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, result.Trade.ID, ev.Trade.ID)
	assert.Equal(t, result.TradingBalance, ev.TradingBalance)
	require.NotNil(t, ev.Position)
	assert.InDelta(t, 0.001, ev.Position.Quantity, 1e-9)
}
