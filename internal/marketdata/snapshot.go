// Package marketdata owns the market snapshot: the latest price and 24h
// change per instrument, plus a bounded tick history for momentum
// detection. The store is updated by the feed poller and read by the
// strategy engine and the accounting views; its write path is independent
// of the ledger, so price updates never block trading.
package marketdata

import (
	"sync"

	"autotrader/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// defaultHistoryCap bounds the per-symbol tick history. At a 30s poll
// interval this covers roughly four hours.
const defaultHistoryCap = 480

// SnapshotStore holds the latest known quote per symbol.
type SnapshotStore struct {
	logger     *zap.Logger
	db         *gorm.DB // nil in tests that don't need instrument rows
	historyCap int

	mu      sync.RWMutex
	quotes  map[string]Quote
	history map[string][]float64
}

// NewSnapshotStore creates an empty snapshot store. The database handle is
// used only to lazily upsert instrument rows on first observation; it may
// be nil.
func NewSnapshotStore(logger *zap.Logger, db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{
		logger:     logger.Named("snapshot"),
		db:         db,
		historyCap: defaultHistoryCap,
		quotes:     make(map[string]Quote),
		history:    make(map[string][]float64),
	}
}

// Update commits a batch of quotes and appends each price to the symbol's
// tick history. Instrument rows are created lazily on first observation.
func (s *SnapshotStore) Update(quotes []Quote) {
	s.mu.Lock()
	for _, q := range quotes {
		s.quotes[q.Symbol] = q
		ticks := append(s.history[q.Symbol], q.Price)
		if len(ticks) > s.historyCap {
			ticks = ticks[len(ticks)-s.historyCap:]
		}
		s.history[q.Symbol] = ticks
	}
	s.mu.Unlock()

	if s.db == nil {
		return
	}
	for _, q := range quotes {
		instrument := models.Instrument{Symbol: q.Symbol}
		if err := s.db.FirstOrCreate(&instrument, models.Instrument{Symbol: q.Symbol}).Error; err != nil {
			s.logger.Error("Failed to upsert instrument", zap.String("symbol", q.Symbol), zap.Error(err))
			continue
		}
		updates := map[string]interface{}{
			"current_price":   q.Price,
			"price_change24h": q.Change24hPercent,
			"last_tick":       q.At.Unix(),
		}
		if err := s.db.Model(&instrument).Updates(updates).Error; err != nil {
			s.logger.Error("Failed to update instrument", zap.String("symbol", q.Symbol), zap.Error(err))
		}
	}
}

// Get returns the latest quote for a symbol.
func (s *SnapshotStore) Get(symbol string) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	return q, ok
}

// All returns a copy of the latest quotes keyed by symbol.
func (s *SnapshotStore) All() map[string]Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Quote, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v
	}
	return out
}

// Prices returns the latest price per symbol, the shape the accounting
// views consume.
func (s *SnapshotStore) Prices() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v.Price
	}
	return out
}

// History returns a copy of the recent ticks for a symbol, oldest first.
func (s *SnapshotStore) History(symbol string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticks := s.history[symbol]
	out := make([]float64, len(ticks))
	copy(out, ticks)
	return out
}
