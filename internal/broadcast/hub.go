// Package broadcast fans out ledger state-change events to in-process
// subscribers. Delivery is at-most-once per subscriber with no replay
// buffer: a consumer that falls behind or reconnects must re-fetch full
// state instead of relying on missed events.
package broadcast

import (
	"sync"
	"time"

	"autotrader/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event carries a committed trade together with the user's post-trade
// balances and (possibly deleted) position.
type Event struct {
	ID             string           `json:"id"`
	Trade          models.Trade     `json:"trade"`
	TradingBalance float64          `json:"trading_balance"`
	ProfitBalance  float64          `json:"profit_balance"`
	Position       *models.Position `json:"position,omitempty"` // nil when the position was closed
	At             time.Time        `json:"at"`
}

// Hub is a fan-out registry of event subscribers.
type Hub struct {
	logger *zap.Logger
	buffer int

	mu   sync.RWMutex
	subs map[uuid.UUID]chan Event
}

// NewHub creates a hub whose subscriber channels hold up to buffer events.
func NewHub(logger *zap.Logger, buffer int) *Hub {
	return &Hub{
		logger: logger.Named("broadcast"),
		buffer: buffer,
		subs:   make(map[uuid.UUID]chan Event),
	}
}

// Subscribe registers a new subscriber and returns its identity and
// receive channel. The channel is closed on Unsubscribe.
func (h *Hub) Subscribe() (uuid.UUID, <-chan Event) {
	id := uuid.New()
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", zap.String("id", id.String()))
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		close(ch)
	}
}

// Publish delivers an event to every subscriber without blocking. A
// subscriber whose buffer is full misses the event; it is expected to
// re-fetch full state.
func (h *Hub) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				zap.String("subscriber", id.String()),
				zap.String("event", ev.ID))
		}
	}
}
