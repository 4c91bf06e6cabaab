package marketdata

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Poller periodically pulls quotes from the feed into the snapshot store.
// A failed poll means "no update this cycle": the error is logged and the
// next interval retries naturally, so no backoff is layered on top.
type Poller struct {
	client   FeedClient
	store    *SnapshotStore
	interval time.Duration
	logger   *zap.Logger
}

// NewPoller creates a poller for the given feed client and store.
func NewPoller(client FeedClient, store *SnapshotStore, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		client:   client,
		store:    store,
		interval: interval,
		logger:   logger.Named("poller"),
	}
}

// Run polls until the context is cancelled. The first poll happens
// immediately so strategies have prices on the first cycle.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Starting price feed poller", zap.Duration("interval", p.interval))

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping price feed poller")
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	quotes, err := p.client.GetQuotes(ctx)
	if err != nil {
		p.logger.Warn("Price poll failed, keeping previous snapshot", zap.Error(err))
		return
	}
	p.store.Update(quotes)
	p.logger.Debug("Snapshot updated", zap.Int("quotes", len(quotes)))
}
