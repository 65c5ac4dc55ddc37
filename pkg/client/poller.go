package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/abidjan-digital/declaration-api/internal/dto"
)

// DefaultPollInterval matches the server-side cache TTL for pending counts.
const DefaultPollInterval = 30 * time.Second

// PendingPoller periodically refreshes a commissariat's pending counter and
// hands each reading to a callback. Poll failures are logged and the loop
// keeps going; the next tick gets a fresh chance.
type PendingPoller struct {
	client         *Client
	commissariatID string
	interval       time.Duration
	logger         *zap.Logger
	onCount        func(dto.PendingCountResponse)
}

// NewPendingPoller builds a poller for one commissariat. A non-positive
// interval falls back to DefaultPollInterval.
func NewPendingPoller(c *Client, commissariatID string, interval time.Duration, logger *zap.Logger, onCount func(dto.PendingCountResponse)) *PendingPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PendingPoller{
		client:         c,
		commissariatID: commissariatID,
		interval:       interval,
		logger:         logger,
		onCount:        onCount,
	}
}

// Run polls until the context is cancelled. The first poll fires
// immediately so the caller is not blind for a full interval after opening
// the dashboard. Every callback is dispatched from this goroutine: once Run
// returns, no further callback can fire, so callers who wait for Run to
// return before reusing observer state never see a late update.
func (p *PendingPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if res := p.poll(ctx); res != nil && ctx.Err() == nil && p.onCount != nil {
			p.onCount(*res)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *PendingPoller) poll(ctx context.Context) *dto.PendingCountResponse {
	res, err := p.client.PendingCount(ctx, p.commissariatID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("pending count poll failed",
				zap.String("commissariat_id", p.commissariatID), zap.Error(err))
		}
		return nil
	}
	return res
}
