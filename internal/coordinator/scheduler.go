package coordinator

import (
	"context"
	"errors"
	"time"

	"hubspace-go-home/internal/auth"
	"hubspace-go-home/internal/retry"
)

// Run reconciles immediately and then every interval until ctx is done. A
// failed cycle is retried per policy, except for authentication failures,
// which wait for the next tick.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration, policy retry.Policy) {
	c.logger.Info("discovery scheduler started", "interval", interval)
	c.runCycle(ctx, policy)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("discovery scheduler stopped")
			return
		case <-ticker.C:
			c.runCycle(ctx, policy)
		}
	}
}

func (c *Coordinator) runCycle(ctx context.Context, policy retry.Policy) {
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		_, err := c.Reconcile(ctx)
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			return retry.Permanent(err)
		}
		if err != nil && attempt > 1 {
			c.logger.Debug("discovery retry failed", "attempt", attempt, "err", err)
		}
		return err
	})
	if err != nil && ctx.Err() == nil {
		c.logger.Error("discovery cycle failed", "err", err)
	}
}
