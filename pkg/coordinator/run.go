package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ssdims/ssdims/pkg/log"
)

// Run performs a cycle immediately and then one every scan interval until ctx
// is canceled. Failed cycles are retried on the next tick.
func (c *Coordinator) Run(ctx context.Context) error {
	interval := c.ScanInterval()
	log.Ctx(ctx).InfoContext(ctx, "scheduler starting", slog.Duration("interval", interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).InfoContext(ctx, "scheduler stopping")
			return nil
		case d := <-c.intervalCh:
			log.Ctx(ctx).InfoContext(ctx, "scan interval changed", slog.Duration("interval", d))
			interval = d
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(interval)
		case <-timer.C:
			if _, err := c.Update(ctx); err != nil && errors.Is(err, ErrCycleInProgress) {
				log.Ctx(ctx).DebugContext(ctx, "skipping scheduled cycle", slog.Any("error", err))
			}
			timer.Reset(interval)
		}
	}
}
