package sched

import (
	"context"
	"time"
)

// Every calls fn on each tick until ctx is done. Used for cheap gauges such
// as the database pool stats.
func Every(ctx context.Context, interval time.Duration, fn func()) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	fn()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}
