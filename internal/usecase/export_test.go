package usecase

import (
	"context"
	"time"
)

// SetClock replaces the poller's clock and sleep so tests run instantly.
func (p *SessionPoller) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	p.now = now
	p.sleep = sleep
}

var ParseDOB = parseDOB
