package sched

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"dental-backoffice/internal/infra/metrics"
)

// Locker keeps two instances sharing a download volume from sweeping at once.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

const sweepLockKey = "eligibility:sweeper"

// DownloadSweeper periodically removes agent artifacts the completion
// pipeline never got to clean up (crashed pollers, sessions that timed out).
type DownloadSweeper struct {
	dir      string
	interval time.Duration
	maxAge   time.Duration
	locker   Locker
	now      func() time.Time
	log      *zerolog.Logger
}

// NewDownloadSweeper builds the sweeper. locker may be nil for single-instance runs.
func NewDownloadSweeper(dir string, interval, maxAge time.Duration, locker Locker, logger *zerolog.Logger) *DownloadSweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	l := logger.With().Str("component", "DownloadSweeper").Logger()
	return &DownloadSweeper{dir: dir, interval: interval, maxAge: maxAge, locker: locker, now: time.Now, log: &l}
}

func (w *DownloadSweeper) Run(ctx context.Context) error {
	w.log.Info().Str("dir", w.dir).Dur("max_age", w.maxAge).Msg("Starting download sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping download sweeper")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.Sweep(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("download sweep error")
			}
			if n > 0 {
				metrics.AddFilesSwept(n)
				w.log.Info().Int("count", n).Msg("stale downloads removed")
			}
		}
	}
}

// Sweep removes regular files older than maxAge. Subdirectories are left alone.
func (w *DownloadSweeper) Sweep(ctx context.Context) (int, error) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, sweepLockKey, w.interval)
		if err != nil {
			w.log.Debug().Err(err).Msg("sweep skipped, lock not acquired")
			return 0, nil
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("failed to release sweeper lock")
			}
		}()
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := w.now().Add(-w.maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
