package repository

import (
	"context"
	"fmt"
	"time"

	"dental-backoffice/internal/domain/model"
)

// JobRegistry keeps the context of every in-flight session of this process.
type JobRegistry interface {
	Put(sessionID string, job *model.JobContext)
	Get(sessionID string) (*model.JobContext, bool)
	Delete(sessionID string)
	Len() int
	// SetConnection re-targets push events; false when the session is gone.
	SetConnection(sessionID, connectionID string) bool
	// Track attaches the running poller so shutdown can cancel it and wait on done.
	Track(sessionID string, cancel context.CancelFunc, done chan struct{})
}

// LastResultCache holds the most recent completion outcome.
type LastResultCache interface {
	Store(ctx context.Context, r *model.LastResult) error
	// Get returns domain.ErrNotFound unless sessionID matches the stored entry.
	Get(ctx context.Context, sessionID string) (*model.LastResult, error)
}

// CompletionLock guarantees the completion pipeline runs at most once per session.
type CompletionLock interface {
	// Claim returns false when another caller already claimed the session.
	Claim(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
}

// RateLimiter counts events per key in a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// UserActionKey is the limiter key for one action of one user.
func UserActionKey(userID int64, action string) string {
	return fmt.Sprintf("rate_limit:%d:%s", userID, action)
}
