// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"dental-backoffice/internal/domain/ports/repository"
)

var ErrLockHeld = errors.New("redis: lock held by another owner")

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

var (
	_ Locker                    = (*RedisLocker)(nil)
	_ repository.CompletionLock = (*RedisLocker)(nil)
)

type RedisLocker struct {
	client RedisClient
	tries  int
	wait   time.Duration
}

func NewLocker(c RedisClient) *RedisLocker {
	return &RedisLocker{client: c, tries: 5, wait: 50 * time.Millisecond}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < l.tries; i++ {
		ok, err := l.client.SetNX(ctx, key, token, ttl)
		if err != nil {
			lastErr = err
		} else if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.wait):
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", ErrLockHeld
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := l.client.CompareAndDelete(ctx, key, token)
	return err
}

func CompletionKey(sessionID string) string {
	return "eligibility:completion:" + sessionID
}

// Claim is a single SETNX: the first caller for a session wins until ttl expires.
func (l *RedisLocker) Claim(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, CompletionKey(sessionID), uuid.NewString(), ttl)
}
