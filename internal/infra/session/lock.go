package session

import (
	"context"
	"sync"
	"time"

	"dental-backoffice/internal/domain/ports/repository"
)

var _ repository.CompletionLock = (*MemoryLock)(nil)

// MemoryLock is the process-local CompletionLock.
type MemoryLock struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{claims: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLock) Claim(_ context.Context, sessionID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, exp := range l.claims {
		if now.After(exp) {
			delete(l.claims, id)
		}
	}
	if _, held := l.claims[sessionID]; held {
		return false, nil
	}
	l.claims[sessionID] = now.Add(ttl)
	return true, nil
}
