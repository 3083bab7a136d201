package session

import (
	"context"
	"encoding/json"
	"sync"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/domain/ports/repository"
	"dental-backoffice/internal/infra/metrics"
)

var _ repository.LastResultCache = (*LastResultStore)(nil)

// LastResultStore is the in-process single-slot cache. Stored values are
// deep-copied through JSON so callers cannot mutate the slot.
type LastResultStore struct {
	mu   sync.RWMutex
	slot []byte
	id   string
}

func NewLastResultStore() *LastResultStore { return &LastResultStore{} }

func (s *LastResultStore) Store(_ context.Context, r *model.LastResult) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.slot, s.id = b, r.SessionID
	s.mu.Unlock()
	return nil
}

func (s *LastResultStore) Get(_ context.Context, sessionID string) (*model.LastResult, error) {
	s.mu.RLock()
	b, id := s.slot, s.id
	s.mu.RUnlock()
	if b == nil || id != sessionID {
		metrics.IncCacheRequest("memory", "miss")
		return nil, domain.ErrNotFound
	}
	var out model.LastResult
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	metrics.IncCacheRequest("memory", "hit")
	return &out, nil
}
