package redis

import (
	"context"
	"encoding/json"
	"time"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/domain/ports/repository"
	"dental-backoffice/internal/infra/metrics"
)

const LastResultKey = "eligibility:last_result"

var _ repository.LastResultCache = (*LastResultCache)(nil)

// LastResultCache keeps the single last-result slot in one Redis key so it
// survives a restart of a single-instance deployment.
type LastResultCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewLastResultCache(client RedisClient, ttl time.Duration) *LastResultCache {
	return &LastResultCache{client: client, ttl: ttl}
}

func (c *LastResultCache) Store(ctx context.Context, r *model.LastResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, LastResultKey, data, c.ttl)
}

func (c *LastResultCache) Get(ctx context.Context, sessionID string) (*model.LastResult, error) {
	data, err := c.client.Get(ctx, LastResultKey)
	if err != nil {
		if IsNil(err) {
			metrics.IncCacheRequest("redis", "miss")
			return nil, domain.ErrNotFound
		}
		metrics.IncCacheRequest("redis", "error")
		return nil, err
	}
	var r model.LastResult
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		metrics.IncCacheRequest("redis", "error")
		return nil, err
	}
	if r.SessionID != sessionID {
		metrics.IncCacheRequest("redis", "miss")
		return nil, domain.ErrNotFound
	}
	metrics.IncCacheRequest("redis", "hit")
	return &r, nil
}
