// File: internal/infra/session/registry.go
package session

import (
	"context"
	"sync"

	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/domain/ports/repository"
)

var _ repository.JobRegistry = (*Registry)(nil)

type entry struct {
	job    *model.JobContext
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry maps a live agent session to its job context and, once the poller
// is running, to the poller's cancel func. Entries leave the registry when the
// poller reaches a terminal state.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) Put(sessionID string, job *model.JobContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sessionID]; ok {
		e.job = job
		return
	}
	r.entries[sessionID] = &entry{job: job}
}

func (r *Registry) Get(sessionID string) (*model.JobContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	return e.job, true
}

func (r *Registry) Delete(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}

// SetConnection swaps the job for a copy with the new connection id so
// readers holding the old pointer never see a torn write.
func (r *Registry) SetConnection(sessionID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok || e.job == nil {
		return false
	}
	job := *e.job
	job.ConnectionID = connectionID
	e.job = &job
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Track attaches the poller handle to a session. done must be closed by the
// poller when it returns.
func (r *Registry) Track(sessionID string, cancel context.CancelFunc, done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		e = &entry{}
		r.entries[sessionID] = e
	}
	e.cancel = cancel
	e.done = done
}

// Shutdown cancels every tracked poller and waits for them to return or for
// ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	var waits []chan struct{}
	for _, e := range r.entries {
		if e.cancel != nil {
			e.cancel()
		}
		if e.done != nil {
			waits = append(waits, e.done)
		}
	}
	r.mu.Unlock()

	for _, d := range waits {
		select {
		case <-d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
