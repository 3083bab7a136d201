// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/infra/metrics"
)

// Task is one long-running unit, typically a session poller.
type Task func(ctx context.Context) error

// Pool bounds how many tasks run at once. Submission never blocks: when every
// slot is taken the caller gets domain.ErrPoolSaturated and decides what to do.
// Tasks receive the pool context, so cancelling it stops them all.
type Pool struct {
	ctx    context.Context
	slots  chan struct{}
	wg     sync.WaitGroup
	logger *zerolog.Logger
}

func NewPool(ctx context.Context, size int, logger *zerolog.Logger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU() * 8
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{ctx: ctx, slots: make(chan struct{}, size), logger: &l}
}

// Slot is a reserved place in the pool. Exactly one of Go or Release must be called.
type Slot struct {
	p    *Pool
	once sync.Once
}

// Reserve takes a slot without starting anything, so callers can claim
// capacity before doing work that would be wasted if no slot were left.
func (p *Pool) Reserve() (*Slot, error) {
	select {
	case p.slots <- struct{}{}:
		p.wg.Add(1)
		metrics.SetActivePollers(len(p.slots))
		return &Slot{p: p}, nil
	default:
		return nil, domain.ErrPoolSaturated
	}
}

// Go runs task on the reserved slot and frees it when the task returns.
func (s *Slot) Go(name string, task Task) {
	if task == nil {
		s.Release()
		return
	}
	go func() {
		defer s.Release()
		defer func() {
			if r := recover(); r != nil {
				s.p.logger.Error().
					Str("task", name).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", debug.Stack()).
					Msg("task panicked")
			}
		}()
		if err := task(s.p.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.p.logger.Warn().Err(err).Str("task", name).Msg("task error")
		}
	}()
}

func (s *Slot) Release() {
	s.once.Do(func() {
		<-s.p.slots
		metrics.SetActivePollers(len(s.p.slots))
		s.p.wg.Done()
	})
}

// Go reserves a slot and runs task on it.
func (p *Pool) Go(name string, task Task) error {
	s, err := p.Reserve()
	if err != nil {
		return err
	}
	s.Go(name, task)
	return nil
}

func (p *Pool) Active() int { return len(p.slots) }

func (p *Pool) Cap() int { return cap(p.slots) }

// Wait blocks until every running task has returned or ctx expires.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
