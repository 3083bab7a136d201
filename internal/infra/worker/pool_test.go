//go:build !integration

package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/infra/logging"
)

func TestPool_SaturatesWithoutBlocking(t *testing.T) {
	pool := NewPool(context.Background(), 1, logging.Nop())
	release := make(chan struct{})

	require.NoError(t, pool.Go("first", func(ctx context.Context) error {
		<-release
		return nil
	}))

	err := pool.Go("second", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, domain.ErrPoolSaturated)
	assert.Equal(t, 1, pool.Active())

	close(release)
	require.NoError(t, pool.Wait(context.Background()))
	assert.Equal(t, 0, pool.Active())
}

func TestPool_ReserveAndRelease(t *testing.T) {
	pool := NewPool(context.Background(), 1, logging.Nop())

	slot, err := pool.Reserve()
	require.NoError(t, err)
	_, err = pool.Reserve()
	assert.ErrorIs(t, err, domain.ErrPoolSaturated)

	slot.Release()
	slot.Release() // second call is a no-op
	assert.Equal(t, 0, pool.Active())

	slot, err = pool.Reserve()
	require.NoError(t, err)
	slot.Release()
}

func TestPool_CancelStopsTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 4, logging.Nop())
	var stopped int32

	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Go("poller", func(ctx context.Context) error {
			<-ctx.Done()
			atomic.AddInt32(&stopped, 1)
			return ctx.Err()
		}))
	}
	cancel()

	waitCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	require.NoError(t, pool.Wait(waitCtx))
	assert.EqualValues(t, 3, atomic.LoadInt32(&stopped))
}

func TestPool_RecoversPanicsAndFreesSlot(t *testing.T) {
	pool := NewPool(context.Background(), 1, logging.Nop())

	require.NoError(t, pool.Go("boom", func(ctx context.Context) error { panic("boom") }))
	require.NoError(t, pool.Wait(context.Background()))

	require.NoError(t, pool.Go("after", func(ctx context.Context) error { return errors.New("logged only") }))
	require.NoError(t, pool.Wait(context.Background()))
}
