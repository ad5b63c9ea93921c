package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostAndWait(t *testing.T) {
	pool := NewPool(nil)
	defer pool.Close()

	var ran atomic.Bool
	h, err := pool.Post(func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, h.Wait())
	assert.True(t, ran.Load())

	boom := errors.New("boom")
	h, err = pool.Post(func(context.Context) error { return boom })
	require.NoError(t, err)
	assert.ErrorIs(t, h.Wait(), boom)
}

func TestTasksCanPostAndWaitForTasks(t *testing.T) {
	pool := NewPool(nil)
	defer pool.Close()

	h, err := pool.Post(func(context.Context) error {
		inner, err := pool.Post(func(context.Context) error { return nil })
		if err != nil {
			return err
		}
		return inner.Wait()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.WaitContext(ctx))
}

func TestPanicBecomesError(t *testing.T) {
	pool := NewPool(nil)
	defer pool.Close()

	h, err := pool.Post(func(context.Context) error { panic("kaboom") })
	require.NoError(t, err)

	err = h.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestWaitContextCancelled(t *testing.T) {
	pool := NewPool(nil)
	defer pool.Close()

	release := make(chan struct{})
	h, err := pool.Post(func(context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.WaitContext(ctx), context.Canceled)

	close(release)
	require.NoError(t, h.Wait())
}

func TestCloseCancelsTasksAndRefusesPosts(t *testing.T) {
	pool := NewPool(nil)

	started := make(chan struct{})
	h, err := pool.Post(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	pool.Close()
	pool.Close()

	assert.ErrorIs(t, h.Wait(), context.Canceled)

	_, err = pool.Post(func(context.Context) error { return nil })
	assert.True(t, vfs.IsCode(err, vfs.ErrIO))
}
