package ratelimiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		burst    uint
		allowed  int
	}{
		{"unlimited", 0, 0, 100},
		{"burst of two", time.Hour, 2, 2},
		{"zero burst becomes one", time.Hour, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := New(tt.interval, tt.burst)
			allowed := 0
			for i := 0; i < 100; i++ {
				if rl.Allow() {
					allowed++
				}
			}
			assert.Equal(t, tt.allowed, allowed)
		})
	}
}

func TestWait(t *testing.T) {
	rl := New(10*time.Millisecond, 1)

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	require.NoError(t, rl.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestWaitContextCancellation(t *testing.T) {
	rl := New(time.Hour, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rl.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWaitDeadlineTooShort(t *testing.T) {
	rl := New(time.Hour, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.Error(t, rl.Wait(ctx))
}
