package latch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch_SetReleasesWaiters(t *testing.T) {
	l := New(false)
	assert.False(t, l.IsSet())

	done := make(chan error, 1)
	go func() { done <- l.Wait(context.Background()) }()

	l.Set()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
	assert.True(t, l.IsSet())
}

func TestLatch_ClearRearms(t *testing.T) {
	l := New(true)
	require.NoError(t, l.Wait(context.Background()))

	l.Clear()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)

	l.Set()
	l.Set()
	assert.NoError(t, l.Wait(context.Background()))
}
