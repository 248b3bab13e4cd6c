package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimNode_WriteNotifiesWatchers(t *testing.T) {
	n := NewSimNode("valve.open", false, WithLatency(time.Millisecond))
	defer n.Close()

	seen := make(chan any, 4)
	unwatch := n.WatchValue(func(v any) { seen <- v })

	ctx := context.Background()
	require.NoError(t, n.Write(ctx, true))

	v, err := n.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v)
	assert.Equal(t, true, <-seen)

	unwatch()
	require.NoError(t, n.Write(ctx, false))
	assert.Len(t, seen, 0)
}

func TestSimNode_Disconnected(t *testing.T) {
	n := NewSimNode("pump.rate", 0, WithDisconnected())
	defer n.Close()

	assert.False(t, n.Connected())
	assert.ErrorIs(t, n.Write(context.Background(), 5), ErrDisconnected)

	n.SetConnected(true)
	require.NoError(t, n.Write(context.Background(), 5))
	assert.Equal(t, 5, n.Value())
}

func TestSimNode_ContextCancelsSlowWrite(t *testing.T) {
	n := NewSimNode("stage.x", 0, WithLatency(time.Second))
	defer n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, n.Write(ctx, 1), context.DeadlineExceeded)
}

func TestSimNode_ClosedRejectsOperations(t *testing.T) {
	n := NewSimNode("stage.y", 0)
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	_, err := n.Read(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := NewSimNode("b.node", 1)
	b := NewSimNode("a.node", 2)
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	assert.ErrorIs(t, r.Register(a), ErrDuplicate)

	got, err := r.Lookup("b.node")
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = r.Lookup("missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	assert.Equal(t, []string{"a.node", "b.node"}, r.IDs())
	require.NoError(t, r.Close())
}
