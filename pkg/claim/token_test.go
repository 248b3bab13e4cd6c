package claim

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/labrun/pkg/domain"
)

func TestToken_WaitReturnsOnceOwned(t *testing.T) {
	seq := domain.NewCounter()
	c := NewClaimable("valve", WithAutoTransfer(true))
	tok := NewToken(c, NewSymbol("a", seq))
	defer tok.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tok.Wait(ctx, false))
	assert.True(t, tok.Owned())
	require.NoError(t, tok.Wait(ctx, true))
}

func TestToken_ReclaimsAfterDescendantReleases(t *testing.T) {
	seq := domain.NewCounter()
	c := NewClaimable("valve", WithAutoTransfer(true))
	a := NewSymbol("a", seq)
	var changes atomic.Int32
	tok := NewToken(c, a, OnChange(func(bool) { changes.Add(1) }))
	defer tok.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tok.Wait(ctx, false))

	child, err := c.Claim(ctx, a.Child("b"), false)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !tok.Owned() }, time.Second, time.Millisecond)

	child.Release()
	require.NoError(t, tok.Wait(ctx, false))
	assert.True(t, tok.Owned())
	assert.Eventually(t, func() bool { return changes.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestToken_WaitWithErrFailsFastOnUnrelatedOwner(t *testing.T) {
	seq := domain.NewCounter()
	c := NewClaimable("valve")
	_, err := c.Claim(context.Background(), NewSymbol("x", seq), false)
	require.NoError(t, err)

	tok := NewToken(c, NewSymbol("a", seq))
	defer tok.Cancel()

	err = tok.Wait(context.Background(), true)
	assert.ErrorIs(t, err, ErrTransferFailUnknown)
}

func TestToken_CancelFailsWaiters(t *testing.T) {
	seq := domain.NewCounter()
	c := NewClaimable("valve")
	_, err := c.Claim(context.Background(), NewSymbol("x", seq), false)
	require.NoError(t, err)

	tok := NewToken(c, NewSymbol("a", seq))
	res := make(chan error, 1)
	go func() { res <- tok.Wait(context.Background(), false) }()

	time.Sleep(10 * time.Millisecond)
	tok.Cancel()

	select {
	case err := <-res:
		assert.ErrorIs(t, err, ErrTokenCancelled)
	case <-time.After(time.Second):
		t.Fatal("waiter not failed")
	}
	assert.ErrorIs(t, tok.Wait(context.Background(), false), ErrTokenCancelled)
	assert.Len(t, c.Pending(), 0)
}

func TestToken_CancelReleasesClaim(t *testing.T) {
	seq := domain.NewCounter()
	c := NewClaimable("valve")
	tok := NewToken(c, NewSymbol("a", seq))
	require.NoError(t, tok.Wait(context.Background(), false))

	tok.Cancel()
	assert.Nil(t, c.Owner())
}
