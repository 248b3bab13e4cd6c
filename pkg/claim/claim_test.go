package claim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/labrun/pkg/domain"
)

func mustClaim(t *testing.T, c *Claimable, s *Symbol) *Claim {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cl, err := c.Claim(ctx, s, false)
	require.NoError(t, err)
	return cl
}

func requireDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestSymbol_Ancestry(t *testing.T) {
	seq := domain.NewCounter()
	a := NewSymbol("a", seq)
	b := a.Child("b")
	c := b.Child("c")
	other := NewSymbol("x", seq)

	assert.True(t, a.IsAncestorOf(c))
	assert.False(t, c.IsAncestorOf(a))
	assert.False(t, a.IsAncestorOf(a))
	assert.True(t, c.Outranks(a))
	assert.False(t, other.Related(b))
	assert.True(t, b.Related(b))
	assert.Equal(t, "a/b/c", c.String())
	assert.Equal(t, 2, c.Depth())
}

func TestClaim_DescendantWinsRegardlessOfOrder(t *testing.T) {
	seq := domain.NewCounter()
	t.Run("ancestor first", func(t *testing.T) {
		a := NewSymbol("a", seq)
		b := a.Child("b")
		c := NewClaimable("valve")

		clA := mustClaim(t, c, a)
		clB := mustClaim(t, c, b)

		reason, err := clA.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, LostToDescendant, reason)
		assert.False(t, clA.Valid())
		assert.Same(t, clB, c.Owner())
	})

	t.Run("descendant first", func(t *testing.T) {
		a := NewSymbol("a", seq)
		b := a.Child("b")
		c := NewClaimable("valve")

		clB := mustClaim(t, c, b)
		reqA := c.Enqueue(a, false)
		c.Transfer()

		assert.Same(t, clB, c.Owner())
		assert.Equal(t, []*Symbol{a}, c.Pending())
		select {
		case <-reqA.Done():
			t.Fatal("ancestor must not be granted over its descendant")
		default:
		}
	})

	t.Run("queued together", func(t *testing.T) {
		a := NewSymbol("a", seq)
		b := a.Child("b")
		c := NewClaimable("valve")

		reqA := c.Enqueue(a, false)
		reqB := c.Enqueue(b, false)
		c.Transfer()

		requireDone(t, reqB.Done())
		clB, err := reqB.Result()
		require.NoError(t, err)
		assert.Same(t, clB, c.Owner())
		assert.Equal(t, []*Symbol{reqA.Symbol()}, c.Pending())
	})
}

func TestClaim_UnrelatedErrClaimantFailsOnce(t *testing.T) {
	seq := domain.NewCounter()
	a := NewSymbol("a", seq)
	x := NewSymbol("x", seq)
	c := NewClaimable("pump")
	mustClaim(t, c, a)

	_, err := c.Claim(context.Background(), x, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransferFailUnknown)
	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "claim.transfer_fail_unknown", terr.Diagnostic().ID)
	assert.Empty(t, c.Pending())

	c.Transfer()
	assert.Empty(t, c.Pending())
}

func TestClaim_AncestorOfOwnerFailsWithChildError(t *testing.T) {
	seq := domain.NewCounter()
	a := NewSymbol("a", seq)
	b := a.Child("b")
	c := NewClaimable("pump")
	mustClaim(t, c, b)

	_, err := c.Claim(context.Background(), a, true)
	assert.ErrorIs(t, err, ErrTransferFailChild)
	assert.Empty(t, c.Pending())
}

func TestClaim_TransferOnEmptyQueueIsNoop(t *testing.T) {
	seq := domain.NewCounter()
	a := NewSymbol("a", seq)
	c := NewClaimable("pump")
	cl := mustClaim(t, c, a)

	c.Transfer()

	assert.Same(t, cl, c.Owner())
	assert.True(t, cl.Valid())
	select {
	case <-cl.Lost():
		t.Fatal("owner lost the claim")
	default:
	}
}

func TestClaim_DescendantWinsAndUnrelatedErrFails(t *testing.T) {
	seq := domain.NewCounter()
	a := NewSymbol("a", seq)
	b := a.Child("b")
	x := NewSymbol("x", seq)
	cx := x.Child("c")
	c := NewClaimable("microscope")

	clA := mustClaim(t, c, a)
	reqB := c.Enqueue(b, false)
	reqC := c.Enqueue(cx, true)
	c.Transfer()

	requireDone(t, reqB.Done())
	clB, err := reqB.Result()
	require.NoError(t, err)
	assert.Same(t, clB, c.Owner())

	requireDone(t, reqC.Done())
	_, err = reqC.Result()
	assert.ErrorIs(t, err, ErrTransferFailUnknown)

	assert.Equal(t, LostToDescendant, clA.Reason())
	assert.Empty(t, c.Pending())
}

func TestClaim_EnqueueIsIdempotent(t *testing.T) {
	seq := domain.NewCounter()
	a := NewSymbol("a", seq)
	b := NewSymbol("b", seq)
	c := NewClaimable("pump")
	cl := mustClaim(t, c, a)

	r1 := c.Enqueue(b, false)
	r2 := c.Enqueue(b, false)
	assert.Same(t, r1, r2)
	assert.Len(t, c.Pending(), 1)

	own := c.Enqueue(a, false)
	got, err := own.Result()
	require.NoError(t, err)
	assert.Same(t, cl, got)
}

func TestClaim_ReleaseSchedulesTransfer(t *testing.T) {
	seq := domain.NewCounter()
	var mu sync.Mutex
	var scheduled []func()
	c := NewClaimable("pump",
		WithAutoTransfer(true),
		WithScheduler(func(f func()) {
			mu.Lock()
			scheduled = append(scheduled, f)
			mu.Unlock()
		}),
	)
	a := NewSymbol("a", seq)
	x := NewSymbol("x", seq)

	clA := mustClaim(t, c, a)
	reqX := c.Enqueue(x, false)
	c.Transfer()

	clA.Release()
	assert.Equal(t, LostReleased, clA.Reason())
	assert.Nil(t, c.Owner(), "re-arbitration must not run inline")

	mu.Lock()
	require.Len(t, scheduled, 1)
	f := scheduled[0]
	mu.Unlock()
	f()

	requireDone(t, reqX.Done())
	clX, err := reqX.Result()
	require.NoError(t, err)
	assert.Same(t, clX, c.Owner())
}

func TestClaim_ForceClaimDeposesOwner(t *testing.T) {
	seq := domain.NewCounter()
	a := NewSymbol("a", seq)
	admin := NewSymbol("admin", seq)
	c := NewClaimable("pump")
	clA := mustClaim(t, c, a)

	forced := c.ForceClaim(admin)

	assert.Same(t, forced, c.Owner())
	assert.Equal(t, LostToForce, clA.Reason())
}

func TestClaim_CancelWithdrawsRequest(t *testing.T) {
	seq := domain.NewCounter()
	a := NewSymbol("a", seq)
	x := NewSymbol("x", seq)
	c := NewClaimable("pump")
	mustClaim(t, c, a)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Claim(ctx, x, false)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, c.Pending())
}

func TestClaim_ForceClaimRejectsQueuedErrClaimants(t *testing.T) {
	seq := domain.NewCounter()
	a := NewSymbol("a", seq)
	admin := NewSymbol("admin", seq)
	c := NewClaimable("pump")
	mustClaim(t, c, a)

	reqB := c.Enqueue(a.Child("b"), true)
	reqY := c.Enqueue(admin.Child("y"), false)
	c.ForceClaim(admin)

	requireDone(t, reqB.Done())
	_, err := reqB.Result()
	assert.ErrorIs(t, err, ErrTransferFailUnknown)
	assert.Equal(t, []*Symbol{reqY.Symbol()}, c.Pending(), "requests without err keep waiting")
}

func TestClaim_WatchOwnerSeesEveryChange(t *testing.T) {
	seq := domain.NewCounter()
	a := NewSymbol("a", seq)
	b := a.Child("b")
	c := NewClaimable("valve")

	var mu sync.Mutex
	var owners []string
	unwatch := c.WatchOwner(func() {
		name := "-"
		if o := c.Owner(); o != nil {
			name = o.Symbol().String()
		}
		mu.Lock()
		owners = append(owners, name)
		mu.Unlock()
	})

	mustClaim(t, c, a)
	clB := mustClaim(t, c, b)
	clB.Release()
	unwatch()
	mustClaim(t, c, a)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "a/b", "-"}, owners)
}
