package devicestate

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/labrun/pkg/claim"
	"github.com/aretw0/labrun/pkg/device"
	"github.com/aretw0/labrun/pkg/state"
)

type scope struct {
	name   string
	parent *scope
}

func (s *scope) StateParent() state.Handle {
	if s.parent == nil {
		return nil
	}
	return s.parent
}

func (s *scope) Name() string { return s.name }

func fastBackoff() backoff.BackOff {
	return backoff.NewConstantBackOff(2 * time.Millisecond)
}

func setup(t *testing.T, nodes ...*device.SimNode) *state.Manager {
	t.Helper()
	reg := device.NewRegistry()
	for _, n := range nodes {
		require.NoError(t, reg.Register(n))
	}
	t.Cleanup(func() { _ = reg.Close() })
	return state.NewManager(state.WithConsumer(Namespace, NewConsumer(reg, WithBackoff(fastBackoff))))
}

func sharedNode(id string, initial any, opts ...device.SimOption) *device.SimNode {
	opts = append(opts, device.WithClaimOptions(claim.WithAutoTransfer(true)))
	return device.NewSimNode(id, initial, opts...)
}

func applyWithin(t *testing.T, m *state.Manager, h state.Handle, terminal bool) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	failed, err := m.Apply(ctx, h, terminal)
	require.NoError(t, err)
	return failed
}

func TestConsumer_ApplyWritesAndSettles(t *testing.T) {
	valve := sharedNode("valve.open", false)
	m := setup(t, valve)
	root := &scope{name: "root"}
	it, err := m.Add(root, map[string]any{Namespace: map[string]any{"valve.open": true}}, nil)
	require.NoError(t, err)

	assert.False(t, applyWithin(t, m, root, false))
	assert.True(t, it.Settled())
	assert.Equal(t, true, valve.Value())
	assert.Same(t, it.Symbol(), valve.Claimable().Owner().Symbol())

	loc := it.Record().Locations[Namespace].(map[string]NodeLocation)
	assert.True(t, loc["valve.open"].Owned)
	assert.True(t, loc["valve.open"].Settled)

	_, err = m.Suspend(context.Background(), root)
	require.NoError(t, err)
	assert.Nil(t, valve.Claimable().Owner())
}

func TestConsumer_RetriesWhileDisconnected(t *testing.T) {
	pump := sharedNode("pump.rate", 0, device.WithDisconnected())
	m := setup(t, pump)
	root := &scope{name: "root"}
	it, err := m.Add(root, map[string]any{Namespace: map[string]any{"pump.rate": 5}}, nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		pump.SetConnected(true)
	}()

	assert.False(t, applyWithin(t, m, root, false))
	assert.True(t, it.Settled())
	assert.Equal(t, 5, pump.Value())
}

func TestConsumer_NestedScopeBorrowsAndReturns(t *testing.T) {
	valve := sharedNode("valve.open", false)
	m := setup(t, valve)
	outer := &scope{name: "outer"}
	inner := &scope{name: "inner", parent: outer}

	outerItem, err := m.Add(outer, map[string]any{Namespace: map[string]any{"valve.open": false}}, nil)
	require.NoError(t, err)
	innerItem, err := m.Add(inner, map[string]any{Namespace: map[string]any{"valve.open": true}}, nil)
	require.NoError(t, err)

	applyWithin(t, m, outer, false)
	applyWithin(t, m, inner, false)
	assert.True(t, innerItem.Settled())
	assert.Equal(t, true, valve.Value())
	assert.Same(t, innerItem.Symbol(), valve.Claimable().Owner().Symbol())
	assert.True(t, outerItem.Settled(), "a scope lending its node to a descendant stays settled")

	loc := outerItem.Record().Locations[Namespace].(map[string]NodeLocation)
	assert.True(t, loc["valve.open"].Lent)

	_, err = m.Suspend(context.Background(), inner)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		owner := valve.Claimable().Owner()
		return outerItem.Settled() && owner != nil && owner.Symbol() == outerItem.Symbol()
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, false, valve.Value())
}

func TestConsumer_NestedScopesAppliedTogether(t *testing.T) {
	valve := sharedNode("valve.open", false)
	m := setup(t, valve)
	outer := &scope{name: "outer"}
	inner := &scope{name: "inner", parent: outer}

	outerItem, err := m.Add(outer, map[string]any{Namespace: map[string]any{"valve.open": false}}, nil)
	require.NoError(t, err)
	innerItem, err := m.Add(inner, map[string]any{Namespace: map[string]any{"valve.open": true}}, nil)
	require.NoError(t, err)

	assert.False(t, applyWithin(t, m, inner, false))
	assert.True(t, outerItem.Applied())
	assert.True(t, outerItem.Settled())
	assert.Eventually(t, func() bool {
		return innerItem.Settled() && valve.Value() == true
	}, 2*time.Second, time.Millisecond, "the nested scope holds the valve at its own target")
	assert.Same(t, innerItem.Symbol(), valve.Claimable().Owner().Symbol())
}

func TestConsumer_TerminalReleasesAfterSettling(t *testing.T) {
	stage := sharedNode("stage.z", 0.0)
	m := setup(t, stage)
	root := &scope{name: "root"}
	it, err := m.Add(root, map[string]any{Namespace: map[string]any{
		"stage.z": map[string]any{"value": 12.5, "tolerance": 0.1},
	}}, nil)
	require.NoError(t, err)

	applyWithin(t, m, root, true)
	assert.True(t, it.Terminal())
	assert.Eventually(t, func() bool { return stage.Claimable().Owner() == nil }, time.Second, time.Millisecond)
	assert.Equal(t, 12.5, stage.Value())
	assert.True(t, it.Settled())
}

func TestConsumer_UnknownNodeFailsItem(t *testing.T) {
	m := setup(t)
	root := &scope{name: "root"}
	it, err := m.Add(root, map[string]any{Namespace: map[string]any{"ghost": 1}}, nil)
	require.NoError(t, err)

	assert.True(t, applyWithin(t, m, root, false))
	assert.True(t, it.Failed())
	assert.Equal(t, "state.internal", it.Record().Diagnostics[0].ID)
}

func TestDecode(t *testing.T) {
	targets, err := Decode(map[string]any{
		"valve.open": true,
		"stage.z":    map[string]any{"value": 3, "tolerance": "0.5"},
	})
	require.NoError(t, err)
	assert.Equal(t, Target{Value: true}, targets["valve.open"])
	assert.Equal(t, 0.5, targets["stage.z"].Tolerance)
	assert.True(t, targets["stage.z"].Matches(3.4))
	assert.False(t, targets["stage.z"].Matches(4))

	_, err = Decode([]any{1, 2})
	assert.Error(t, err)

	_, err = Decode(map[string]any{"x": map[string]any{"value": 1, "speed": 2}})
	assert.Error(t, err)
}
