package program

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/labrun/pkg/claim"
	"github.com/aretw0/labrun/pkg/device"
	"github.com/aretw0/labrun/pkg/state"
	"github.com/aretw0/labrun/pkg/state/devicestate"
)

func deviceManager(t *testing.T, nodes ...*device.SimNode) *state.Manager {
	t.Helper()
	reg := device.NewRegistry()
	for _, n := range nodes {
		require.NoError(t, reg.Register(n))
	}
	t.Cleanup(func() { _ = reg.Close() })
	return state.NewManager(state.WithConsumer(devicestate.Namespace, devicestate.NewConsumer(reg)))
}

func TestMaster_StateHoldsDevicesWhileChildRuns(t *testing.T) {
	pump := device.NewSimNode("pump.rate", 0)
	g := newGate()
	m := NewMaster(&StateBlock{
		State: map[string]any{devicestate.Namespace: map[string]any{"pump.rate": 5}},
		Child: &SequenceBlock{Children: []Block{g.block("hold")}},
	}, WithStateManager(deviceManager(t, pump)))
	_, _, errCh := start(t, m)

	awaitMode(t, m, ProcessNormal, 0, 0)
	assert.EqualValues(t, 5, pump.Value())
	assert.NotNil(t, pump.Claimable().Owner())

	close(g.release)
	require.NoError(t, awaitResult(t, errCh))
	assert.Nil(t, pump.Claimable().Owner(), "finished state must release its devices")
	assert.EqualValues(t, 5, pump.Value())
}

func TestMaster_CancelReleasesClaims(t *testing.T) {
	pump := device.NewSimNode("pump.rate", 0)
	g := newGate()
	m := NewMaster(&StateBlock{
		State: map[string]any{devicestate.Namespace: map[string]any{"pump.rate": 7}},
		Child: &SequenceBlock{Children: []Block{g.block("hold")}},
	}, WithStateManager(deviceManager(t, pump)))
	_, cancel, errCh := start(t, m)

	awaitMode(t, m, ProcessNormal, 0, 0)
	require.NotNil(t, pump.Claimable().Owner())

	cancel()
	assert.Error(t, awaitResult(t, errCh))
	assert.Nil(t, pump.Claimable().Owner())
}

func TestMaster_TerminalStateReleasesAfterSettling(t *testing.T) {
	valve := device.NewSimNode("valve.open", false)
	m := NewMaster(&StateBlock{
		State: map[string]any{devicestate.Namespace: map[string]any{"valve.open": true}},
	}, WithStateManager(deviceManager(t, valve)))
	_, _, errCh := start(t, m)

	require.NoError(t, awaitResult(t, errCh))
	assert.Equal(t, true, valve.Value())
	assert.Nil(t, valve.Claimable().Owner())
}

func TestMaster_NestedStateBorrowsDevice(t *testing.T) {
	pump := device.NewSimNode("pump.rate", 0, device.WithClaimOptions(claim.WithAutoTransfer(true)))
	prime, hold := newGate(), newGate()
	m := NewMaster(&StateBlock{
		State: map[string]any{devicestate.Namespace: map[string]any{"pump.rate": 5}},
		Child: &SequenceBlock{Children: []Block{
			&StateBlock{
				State: map[string]any{devicestate.Namespace: map[string]any{"pump.rate": 9}},
				Child: &SequenceBlock{Children: []Block{prime.block("prime")}},
			},
			hold.block("hold"),
		}},
	}, WithStateManager(deviceManager(t, pump)))
	_, _, errCh := start(t, m)

	awaitMode(t, m, ProcessNormal, 0, 0, 0, 0)
	assert.Equal(t, StateNormal, modeAt(m, 0, 0))
	assert.EqualValues(t, 9, pump.Value())
	inner, err := m.Handle([]int{0, 0})
	require.NoError(t, err)
	assert.Same(t, m.manager.Item(inner).Symbol(), pump.Claimable().Owner().Symbol())

	close(prime.release)
	awaitMode(t, m, ProcessNormal, 0, 1)
	root, err := m.Handle(nil)
	require.NoError(t, err)
	outer := m.manager.Item(root)
	require.Eventually(t, func() bool {
		owner := pump.Claimable().Owner()
		return owner != nil && owner.Symbol() == outer.Symbol() && pump.Value() == 5
	}, waitFor, tick, "outer state must take the pump back at its own target")

	close(hold.release)
	require.NoError(t, awaitResult(t, errCh))
	assert.Nil(t, pump.Claimable().Owner())
	assert.EqualValues(t, 5, pump.Value())
}
