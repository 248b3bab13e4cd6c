package compiler

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/labrun/pkg/program"
	"github.com/aretw0/labrun/pkg/registry"
)

func TestCompile_Golden(t *testing.T) {
	p, err := Load(filepath.Join("testdata", "titration.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "titration", p.Name)

	block, err := Compile(p, registry.NewDefault(nil))
	require.NoError(t, err)

	out, err := json.MarshalIndent(Describe(block), "", "  ")
	require.NoError(t, err)
	out = append(out, '\n')

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "titration", out)
}

func TestCompile_ProcessBlock(t *testing.T) {
	p, err := Parse([]byte(`
root:
  process: wait
  name: soak
  duration: 1.5
  params:
    duration: 10ms
`))
	require.NoError(t, err)

	block, err := Compile(p, registry.NewDefault(nil))
	require.NoError(t, err)

	pb, ok := block.(*program.ProcessBlock)
	require.True(t, ok)
	assert.Equal(t, "soak", pb.Name)
	assert.Equal(t, 1500*time.Millisecond, pb.Duration)
	assert.True(t, pb.Pausable)

	params, err := pb.Params(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "10ms", params["duration"])
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte(`
root:
  proces: wait
`))
	assert.ErrorContains(t, err, "proces")
}

func TestCompile_ReportsEveryProblem(t *testing.T) {
	p, err := Parse([]byte(`
root:
  sequence:
    - process: centrifuge
    - process: log
      pausable: true
    - {}
    - process: log
      do:
        process: log
`))
	require.NoError(t, err)

	_, err = Compile(p, registry.NewDefault(nil))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "root.sequence[0]: process not found: centrifuge")
	assert.Contains(t, msg, "root.sequence[1]: process log cannot be paused")
	assert.Contains(t, msg, "root.sequence[2]: node must have exactly one of")
	assert.Contains(t, msg, "root.sequence[3]: do is only valid on a state node")
}
