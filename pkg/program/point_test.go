package program

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePoint_RoundTripThroughJSON(t *testing.T) {
	block := &StateBlock{Child: &SequenceBlock{Children: []Block{
		&ProcessBlock{Name: "a"},
		&ProcessBlock{Name: "b"},
	}}}
	point := StatePoint{Child: SequencePoint{Index: 1, Child: ProcessPoint{Data: "half"}}}

	data, err := json.Marshal(point)
	require.NoError(t, err)
	var raw any
	require.NoError(t, json.Unmarshal(data, &raw))

	decoded, err := DecodePoint(block, raw)
	require.NoError(t, err)
	assert.Equal(t, point, decoded)
}

func TestDecodePoint_Errors(t *testing.T) {
	seq := &SequenceBlock{Children: []Block{&ProcessBlock{Name: "a"}}}

	_, err := DecodePoint(seq, map[string]any{"index": 5})
	assert.ErrorContains(t, err, "out of range")

	_, err = DecodePoint(seq, "nope")
	assert.Error(t, err)

	p, err := DecodePoint(seq, nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = DecodePoint(seq, map[string]any{"index": "1"})
	require.NoError(t, err)
	assert.Equal(t, SequencePoint{Index: 1}, p)
}

func TestTerm(t *testing.T) {
	seq := &SequenceBlock{Children: []Block{
		&ProcessBlock{Duration: time.Second},
		&StateBlock{Child: &ProcessBlock{Duration: 2 * time.Second}},
	}}
	assert.Equal(t, Term{Value: 3 * time.Second, Known: true}, seq.Term())

	seq.Children = append(seq.Children, &ProcessBlock{})
	assert.False(t, seq.Term().Known)
	assert.Equal(t, Term{Known: true}, (&StateBlock{}).Term())
}

func TestInbox_FIFO(t *testing.T) {
	q := newInbox()
	for i := 0; i < 100; i++ {
		q.push(i)
	}
	select {
	case <-q.wait():
	default:
		t.Fatal("push should signal")
	}
	for i := 0; i < 100; i++ {
		v, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestCheckpoint_JumpWinsOverPause(t *testing.T) {
	cp := newCheckpoint("start")
	assert.Equal(t, Continue, cp.Check().Kind)

	cp.requestPause()
	cp.requestJump("later")
	select {
	case <-cp.Interrupted():
	default:
		t.Fatal("interrupt channel should be closed")
	}
	assert.Equal(t, Signal{Kind: JumpRequested, Point: "later"}, cp.Check())

	cp.Commit("mid")
	assert.Equal(t, "mid", cp.Point())
}
