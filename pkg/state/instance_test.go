package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockInstance struct {
	mock.Mock
	notify NotifyFunc
}

func (m *mockInstance) Apply(ctx context.Context, resume bool) error {
	m.notify(UnitEvent{Location: resume, Settled: true})
	return m.Called(resume).Error(0)
}

func (m *mockInstance) Suspend(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockInstance) Close() error {
	return m.Called().Error(0)
}

func TestInstanceConsumer_Lifecycle(t *testing.T) {
	inst := &mockInstance{}
	inst.On("Apply", false).Return(nil).Once()
	inst.On("Apply", true).Return(nil).Once()
	inst.On("Suspend").Return(nil).Once()
	inst.On("Close").Return(nil).Once()

	var gotValue any
	consumer := NewInstanceConsumer(func(item *Item, value any, notify NotifyFunc) (Instance, error) {
		gotValue = value
		inst.notify = notify
		return inst, nil
	})
	m := NewManager(WithConsumer("dev", consumer))
	h := &testHandle{name: "root"}
	it, err := m.Add(h, map[string]any{"dev": "target"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "target", gotValue)

	_, err = m.Apply(context.Background(), h, false)
	require.NoError(t, err)
	assert.Equal(t, false, it.Record().Locations["dev"])

	_, err = m.Suspend(context.Background(), h)
	require.NoError(t, err)

	_, err = m.Apply(context.Background(), h, false)
	require.NoError(t, err)
	assert.Equal(t, true, it.Record().Locations["dev"], "second apply resumes")

	m.Clear(h)
	m.Remove(h)
	inst.AssertExpectations(t)
}

func TestInstanceConsumer_CloseFailureIsRecorded(t *testing.T) {
	inst := &mockInstance{}
	inst.On("Apply", false).Return(nil).Once()
	inst.On("Close").Return(errors.New("valve stuck open")).Once()

	consumer := NewInstanceConsumer(func(item *Item, value any, notify NotifyFunc) (Instance, error) {
		inst.notify = notify
		return inst, nil
	})
	m := NewManager(WithConsumer("dev", consumer))
	h := &testHandle{name: "root"}
	it, err := m.Add(h, map[string]any{"dev": "target"}, nil)
	require.NoError(t, err)
	_, err = m.Apply(context.Background(), h, true)
	require.NoError(t, err)

	m.Clear(h)

	assert.True(t, it.Failed())
	rec := it.Record()
	require.NotEmpty(t, rec.Diagnostics)
	assert.Equal(t, "state.internal", rec.Diagnostics[0].ID)
	assert.Contains(t, rec.Diagnostics[0].Message, "valve stuck open")
	inst.AssertExpectations(t)
}
