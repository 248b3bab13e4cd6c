package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/labrun/internal/logging"
	"github.com/aretw0/labrun/pkg/adapters/memory"
	"github.com/aretw0/labrun/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRuntime struct {
	mock.Mock
}

func (m *MockRuntime) RunID() string { return "run-1" }

func (m *MockRuntime) Snapshot() *domain.Snapshot {
	return &domain.Snapshot{RunID: "run-1", Event: domain.Event{Stopped: true}}
}

func (m *MockRuntime) Receive(path []int, msg domain.Message) error {
	args := m.Called(path, msg)
	return args.Error(0)
}

func TestGetSnapshot(t *testing.T) {
	srv := NewServer(&MockRuntime{})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/snapshot", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "run-1", snap.RunID)
	assert.True(t, snap.Event.Stopped)
}

func TestPostMessage(t *testing.T) {
	rt := &MockRuntime{}
	rt.On("Receive", []int{0, 1}, domain.Message{Type: domain.MessagePause}).Return(nil)

	srv := NewServer(rt)
	body := bytes.NewBufferString(`{"path":[0,1],"type":"pause"}`)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/messages", body))

	assert.Equal(t, http.StatusAccepted, w.Code)
	rt.AssertExpectations(t)
}

func TestPostMessage_ErrorStatus(t *testing.T) {
	cases := map[string]struct {
		err  error
		code int
	}{
		"not found":  {fmt.Errorf("%w: [9]", domain.ErrHandleNotFound), http.StatusNotFound},
		"invalid":    {fmt.Errorf("%w: pause while paused", domain.ErrInvalidTransition), http.StatusConflict},
		"stopped":    {domain.ErrNotRunning, http.StatusServiceUnavailable},
		"unknown":    {domain.ErrUnknownMessage, http.StatusBadRequest},
		"unexpected": {fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rt := &MockRuntime{}
			rt.On("Receive", []int{}, mock.Anything).Return(tc.err)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"type":"halt"}`))
			NewServer(rt).Handler().ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
		})
	}
}

func TestPostMessage_BadBody(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{`))
	NewServer(&MockRuntime{}).Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuns(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Save(context.Background(), "run-1", &domain.Snapshot{RunID: "run-1"}))
	handler := NewServer(&MockRuntime{}, WithStore(store)).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["run-1"]`, w.Body.String())

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuns_DisabledWithoutStore(t *testing.T) {
	w := httptest.NewRecorder()
	NewServer(&MockRuntime{}).Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubscribeEvents(t *testing.T) {
	srv := NewServer(&MockRuntime{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ping\n", line)

	require.Eventually(t, func() bool { return srv.Streams.Subscribers("run-1") == 1 }, time.Second, 5*time.Millisecond)
	srv.Publish(domain.Event{Path: []int{}, Stopped: true})

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: {") {
			break
		}
	}
	var ev domain.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
	assert.True(t, ev.Stopped)
}

func TestStreamManager_DropsWhenFull(t *testing.T) {
	sm := NewStreamManager(nopLogger())
	ch, cancel := sm.Subscribe("r")
	for i := 0; i < 20; i++ {
		sm.Broadcast("r", []byte("x"))
	}
	assert.Len(t, ch, cap(ch))

	cancel()
	cancel()
	assert.Equal(t, 0, sm.Subscribers("r"))
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath("")
	require.NoError(t, err)
	assert.Equal(t, []int{}, p)

	p, err = ParsePath("0.2.1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 1}, p)

	_, err = ParsePath("0.x")
	assert.Error(t, err)
}

func nopLogger() *slog.Logger { return logging.NewNop() }
