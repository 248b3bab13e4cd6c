package http

import (
	"log/slog"
	"sync"
)

// StreamManager fans messages out to SSE subscribers of a run.
type StreamManager struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]map[chan<- []byte]struct{} // run ID -> set of channels
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	return &StreamManager{
		logger:      logger,
		subscribers: make(map[string]map[chan<- []byte]struct{}),
	}
}

// Subscribe registers a buffered channel for runID. The returned func
// unsubscribes and closes the channel.
func (sm *StreamManager) Subscribe(runID string) (<-chan []byte, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan []byte, 16)
	if _, ok := sm.subscribers[runID]; !ok {
		sm.subscribers[runID] = make(map[chan<- []byte]struct{})
	}
	sm.subscribers[runID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if subs, ok := sm.subscribers[runID]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(sm.subscribers, runID)
				}
			}
			close(ch)
		})
	}
}

// Broadcast delivers msg to every subscriber of runID. Slow subscribers lose
// messages rather than stall the run.
func (sm *StreamManager) Broadcast(runID string, msg []byte) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[runID] {
		select {
		case ch <- msg:
		default:
			sm.logger.Warn("SSE: client buffer full, dropping event", "run", runID)
		}
	}
}

// Subscribers returns the subscriber count for runID.
func (sm *StreamManager) Subscribers(runID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[runID])
}
