package program

import "sync"

// inbox is an unbounded FIFO feeding a program loop. Pushing never blocks so
// children can report to a parent that is busy calling into them.
type inbox struct {
	mu     sync.Mutex
	items  []any
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{
		items:  make([]any, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

func (q *inbox) push(v any) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *inbox) pop() (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	v := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = q.items[:0:0]
	}
	return v, true
}

// wait returns a channel signalled after a push.
func (q *inbox) wait() <-chan struct{} {
	return q.signal
}
