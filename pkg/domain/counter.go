package domain

import (
	"fmt"
	"sync/atomic"
)

// Counter hands out increasing ids for debug names.
// It is owned by one runtime context and passed to whatever needs names.
type Counter struct {
	seq atomic.Int64
}

// NewCounter creates a counter starting at 0.
func NewCounter() *Counter {
	return &Counter{}
}

// Next returns the next id.
func (c *Counter) Next() int64 {
	return c.seq.Add(1)
}

// Name returns prefix followed by the next id, e.g. "item#3".
func (c *Counter) Name(prefix string) string {
	return fmt.Sprintf("%s#%d", prefix, c.Next())
}
