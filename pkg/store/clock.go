package store

import (
	"sync"
	"time"
)

// Clock is wall time shifted by an adjustable offset. Timestamps the
// backend writes come from it so tests can move time forward.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
}

// NewClock returns a clock showing real time.
func NewClock() *Clock { return &Clock{} }

// Now returns the shifted time.
func (c *Clock) Now() time.Time {
	return time.Now().Add(c.Offset())
}

// Advance shifts the clock by d. A negative d moves it back.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.offset += d
	c.mu.Unlock()
}

// Offset returns the current shift.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Reset returns the clock to real time.
func (c *Clock) Reset() {
	c.mu.Lock()
	c.offset = 0
	c.mu.Unlock()
}
