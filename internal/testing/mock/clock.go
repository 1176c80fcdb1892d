package mock

import (
	"sync"
	"time"
)

// Clock is a controllable time source. Pass its Now method wherever a
// component accepts a func() time.Time.
type Clock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewClock creates a clock set to t, or to the current time if t is zero.
func NewClock(t time.Time) *Clock {
	if t.IsZero() {
		t = time.Now()
	}
	return &Clock{current: t}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}
