// Package lamport implements the scalar logical clock carried by every
// message in the Lamport-Clock header.
package lamport

import "sync"

// HeaderName is the message header that carries a clock value on the wire.
const HeaderName = "Lamport-Clock"

// Clock is a Lamport clock. The zero value is ready to use and starts at 0.
// Thread-safe: all methods may be called concurrently.
type Clock struct {
	mu sync.Mutex
	t  uint64
}

// New returns a clock starting at 0.
func New() *Clock {
	return &Clock{}
}

// Tick advances the clock for a local event and returns the new value.
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t++
	return c.t
}

// Merge folds an observed external value into the clock:
// t = max(t, observed) + 1. It returns the new value.
func (c *Clock) Merge(observed uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if observed > c.t {
		c.t = observed
	}
	c.t++
	return c.t
}

// Now returns the current value without advancing the clock.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}
