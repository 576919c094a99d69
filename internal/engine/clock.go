package engine

import "sync/atomic"

// Clock is a monotonic counter stamping snapshot generations.
//
// Thread-safety: Clock is safe for concurrent use. In practice only the Run
// goroutine and direct Evaluate callers advance it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next generation and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last generation handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
