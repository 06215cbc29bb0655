package store

import "sync/atomic"

// Clock is the store's monotonic logical clock.
//
// Every committed change batch takes one value from Next. Observations
// carry the seq of the batch they reflect, which lets observers drop
// batches they have already seen. Ordering never uses wall time.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from start.
// Open uses it to continue after the highest persisted seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
