package broker

import (
	"sync/atomic"
	"time"
)

// NonceClock hands out millisecond timestamps that strictly increase across
// calls, even when the wall clock stalls or steps backwards.
type NonceClock struct {
	now  func() time.Time
	last atomic.Int64
}

// NewNonceClock returns a clock reading now. A nil now uses time.Now.
func NewNonceClock(now func() time.Time) *NonceClock {
	if now == nil {
		now = time.Now
	}
	return &NonceClock{now: now}
}

// Next returns the next nonce.
func (c *NonceClock) Next() int64 {
	for {
		prev := c.last.Load()
		n := c.now().UnixMilli()
		if n <= prev {
			n = prev + 1
		}
		if c.last.CompareAndSwap(prev, n) {
			return n
		}
	}
}

// DefaultNonceClock is shared by every signer in the process so that two
// credentials carrying the same secret never reuse a nonce.
var DefaultNonceClock = NewNonceClock(nil)
