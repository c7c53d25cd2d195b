package helpers

import (
	"sync/atomic"
	"time"

	"github.com/temoto/atomic_clock"
)

// Backoff is limited exponential delay for a streak of failed attempts.
// Failure grows next delay by K starting from Min, Reset ends the streak.
// Zero K is treated as 2. Safe for concurrent use.
type Backoff struct {
	next     int64 // atomic align
	failures uint32
	first    atomic_clock.Clock // first failure of current streak

	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // rounding step for nice logs, default=1ms
}

// Next returns limited delay to sleep before the next attempt.
func (b *Backoff) Next() time.Duration {
	return b.limit(time.Duration(atomic.LoadInt64(&b.next)))
}

func (b *Backoff) Failure() {
	next := time.Duration(atomic.LoadInt64(&b.next))
	if atomic.AddUint32(&b.failures, 1) == 1 {
		next = b.Min
		b.first.SetNowIfZero()
	} else {
		k := b.K
		if k == 0 {
			k = 2
		}
		next = time.Duration(float64(next) * float64(k))
	}
	atomic.StoreInt64(&b.next, int64(b.limit(next)))
}

// Failures in current streak.
func (b *Backoff) Failures() int { return int(atomic.LoadUint32(&b.failures)) }

// Outage is time since first failure of current streak, zero without failures.
func (b *Backoff) Outage() time.Duration {
	if b.first.IsZero() {
		return 0
	}
	return b.round(atomic_clock.Since(&b.first))
}

func (b *Backoff) Reset() {
	atomic.StoreUint32(&b.failures, 0)
	atomic.StoreInt64(&b.next, int64(b.Min))
	b.first.Set(0)
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	d = b.round(d)
	if d < b.Min {
		d = b.Min
	}
	if b.Max != 0 && d > b.Max {
		d = b.Max
	}
	return d
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return (d + res/2) / res * res
}
