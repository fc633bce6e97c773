package netstack

import (
	"math/rand/v2"
	"time"
)

// Backoff is an exponential reconnect delay with additive jitter.
// It is not safe for concurrent use.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  time.Duration

	cur time.Duration
}

func (b *Backoff) initial() time.Duration {
	if b.Initial <= 0 {
		return 500 * time.Millisecond
	}
	return b.Initial
}

func (b *Backoff) max() time.Duration {
	if b.Max <= 0 {
		return 30 * time.Second
	}
	return b.Max
}

// Next returns the delay before the next attempt and doubles the base,
// capped at Max.
func (b *Backoff) Next() time.Duration {
	if b.cur <= 0 {
		b.cur = b.initial()
	}
	d := b.cur
	b.cur *= 2
	if b.cur > b.max() {
		b.cur = b.max()
	}
	return withJitter(d, b.Jitter)
}

// Reset returns the base delay to Initial after a success.
func (b *Backoff) Reset() { b.cur = 0 }

func withJitter(d, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(int64(jitter)))
}
