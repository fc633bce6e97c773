package channel

import (
	"context"
	"sync"
	"time"
)

// TokenBucket shapes outbound bytes to a sustained rate with a burst of
// capacity bytes.
type TokenBucket struct {
	mu       sync.Mutex
	capacity int64
	tokens   int64
	rate     int64 // tokens per second
	last     time.Time
	now      func() time.Time
}

func NewTokenBucket(ratePerSec, capacity int64) *TokenBucket {
	if capacity <= 0 {
		capacity = ratePerSec
	}
	return &TokenBucket{capacity: capacity, tokens: capacity, rate: ratePerSec, now: time.Now}
}

// Allow tries to consume n tokens; if there are not enough it returns how
// long to wait. Requests above capacity are clamped to capacity.
func (b *TokenBucket) Allow(n int64) (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.capacity {
		n = b.capacity
	}
	now := b.now()
	if b.last.IsZero() {
		b.last = now
	}
	if dt := now.Sub(b.last); dt > 0 {
		add := (b.rate * dt.Nanoseconds()) / int64(time.Second)
		if add > 0 {
			b.tokens += add
			if b.tokens > b.capacity {
				b.tokens = b.capacity
			}
			b.last = now
		}
	}
	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	need := n - b.tokens
	return false, time.Duration(need * int64(time.Second) / b.rate)
}

// Wait blocks until n tokens were consumed or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context, n int64) error {
	for {
		ok, wait := b.Allow(n)
		if ok {
			return nil
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
