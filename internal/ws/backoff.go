package ws

import "time"

const (
	DefaultBaseDelay = 1000 * time.Millisecond
	DefaultMaxDelay  = 30000 * time.Millisecond
)

// backoff computes reconnect delays as min(max, base * 2^attempts).
type backoff struct {
	base     time.Duration
	max      time.Duration
	attempts int
}

func newBackoff(base, max time.Duration) backoff {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	return backoff{base: base, max: max}
}

// next returns the delay for the current attempt and advances the counter.
func (b *backoff) next() time.Duration {
	delay := b.max
	// Large shifts overflow int64.
	if b.attempts < 30 {
		if d := b.base << b.attempts; d > 0 && d < b.max {
			delay = d
		}
	}
	b.attempts++
	return delay
}

func (b *backoff) reset() {
	b.attempts = 0
}
