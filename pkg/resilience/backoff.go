// Package resilience provides the jittered exponential delay sequence used
// by the trawl loop's idle and connectivity waits and by startup retry
// loops.
package resilience

import (
	"math"
	"math/rand"
	"time"
)

// Backoff produces a jittered exponential delay sequence. The zero value
// uses conservative defaults. It is not safe for concurrent use; each loop
// owns one.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64

	attempt int
}

// Next returns the delay to wait before the next attempt and advances the
// sequence.
func (b *Backoff) Next() time.Duration {
	initial, max, multiplier, jitter := b.Initial, b.Max, b.Multiplier, b.Jitter
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	if multiplier <= 0 {
		multiplier = 2
	}
	if jitter <= 0 {
		jitter = 0.1
	}

	b.attempt++
	delay := float64(initial) * math.Pow(multiplier, float64(b.attempt-1))
	delay += delay * jitter * (2*rand.Float64() - 1)
	if delay > float64(max) {
		delay = float64(max)
	}
	if delay < 0 {
		delay = float64(initial)
	}
	return time.Duration(delay)
}

// Reset restarts the sequence after a productive pass.
func (b *Backoff) Reset() {
	b.attempt = 0
}
