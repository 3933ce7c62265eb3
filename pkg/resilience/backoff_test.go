package resilience

import (
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := Backoff{
		Initial:    time.Second,
		Max:        10 * time.Second,
		Multiplier: 2,
		Jitter:     0.1,
	}

	var last time.Duration
	for i := 0; i < 10; i++ {
		d := b.Next()
		if d <= 0 {
			t.Fatalf("attempt %d: non-positive delay %v", i, d)
		}
		if d > 10*time.Second {
			t.Fatalf("attempt %d: delay %v above cap", i, d)
		}
		last = d
	}
	// After ten doublings the sequence must sit at the cap.
	if last != 10*time.Second {
		t.Errorf("expected capped delay, got %v", last)
	}
}

func TestBackoffReset(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: time.Minute, Multiplier: 2, Jitter: 0.1}
	for i := 0; i < 5; i++ {
		b.Next()
	}
	b.Reset()
	d := b.Next()
	// Back at attempt one: within the jitter band of the initial delay.
	if d < 800*time.Millisecond || d > 1200*time.Millisecond {
		t.Errorf("post-reset delay %v outside initial band", d)
	}
}
