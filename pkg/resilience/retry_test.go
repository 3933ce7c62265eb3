package resilience

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "flaky", 5, Backoff{Initial: time.Microsecond}, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient %d", calls)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "doomed", 3, Backoff{Initial: time.Microsecond}, func() error {
		calls++
		return fmt.Errorf("still broken")
	})
	if err == nil {
		t.Fatal("expected the last error back")
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
	if !strings.Contains(err.Error(), "still broken") {
		t.Errorf("last error lost: %v", err)
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, "cancelled", 5, Backoff{Initial: time.Hour}, func() error {
		calls++
		cancel()
		return fmt.Errorf("fail then cancel")
	})
	if err == nil {
		t.Fatal("expected an abort error")
	}
	if calls != 1 {
		t.Errorf("fn called %d times after cancellation, want 1", calls)
	}
}
