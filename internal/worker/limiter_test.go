package worker

import (
	"context"
	"testing"
	"time"
)

func TestThrottle_New(t *testing.T) {
	throttle := NewThrottle(10, 5)
	if throttle.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", throttle.defaultBurst)
	}

	t2 := NewThrottle(10, -1)
	if t2.defaultBurst != 1 {
		t.Errorf("expected default burst 1 for negative input, got %d", t2.defaultBurst)
	}
}

func TestThrottle_Wait(t *testing.T) {
	throttle := NewThrottle(100, 1)
	ctx := context.Background()

	if err := throttle.Wait(ctx, "train"); err != nil {
		t.Errorf("wait failed: %v", err)
	}

	// Different key should also work
	if err := throttle.Wait(ctx, "validate"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestThrottle_PerKey(t *testing.T) {
	throttle := Every(time.Hour)

	if !throttle.Allow("batch") {
		t.Error("first event should pass")
	}
	if throttle.Allow("batch") {
		t.Error("second event within the interval should be dropped")
	}
	if !throttle.Allow("epoch") {
		t.Error("other key should pass")
	}
}

func TestThrottle_SetRate(t *testing.T) {
	throttle := NewThrottle(10, 10)

	throttle.SetRate("slow", 0.1, 1)

	if !throttle.Allow("slow") {
		t.Errorf("first event should pass")
	}
	if throttle.Allow("slow") {
		t.Errorf("second event should fail")
	}
	if !throttle.Allow("fast") {
		t.Errorf("other key should pass")
	}
}

func TestThrottle_WaitCancelled(t *testing.T) {
	throttle := Every(time.Hour)
	throttle.Allow("k")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := throttle.Wait(ctx, "k"); err == nil {
		t.Error("expected wait to fail once the context expires")
	}
}
