package http

import (
	"testing"
	"time"
)

func TestRateLimiterDisabled(t *testing.T) {
	r := newRateLimiter(0)
	for i := 0; i < 1000; i++ {
		if !r.allow() {
			t.Fatalf("disabled limiter rejected frame %d", i)
		}
	}
}

func TestRateLimiterWindow(t *testing.T) {
	r := newRateLimiterWindow(2, 20*time.Millisecond)
	stop := make(chan struct{})
	defer close(stop)
	r.startReset(stop)

	if !r.allow() || !r.allow() {
		t.Fatalf("first two frames must pass")
	}
	if r.allow() {
		t.Fatalf("third frame must be limited")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.allow() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("limiter never reset")
}
