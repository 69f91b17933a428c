package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(2.0, 2) // 2 RPS, burst of 2

	if !limiter.Allow("rpc.example") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("rpc.example") {
		t.Error("Second request should be allowed")
	}
	if limiter.Allow("rpc.example") {
		t.Error("Third request should be blocked")
	}
}

func TestLimiter_MultipleHosts(t *testing.T) {
	limiter := NewLimiter(1.0, 1)

	if !limiter.Allow("relay-a.example") {
		t.Error("First request to relay-a should be allowed")
	}
	if !limiter.Allow("relay-b.example") {
		t.Error("First request to relay-b should be allowed")
	}
	if limiter.Allow("relay-a.example") {
		t.Error("Second request to relay-a should be blocked")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(0, 1)

	for i := 0; i < 100; i++ {
		if !limiter.Allow("social.example") {
			t.Fatalf("request %d should pass when limiting is disabled", i)
		}
	}
}

func TestLimiter_WaitTimeout(t *testing.T) {
	limiter := NewLimiter(0.1, 1) // one token every 10s

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "rpc.example"); err != nil {
		t.Fatalf("first wait should pass: %v", err)
	}
	if err := limiter.Wait(ctx, "rpc.example"); err == nil {
		t.Error("second wait should fail before the deadline")
	}
}

func TestLimiter_Stats(t *testing.T) {
	limiter := NewLimiter(5, 3)
	limiter.Allow("a.example")

	stats := limiter.Stats()
	st, ok := stats["a.example"]
	if !ok {
		t.Fatal("expected stats for a.example")
	}
	if st.Burst != 3 || st.RPS != 5 {
		t.Errorf("unexpected stats %+v", st)
	}
}
