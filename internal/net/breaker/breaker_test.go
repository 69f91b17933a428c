package breaker

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	b := New("relay-a", Config{ConsecutiveFailures: 2, Timeout: time.Minute})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if _, err := b.Execute(func() (any, error) { return nil, boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}

	if b.State() != "open" {
		t.Errorf("Expected open breaker, got %s", b.State())
	}

	called := false
	_, err := b.Execute(func() (any, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("Open breaker should not call through")
	}
}

func TestBreaker_PassesResults(t *testing.T) {
	b := New("relay-b", DefaultConfig())

	v, err := b.Execute(func() (any, error) { return "bundle-1", nil })
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if v.(string) != "bundle-1" {
		t.Errorf("Expected bundle-1, got %v", v)
	}
	if b.State() != "closed" {
		t.Errorf("Expected closed breaker, got %s", b.State())
	}
	if b.Name() != "relay-b" {
		t.Errorf("Expected name relay-b, got %s", b.Name())
	}
}
