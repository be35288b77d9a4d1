package receiver

import (
	"math/rand"
	"testing"
	"time"
)

func TestNextBackoffDelay_GrowsAndCaps(t *testing.T) {
	cfg := DefaultBackoffConfig()

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := NextBackoffDelay(cfg, i+1, nil); got != w {
			t.Fatalf("attempt %d delay=%v, want %v", i+1, got, w)
		}
	}
}

func TestNextBackoffDelay_NonDecreasing(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 250 * time.Millisecond, MaxDelay: 7 * time.Second, Multiplier: 1.7}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 50; attempt++ {
		d := NextBackoffDelay(cfg, attempt, nil)
		if d < prev {
			t.Fatalf("attempt %d delay %v < previous %v", attempt, d, prev)
		}
		if d > cfg.MaxDelay {
			t.Fatalf("attempt %d delay %v above cap", attempt, d)
		}
		prev = d
	}
}

func TestNextBackoffDelay_FirstAttemptIsInitial(t *testing.T) {
	cfg := DefaultBackoffConfig()
	if got := NextBackoffDelay(cfg, 0, nil); got != cfg.InitialDelay {
		t.Fatalf("attempt 0 delay=%v", got)
	}
}

func TestNextBackoffDelay_JitterStaysInBand(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, MaxDelay: 8 * time.Second, Multiplier: 2, Jitter: 0.25}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		d := NextBackoffDelay(cfg, 3, rng)
		if d < 3*time.Second || d > 5*time.Second {
			t.Fatalf("jittered delay %v outside 4s±25%%", d)
		}
	}
	// Without a random source the delay is exact.
	if got := NextBackoffDelay(cfg, 3, nil); got != 4*time.Second {
		t.Fatalf("delay=%v, want 4s", got)
	}
}
