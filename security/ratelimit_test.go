package security

import (
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 20, nil)
	defer rl.Stop()

	if rl.burst != 20 {
		t.Errorf("burst = %d, want 20", rl.burst)
	}
	if rl.maxEntries != DefaultMaxLimiterEntries {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, DefaultMaxLimiterEntries)
	}
	if rl.logger == nil {
		t.Error("logger should not be nil")
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(10, 5, slog.Default())
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		if !rl.Allow("caller") {
			t.Errorf("Allow() request %d should be allowed", i+1)
		}
	}

	if rl.Allow("caller") {
		t.Error("Allow() should return false when rate limited")
	}
}

func TestRateLimiter_Allow_SeparateIdentifiers(t *testing.T) {
	rl := NewRateLimiter(10, 1, slog.Default())
	defer rl.Stop()

	if !rl.Allow("a") {
		t.Fatal("Allow(a) should be allowed")
	}
	if rl.Allow("a") {
		t.Error("Allow(a) should be limited after burst")
	}
	if !rl.Allow("b") {
		t.Error("Allow(b) should be allowed (different identifier)")
	}
}

func TestRateLimiter_Allow_RefillOverTime(t *testing.T) {
	rl := NewRateLimiter(20, 1, slog.Default())
	defer rl.Stop()

	if !rl.Allow("caller") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("caller") {
		t.Fatal("second request should be limited")
	}

	time.Sleep(100 * time.Millisecond)

	if !rl.Allow("caller") {
		t.Error("request after refill should be allowed")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(10, 1, 2, slog.Default())
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("a") // a becomes most recently used
	rl.Allow("c") // evicts b

	if rl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", rl.Len())
	}
	if rl.Evictions() != 1 {
		t.Errorf("Evictions() = %d, want 1", rl.Evictions())
	}

	// b was evicted, so it starts with a full bucket again
	if !rl.Allow("b") {
		t.Error("Allow(b) after eviction should be allowed")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 1, slog.Default())
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")

	if removed := rl.Cleanup(time.Hour); removed != 0 {
		t.Errorf("Cleanup(1h) removed %d, want 0", removed)
	}

	time.Sleep(10 * time.Millisecond)

	if removed := rl.Cleanup(time.Millisecond); removed != 2 {
		t.Errorf("Cleanup(1ms) removed %d, want 2", removed)
	}
	if rl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", rl.Len())
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiterWithConfig(1000, 1000, 50, slog.Default())
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rl.Allow(string(rune('a' + (n+j)%26)))
			}
		}(i)
	}
	wg.Wait()

	if rl.Len() > 50 {
		t.Errorf("Len() = %d, exceeds max entries", rl.Len())
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}
