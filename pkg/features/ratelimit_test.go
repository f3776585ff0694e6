package features

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiterFirstCallAllowed(t *testing.T) {
	rl := NewRateLimiter()
	allowed, skipped := rl.Allow(1, time.Unix(100, 0), time.Minute)
	if !allowed {
		t.Error("first call should be allowed")
	}
	if skipped != 0 {
		t.Errorf("first call reported skipped=%d, want 0", skipped)
	}
}

func TestRateLimiterSuppressesWithinWindow(t *testing.T) {
	rl := NewRateLimiter()
	base := time.Unix(100, 0)

	if allowed, _ := rl.Allow(1, base, time.Minute); !allowed {
		t.Fatal("first call should be allowed")
	}
	for i := 0; i < 5; i++ {
		if allowed, _ := rl.Allow(1, base.Add(time.Duration(i)*time.Second), time.Minute); allowed {
			t.Errorf("call %d within the window should be suppressed", i)
		}
	}
}

func TestRateLimiterExactSkipCount(t *testing.T) {
	// 100 calls in the first second; the call in the 61st second is
	// admitted and reports exactly 99 suppressed.
	rl := NewRateLimiter()
	base := time.Unix(100, 0)

	admitted := 0
	for i := 0; i < 100; i++ {
		now := base.Add(time.Duration(i) * 10 * time.Millisecond)
		if allowed, _ := rl.Allow(7, now, time.Minute); allowed {
			admitted++
		}
	}
	if admitted != 1 {
		t.Errorf("admitted %d calls in one window, want 1", admitted)
	}

	allowed, skipped := rl.Allow(7, base.Add(61*time.Second), time.Minute)
	if !allowed {
		t.Fatal("call after the window should be admitted")
	}
	if skipped != 99 {
		t.Errorf("skipped = %d, want 99", skipped)
	}
}

func TestRateLimiterZeroWindowDisables(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Unix(100, 0)
	for i := 0; i < 1000; i++ {
		if allowed, _ := rl.Allow(3, now, 0); !allowed {
			t.Fatal("window 0 must admit every call")
		}
	}
	if got := rl.Skipped(3); got != 0 {
		t.Errorf("window 0 touched counters: skipped=%d", got)
	}
}

func TestRateLimiterIndependentSites(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Unix(100, 0)

	for site := CallSiteID(0); site < 10; site++ {
		if allowed, _ := rl.Allow(site, now, time.Minute); !allowed {
			t.Errorf("site %d first call should be allowed", site)
		}
	}
}

func TestRateLimiterConcurrentOneAdmissionPerWindow(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Unix(100, 0)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if allowed, _ := rl.Allow(1, now, time.Minute); allowed {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 1 {
		t.Errorf("admitted %d calls in one window under contention, want 1", got)
	}
}

func TestRateLimiterWindowMonotonic(t *testing.T) {
	rl := NewRateLimiter()
	base := time.Unix(100, 0)

	rl.Allow(1, base, time.Minute)
	rl.Allow(1, base.Add(61*time.Second), time.Minute)

	// A late call carrying an earlier timestamp must not reopen the
	// previous window.
	if allowed, _ := rl.Allow(1, base.Add(30*time.Second), time.Minute); allowed {
		t.Error("stale timestamp reopened a closed window")
	}
}
