package features

import (
	"sync"
	"sync/atomic"
	"time"
)

// CallSiteID is a stable identifier for a single log statement, used as
// the rate-limiting key.
type CallSiteID uint64

// rateWindow holds the sliding-window state for one call site. All fields
// are mutated through atomics; the struct lives for the process lifetime
// once created.
type rateWindow struct {
	windowStart atomic.Int64 // unix nanos of the current window start
	hitCount    atomic.Int64 // total hits observed at this site
	skipped     atomic.Int64 // suppressed since the last admitted emission
}

// RateLimiter provides per-call-site sliding-window suppression with
// exact skip counting. Site state is created lazily on first use and kept
// in a concurrent map for the process lifetime.
type RateLimiter struct {
	sites sync.Map // CallSiteID -> *rateWindow
}

// NewRateLimiter creates an empty rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{}
}

// Allow reports whether a call from the given site should be admitted.
// Winning the CAS that opens a window is the admission itself, so exactly
// one call per site is admitted per window even under contention; the
// winner's second return value carries the exact number of calls
// suppressed since the previous admission. Window starts only move
// forward, so a later call never reopens an earlier window. A window of 0
// disables limiting entirely and touches no counters.
func (r *RateLimiter) Allow(site CallSiteID, now time.Time, window time.Duration) (bool, int64) {
	if window <= 0 {
		return true, 0
	}

	v, _ := r.sites.LoadOrStore(site, &rateWindow{})
	w := v.(*rateWindow)
	w.hitCount.Add(1)

	nowNanos := now.UnixNano()
	start := w.windowStart.Load()
	if start == 0 || nowNanos-start >= int64(window) {
		if w.windowStart.CompareAndSwap(start, nowNanos) {
			return true, w.skipped.Swap(0)
		}
		// Lost the race; the winner owns this window's admission.
	}

	w.skipped.Add(1)
	return false, 0
}

// Hits returns the total number of calls observed for a site, admitted or
// not. Reported as 0 for unknown sites.
func (r *RateLimiter) Hits(site CallSiteID) int64 {
	v, ok := r.sites.Load(site)
	if !ok {
		return 0
	}
	return v.(*rateWindow).hitCount.Load()
}

// Skipped returns the number of calls currently suppressed for a site
// without consuming the count. Reported as 0 for unknown sites.
func (r *RateLimiter) Skipped(site CallSiteID) int64 {
	v, ok := r.sites.Load(site)
	if !ok {
		return 0
	}
	return v.(*rateWindow).skipped.Load()
}
