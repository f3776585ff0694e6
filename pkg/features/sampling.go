package features

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeClass selects the sampling budget for a probe.
type ProbeClass int

const (
	// ProbeLogOnly is the high-volume class for probes that emit log
	// records without captured state.
	ProbeLogOnly ProbeClass = iota
	// ProbeWithCapture is the low-volume class for probes that capture
	// state along with the record.
	ProbeWithCapture
)

// Default per-class target rates in events per second.
const (
	DefaultCaptureTargetRate = 1.0
	DefaultLogOnlyTargetRate = 5000.0
)

// defaultSamplerTick is how often a probe's rate estimate is refreshed.
const defaultSamplerTick = time.Second

// samplerSmoothing is the EWMA weight given to the most recent window.
const samplerSmoothing = 0.5

// clock abstracts time.Now so sampler behavior is reproducible in tests.
type clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// probeBudget holds the adaptive state for one probe id. Everything is
// mutated through atomics; float values are stored as their IEEE-754 bit
// patterns.
type probeBudget struct {
	class    ProbeClass
	lastTick atomic.Int64  // unix nanos of the last estimate refresh
	hits     atomic.Int64  // hits since the last refresh
	estimate atomic.Uint64 // EWMA of observed hits/sec, float bits
	keepProb atomic.Uint64 // current keep probability, float bits
	accum    atomic.Uint64 // fractional keep accumulator, float bits
}

// AdaptiveProbeSampler keeps each probe's admitted rate near a per-class
// target. The keep decision is a deterministic fractional accumulator
// rather than a random draw, so a fixed hit pattern always yields the
// same admissions.
type AdaptiveProbeSampler struct {
	captureTarget atomic.Uint64 // float bits
	logOnlyTarget atomic.Uint64 // float bits
	tick          time.Duration
	clock         clock
	probes        sync.Map // string -> *probeBudget
}

// NewAdaptiveProbeSampler creates a sampler with the given per-class
// target rates. Non-positive targets fall back to the class default.
func NewAdaptiveProbeSampler(captureRate, logOnlyRate float64) *AdaptiveProbeSampler {
	s := &AdaptiveProbeSampler{
		tick:  defaultSamplerTick,
		clock: systemClock{},
	}
	s.SetTargets(captureRate, logOnlyRate)
	return s
}

// SetTargets replaces the per-class target rates. Existing probe state is
// retained; budgets pick up the new target at their next refresh.
func (s *AdaptiveProbeSampler) SetTargets(captureRate, logOnlyRate float64) {
	if captureRate <= 0 {
		captureRate = DefaultCaptureTargetRate
	}
	if logOnlyRate <= 0 {
		logOnlyRate = DefaultLogOnlyTargetRate
	}
	s.captureTarget.Store(math.Float64bits(captureRate))
	s.logOnlyTarget.Store(math.Float64bits(logOnlyRate))
}

// ShouldSample reports whether a hit for the given probe should be kept.
// Unknown probe ids create budget state lazily with class defaults.
func (s *AdaptiveProbeSampler) ShouldSample(probeID string, hasCapture bool) bool {
	b := s.budget(probeID, hasCapture)
	now := s.clock.Now()

	b.hits.Add(1)
	s.maybeRefresh(b, now)

	p := math.Float64frombits(b.keepProb.Load())
	if p >= 1 {
		return true
	}
	return accumulate(&b.accum, p)
}

// RemoveProbe tears down the budget state for a removed probe.
func (s *AdaptiveProbeSampler) RemoveProbe(probeID string) {
	s.probes.Delete(probeID)
}

// KeepProbability returns the current keep probability for a probe, or 1
// if the probe is unknown.
func (s *AdaptiveProbeSampler) KeepProbability(probeID string) float64 {
	v, ok := s.probes.Load(probeID)
	if !ok {
		return 1
	}
	return math.Float64frombits(v.(*probeBudget).keepProb.Load())
}

func (s *AdaptiveProbeSampler) budget(probeID string, hasCapture bool) *probeBudget {
	if v, ok := s.probes.Load(probeID); ok {
		return v.(*probeBudget)
	}
	class := ProbeLogOnly
	if hasCapture {
		class = ProbeWithCapture
	}
	b := &probeBudget{class: class}
	b.keepProb.Store(math.Float64bits(1))
	b.lastTick.Store(s.clock.Now().UnixNano())
	v, _ := s.probes.LoadOrStore(probeID, b)
	return v.(*probeBudget)
}

func (s *AdaptiveProbeSampler) target(class ProbeClass) float64 {
	if class == ProbeWithCapture {
		return math.Float64frombits(s.captureTarget.Load())
	}
	return math.Float64frombits(s.logOnlyTarget.Load())
}

// maybeRefresh recomputes the rate estimate and keep probability once per
// tick. The CAS on lastTick elects a single refresher; losers keep using
// the previous probability.
func (s *AdaptiveProbeSampler) maybeRefresh(b *probeBudget, now time.Time) {
	last := b.lastTick.Load()
	elapsed := now.UnixNano() - last
	if elapsed < int64(s.tick) {
		return
	}
	if !b.lastTick.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	hits := b.hits.Swap(0)
	observed := float64(hits) / (float64(elapsed) / float64(time.Second))
	prev := math.Float64frombits(b.estimate.Load())
	est := samplerSmoothing*observed + (1-samplerSmoothing)*prev
	b.estimate.Store(math.Float64bits(est))

	target := s.target(b.class)
	p := 1.0
	if est > target {
		p = target / est
	}
	if p < 0 {
		p = 0
	}
	b.keepProb.Store(math.Float64bits(p))
}

// accumulate adds p to a fractional accumulator held as float bits and
// reports whether it crossed 1. Spreading admissions evenly through the
// window avoids the bursty edges of a hard sliding window.
func accumulate(acc *atomic.Uint64, p float64) bool {
	for {
		old := acc.Load()
		next := math.Float64frombits(old) + p
		keep := false
		if next >= 1 {
			next -= 1
			keep = true
		}
		if acc.CompareAndSwap(old, math.Float64bits(next)) {
			return keep
		}
	}
}
