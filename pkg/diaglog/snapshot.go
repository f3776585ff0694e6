package diaglog

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/tracekit/diaglog/pkg/features"
)

// Snapshot is an immutable bundle of the level trie and limiter
// parameters active at a point in time. A snapshot is never mutated after
// construction; reconfiguration builds a new one and swaps the pointer.
type Snapshot struct {
	Trie                 *features.LevelTrie
	DefaultLevel         Level
	RateWindow           time.Duration
	GlobalLimitPerSecond int64
	CaptureTargetRate    float64
	LogOnlyTargetRate    float64
	StartupLevel         Level
}

// buildSnapshot constructs a Snapshot from a validated Config. A trie
// build failure leaves no partial state behind.
func buildSnapshot(cfg *Config) (*Snapshot, error) {
	rules := make([]features.LevelRule, 0, len(cfg.LevelRules))
	for path, level := range cfg.LevelRules {
		rules = append(rules, features.LevelRule{Path: path, Level: int(level)})
	}
	// Map iteration order is random; sort so identical configs build
	// identical tries.
	sort.Slice(rules, func(i, j int) bool { return rules[i].Path < rules[j].Path })

	trie, err := features.BuildTrie(rules, int(cfg.DefaultLevel))
	if err != nil {
		return nil, newConfigError("level rules", err)
	}

	return &Snapshot{
		Trie:                 trie,
		DefaultLevel:         cfg.DefaultLevel,
		RateWindow:           time.Duration(cfg.RateWindow),
		GlobalLimitPerSecond: cfg.GlobalLimitPerSecond,
		CaptureTargetRate:    cfg.CaptureTargetRate,
		LogOnlyTargetRate:    cfg.LogOnlyTargetRate,
		StartupLevel:         cfg.StartupLevel,
	}, nil
}

// Resolve returns the effective level for a dotted component path.
func (s *Snapshot) Resolve(path string) Level {
	return Level(s.Trie.Resolve(path))
}

// ConfigState holds the currently active snapshot behind a single
// atomically swappable pointer. Reads are one atomic load; Apply
// linearizes with Current so a reader never sees a mix of old and new
// parameters.
type ConfigState struct {
	current atomic.Pointer[Snapshot]
}

// Current returns the active snapshot.
func (c *ConfigState) Current() *Snapshot {
	return c.current.Load()
}

// Apply publishes a fully built snapshot. In-flight readers holding the
// previous pointer finish consistently against the old snapshot.
func (c *ConfigState) Apply(snap *Snapshot) {
	c.current.Store(snap)
}
