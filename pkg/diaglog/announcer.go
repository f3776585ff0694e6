package diaglog

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// StartupRecord is the flat key/value structure describing the effective
// configuration, serialized to a single line on announcement. The exact
// field set is supplied by the caller.
type StartupRecord map[string]string

// line renders the record as one sorted key=value line.
func (r StartupRecord) line() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("startup")
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, r[k])
	}
	b.WriteByte('\n')
	return b.String()
}

// StartupAnnouncer emits one configuration dump per process, no matter
// how many threads race to the first emission. Callers need no external
// locking in front of it.
type StartupAnnouncer struct {
	announced atomic.Bool
}

// AnnounceOnce writes the record to the sink if this call wins the
// one-shot and the effective level admits startup records. It returns
// whether this call performed the emission. The one-shot is consumed even
// when the record is suppressed by level, so a later level change cannot
// trigger a duplicate dump.
func (a *StartupAnnouncer) AnnounceOnce(rec StartupRecord, effective, threshold Level, sink Sink) bool {
	if !a.announced.CompareAndSwap(false, true) {
		return false
	}
	if effective > threshold {
		return false
	}
	if err := sink.Write([]byte(rec.line())); err != nil {
		return false
	}
	return true
}

// Announced reports whether the one-shot has been consumed.
func (a *StartupAnnouncer) Announced() bool {
	return a.announced.Load()
}
