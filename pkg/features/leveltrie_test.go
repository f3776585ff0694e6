package features

import (
	"math/rand"
	"strings"
	"testing"
)

const (
	testTrace = iota
	testDebug
	testInfo
	testWarn
	testError
)

func TestBuildTrieRejectsMalformedPaths(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"leading dot", ".debugging"},
		{"trailing dot", "debugging."},
		{"empty segment", "debugging..probe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildTrie([]LevelRule{{Path: tt.path, Level: testDebug}}, testWarn)
			if err == nil {
				t.Errorf("BuildTrie accepted malformed path %q", tt.path)
			}
		})
	}
}

func TestBuildTrieNeverPartiallyBuilt(t *testing.T) {
	rules := []LevelRule{
		{Path: "debugging", Level: testDebug},
		{Path: "bad..path", Level: testTrace},
	}
	trie, err := BuildTrie(rules, testWarn)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if trie != nil {
		t.Error("expected nil trie on validation failure")
	}
}

func TestResolve(t *testing.T) {
	trie, err := BuildTrie([]LevelRule{
		{Path: "debugging", Level: testDebug},
		{Path: "debugging.probe", Level: testTrace},
		{Path: "tracing.span.tags", Level: testError},
	}, testWarn)
	if err != nil {
		t.Fatalf("BuildTrie failed: %v", err)
	}

	tests := []struct {
		path string
		want int
	}{
		{"debugging.probe.registry", testTrace},
		{"debugging.probe", testTrace},
		{"debugging.uploader", testDebug},
		{"debugging", testDebug},
		{"tracing.span", testWarn},
		{"tracing.span.tags", testError},
		{"tracing.span.tags.http", testError},
		{"unrelated", testWarn},
		{"", testWarn},
	}

	for _, tt := range tests {
		if got := trie.Resolve(tt.path); got != tt.want {
			t.Errorf("Resolve(%q) = %d, want %d", tt.path, got, tt.want)
		}
	}
}

func TestResolveEndToEndScenario(t *testing.T) {
	trie, err := BuildTrie([]LevelRule{{Path: "debugging", Level: testDebug}}, testWarn)
	if err != nil {
		t.Fatalf("BuildTrie failed: %v", err)
	}

	if got := trie.Resolve("debugging.probe.registry"); got != testDebug {
		t.Errorf("debugging.probe.registry resolved to %d, want DEBUG", got)
	}
	if got := trie.Resolve("tracing.span"); got != testWarn {
		t.Errorf("tracing.span resolved to %d, want WARN", got)
	}
}

// resolveLinear is the reference implementation: scan rules longest
// prefix first and take the match. For equal-length prefixes the later
// rule wins, mirroring the trie's duplicate handling.
func resolveLinear(rules []LevelRule, fallback int, path string) int {
	best := fallback
	bestLen := -1
	for _, rule := range rules {
		prefix := strings.ToLower(rule.Path)
		if path == prefix || strings.HasPrefix(path, prefix+".") {
			if len(prefix) >= bestLen {
				best = rule.Level
				bestLen = len(prefix)
			}
		}
	}
	return best
}

func TestResolveMatchesLinearScan(t *testing.T) {
	segments := []string{"debugging", "probe", "registry", "tracing", "span", "upload", "config"}
	rng := rand.New(rand.NewSource(42))

	randomPath := func(n int) string {
		parts := make([]string, n)
		for i := range parts {
			parts[i] = segments[rng.Intn(len(segments))]
		}
		return strings.Join(parts, ".")
	}

	for trial := 0; trial < 200; trial++ {
		var rules []LevelRule
		for i := 0; i < rng.Intn(6); i++ {
			rules = append(rules, LevelRule{
				Path:  randomPath(1 + rng.Intn(3)),
				Level: rng.Intn(5),
			})
		}

		trie, err := BuildTrie(rules, testWarn)
		if err != nil {
			t.Fatalf("BuildTrie failed on valid rules: %v", err)
		}

		for i := 0; i < 20; i++ {
			path := randomPath(rng.Intn(4))
			want := resolveLinear(rules, testWarn, path)
			if got := trie.Resolve(path); got != want {
				t.Fatalf("trial %d: Resolve(%q) = %d, linear scan = %d (rules %v)",
					trial, path, got, want, rules)
			}
		}
	}
}

func TestResolveDuplicateRuleLastWins(t *testing.T) {
	trie, err := BuildTrie([]LevelRule{
		{Path: "debugging", Level: testDebug},
		{Path: "debugging", Level: testError},
	}, testWarn)
	if err != nil {
		t.Fatalf("BuildTrie failed: %v", err)
	}
	if got := trie.Resolve("debugging"); got != testError {
		t.Errorf("Resolve(debugging) = %d, want later rule %d", got, testError)
	}
}
