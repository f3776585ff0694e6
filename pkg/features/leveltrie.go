package features

import (
	"fmt"
	"strings"
)

// LevelRule maps a dotted component path to a minimum log level.
// Levels are plain ints so the trie stays decoupled from any particular
// level enumeration.
type LevelRule struct {
	Path  string
	Level int
}

// LevelTrie is an immutable longest-prefix lookup structure over dotted
// component paths. It is built once per configuration snapshot and is
// read-only afterwards, so concurrent lookups need no locking.
type LevelTrie struct {
	root     *trieNode
	fallback int
}

type trieNode struct {
	children map[string]*trieNode
	level    int
	hasLevel bool
}

// ValidatePath checks that a rule path is well formed: non-empty, no
// leading or trailing dots, and no empty segments.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty component path")
	}
	if strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") {
		return fmt.Errorf("component path %q has a leading or trailing dot", path)
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return fmt.Errorf("component path %q contains an empty segment", path)
		}
	}
	return nil
}

// BuildTrie constructs a LevelTrie from a set of rules and a fallback level.
// Rule paths are validated before any node is inserted; a malformed path
// fails the whole build so the trie is never partially constructed.
// Paths are normalized to lower case. When the same path appears twice the
// later rule wins.
func BuildTrie(rules []LevelRule, fallback int) (*LevelTrie, error) {
	for _, rule := range rules {
		if err := ValidatePath(rule.Path); err != nil {
			return nil, err
		}
	}

	root := &trieNode{}
	for _, rule := range rules {
		node := root
		for _, seg := range strings.Split(strings.ToLower(rule.Path), ".") {
			if node.children == nil {
				node.children = make(map[string]*trieNode)
			}
			child, ok := node.children[seg]
			if !ok {
				child = &trieNode{}
				node.children[seg] = child
			}
			node = child
		}
		node.level = rule.Level
		node.hasLevel = true
	}

	return &LevelTrie{root: root, fallback: fallback}, nil
}

// Fallback returns the level used when no rule matches.
func (t *LevelTrie) Fallback() int {
	return t.fallback
}

// Resolve returns the effective level for a dotted component path. The
// deepest rule on the path wins; when no rule matches (including the empty
// path) the fallback level is returned. Resolution never allocates, which
// keeps the sub-threshold fast path cheap.
func (t *LevelTrie) Resolve(path string) int {
	node := t.root
	best := t.fallback
	rest := path
	for rest != "" {
		var seg string
		if i := strings.IndexByte(rest, '.'); i >= 0 {
			seg, rest = rest[:i], rest[i+1:]
		} else {
			seg, rest = rest, ""
		}
		node = node.children[seg]
		if node == nil {
			break
		}
		if node.hasLevel {
			best = node.level
		}
	}
	return best
}
