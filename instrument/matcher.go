package instrument

import (
	"strings"

	"github.com/wippyai/continuations/instrument/internal/engine"
)

// CallMatcher selects call sites by the member they invoke.
type CallMatcher = engine.CallMatcher

// ExactMatcher matches "owner.name", "owner.name(desc)" or just "name".
type ExactMatcher struct {
	patterns map[string]bool
}

// NewExactMatcher creates a matcher from a list of patterns.
func NewExactMatcher(patterns []string) *ExactMatcher {
	m := &ExactMatcher{patterns: make(map[string]bool)}
	for _, p := range patterns {
		m.patterns[p] = true
	}
	return m
}

// Match returns true if the member matches any pattern.
func (m *ExactMatcher) Match(owner, name, desc string) bool {
	full := owner + "." + name
	return m.patterns[full+desc] || m.patterns[full] || m.patterns[name]
}

// WildcardMatcher matches call patterns with wildcard support.
//
// Supports patterns like:
//   - "owner.name" - exact match
//   - "owner.name(desc)" - exact match including descriptor
//   - "name" - matches any owner with this method name
//   - "owner.*" - matches all methods of owner
//   - "pkg/*" - matches all owners under a package prefix
//   - "*" - matches everything
type WildcardMatcher struct {
	exact    map[string]bool
	names    map[string]bool
	owners   map[string]bool
	prefixes []string
	matchAll bool
}

// NewWildcardMatcher creates a matcher with wildcard support.
func NewWildcardMatcher(patterns []string) *WildcardMatcher {
	m := &WildcardMatcher{
		exact:  make(map[string]bool),
		names:  make(map[string]bool),
		owners: make(map[string]bool),
	}
	for _, p := range patterns {
		switch {
		case p == "*":
			m.matchAll = true
		case strings.HasSuffix(p, ".*"):
			m.owners[strings.TrimSuffix(p, ".*")] = true
		case strings.HasSuffix(p, "/*"):
			m.prefixes = append(m.prefixes, strings.TrimSuffix(p, "*"))
		case strings.Contains(p, "."):
			m.exact[p] = true
		default:
			m.names[p] = true
		}
	}
	return m
}

// Match returns true if the member matches any pattern.
func (m *WildcardMatcher) Match(owner, name, desc string) bool {
	if m.matchAll || m.owners[owner] {
		return true
	}
	full := owner + "." + name
	if m.exact[full] || m.exact[full+desc] {
		return true
	}
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(owner, prefix) {
			return true
		}
	}
	return m.names[name]
}

// CompositeMatcher combines multiple matchers.
type CompositeMatcher struct {
	matchers []CallMatcher
}

// NewCompositeMatcher creates a matcher that matches if any sub-matcher matches.
func NewCompositeMatcher(matchers ...CallMatcher) *CompositeMatcher {
	return &CompositeMatcher{matchers: matchers}
}

// Match returns true if any sub-matcher matches.
func (m *CompositeMatcher) Match(owner, name, desc string) bool {
	for _, matcher := range m.matchers {
		if matcher != nil && matcher.Match(owner, name, desc) {
			return true
		}
	}
	return false
}
