package match

import (
	"fmt"
	"strings"
)

// Pattern is a compiled '*' wildcard matcher for one label pattern.
// Params: split literal segments and anchor flags.
// Returns: reusable matcher.
type Pattern struct {
	raw           string
	segments      []string
	anchoredStart bool
	anchoredEnd   bool
	any           bool
}

// Compile compiles one label pattern such as "received" or "return_*".
// Params: pattern may contain '*' wildcards.
// Returns: matcher and false when pattern is blank.
func Compile(pattern string) (Pattern, bool) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return Pattern{}, false
	}
	if p == "*" {
		return Pattern{raw: p, any: true}, true
	}

	return Pattern{
		raw:           p,
		segments:      strings.Split(p, "*"),
		anchoredStart: !strings.HasPrefix(p, "*"),
		anchoredEnd:   !strings.HasSuffix(p, "*"),
	}, true
}

// String returns the source pattern.
// Params: none.
// Returns: pattern text.
func (p Pattern) String() string {
	return p.raw
}

// Match reports whether value satisfies the pattern.
// Params: value compared label.
// Returns: true on match.
func (p Pattern) Match(value string) bool {
	if p.any {
		return true
	}
	if len(p.segments) == 0 {
		return false
	}
	if len(p.segments) == 1 {
		return value == p.segments[0]
	}

	cursor := 0
	first := 0
	if p.anchoredStart {
		if !strings.HasPrefix(value, p.segments[0]) {
			return false
		}
		cursor = len(p.segments[0])
		first = 1
	}

	last := len(p.segments) - 1
	limit := len(p.segments)
	if p.anchoredEnd {
		limit = last
	}

	for idx := first; idx < limit; idx++ {
		segment := p.segments[idx]
		if segment == "" {
			continue
		}
		offset := strings.Index(value[cursor:], segment)
		if offset < 0 {
			return false
		}
		cursor += offset + len(segment)
	}

	if p.anchoredEnd {
		tail := p.segments[last]
		return len(value)-cursor >= len(tail) && strings.HasSuffix(value, tail)
	}
	return true
}

// PatternSet is an ordered list of compiled patterns.
// Params: compiled patterns.
// Returns: allowlist matcher.
type PatternSet struct {
	patterns []Pattern
}

// CompileSet compiles every pattern; blank entries are configuration errors.
// Params: patterns source list.
// Returns: set or error naming the blank index.
func CompileSet(patterns []string) (PatternSet, error) {
	set := PatternSet{patterns: make([]Pattern, 0, len(patterns))}
	for idx, raw := range patterns {
		compiled, ok := Compile(raw)
		if !ok {
			return PatternSet{}, fmt.Errorf("pattern[%d] is empty", idx)
		}
		set.patterns = append(set.patterns, compiled)
	}
	return set, nil
}

// Empty reports whether the set holds no patterns.
// Params: none.
// Returns: true for an empty set.
func (s PatternSet) Empty() bool {
	return len(s.patterns) == 0
}

// MatchAny reports whether any pattern matches value.
// Params: value compared label.
// Returns: true on first match.
func (s PatternSet) MatchAny(value string) bool {
	for _, pattern := range s.patterns {
		if pattern.Match(value) {
			return true
		}
	}
	return false
}
