// Package matcher selects collections by name pattern. Patterns are shell
// globs ("team*", "league_?") unless wrapped in slashes ("/^team(s)?$/"),
// which makes them regular expressions.
package matcher

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/agentstation/rallysync/pkg/errors"
)

// PatternType represents the type of pattern matching to use.
type PatternType int

const (
	// Glob uses shell-style glob patterns (*, ?, []).
	Glob PatternType = iota
	// Regex uses regular expressions.
	Regex
)

// String returns a string representation of the PatternType.
func (pt PatternType) String() string {
	if pt == Regex {
		return "regex"
	}
	return "glob"
}

// Matcher matches names against one compiled pattern.
type Matcher struct {
	pattern     string
	patternType PatternType
	re          *regexp.Regexp
}

// New compiles pattern. An invalid pattern is a validation error on the
// given field.
func New(field, pattern string) (*Matcher, error) {
	m := &Matcher{pattern: pattern}
	if len(pattern) >= 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
		re, err := regexp.Compile(pattern[1 : len(pattern)-1])
		if err != nil {
			return nil, errors.NewValidationError(field, pattern, fmt.Sprintf("invalid regex pattern: %v", err))
		}
		m.patternType = Regex
		m.re = re
		return m, nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, errors.NewValidationError(field, pattern, "invalid glob pattern")
	}
	return m, nil
}

// Match reports whether name matches the pattern. Globs match the whole
// name; regexes match anywhere unless anchored.
func (m *Matcher) Match(name string) bool {
	if m.patternType == Regex {
		return m.re.MatchString(name)
	}
	ok, _ := path.Match(m.pattern, name)
	return ok
}

// Pattern returns the original pattern string.
func (m *Matcher) Pattern() string { return m.pattern }

// Type returns the pattern type being used.
func (m *Matcher) Type() PatternType { return m.patternType }

// Multi matches when any of its patterns does. An empty Multi matches
// everything.
type Multi []*Matcher

// NewMulti compiles every pattern.
func NewMulti(field string, patterns ...string) (Multi, error) {
	multi := make(Multi, 0, len(patterns))
	for _, p := range patterns {
		m, err := New(field, p)
		if err != nil {
			return nil, err
		}
		multi = append(multi, m)
	}
	return multi, nil
}

// Match reports whether name matches any pattern.
func (mm Multi) Match(name string) bool {
	if len(mm) == 0 {
		return true
	}
	for _, m := range mm {
		if m.Match(name) {
			return true
		}
	}
	return false
}

// Unmatched returns the patterns that match none of names, in order.
func (mm Multi) Unmatched(names ...string) []string {
	var out []string
	for _, m := range mm {
		hit := false
		for _, n := range names {
			if m.Match(n) {
				hit = true
				break
			}
		}
		if !hit {
			out = append(out, m.pattern)
		}
	}
	return out
}

// IsPattern reports whether s uses any glob or regex syntax.
func IsPattern(s string) bool {
	return strings.ContainsAny(s, "*?[") || (len(s) >= 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/"))
}
