// Package filter implements the rsync client's include/exclude filter
// rules: parsing "+ pattern" / "- pattern" rule lines off the wire,
// expanding each into the directory/contents variants rsync itself
// generates, and evaluating the resulting rule list against candidate
// file-list paths.
package filter

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Rule is one expanded include/exclude entry.
type Rule struct {
	Include bool
	Pattern string
	g       glob.Glob
}

// Rules is an ordered list of expanded filter rules.
type Rules []Rule

// ParseRule parses a single raw filter-rule line as received on the wire
// (already stripped of its length prefix) and expands it into up to three
// rules:
//
//	"+ foo/"  -> {+ foo/, + foo/*}
//	"+ foo/*" -> {+ foo/*}
//	"+ foo"   -> {+ foo, + foo/, + foo/*}
//
// A line that doesn't start with "+ " or "- " is not a filter rule at all;
// ParseRule returns an error so the caller can report it as a multiplexed
// warning without aborting the connection.
func ParseRule(raw string) ([]Rule, error) {
	raw = strings.TrimLeft(raw, " \t")
	if !strings.HasPrefix(raw, "+ ") && !strings.HasPrefix(raw, "- ") {
		return nil, fmt.Errorf("filter: unsupported rule %q", raw)
	}

	mode := raw[0] == '+'
	pattern := raw[2:]

	var patterns []string
	switch {
	case strings.HasSuffix(pattern, "/"):
		patterns = []string{pattern, pattern + "*"}
	case strings.HasSuffix(pattern, "/*"):
		patterns = []string{pattern}
	default:
		patterns = []string{pattern, pattern + "/", pattern + "/*"}
	}

	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("filter: compiling pattern %q: %w", p, err)
		}
		rules = append(rules, Rule{Include: mode, Pattern: p, g: g})
	}
	return rules, nil
}

// Add parses raw and appends its expanded rules to rs, reporting any
// parse failure via onError (which may be nil) rather than returning it:
// an unsupported rule warns the client but never aborts the connection.
func (rs *Rules) Add(raw string, onError func(string)) {
	expanded, err := ParseRule(raw)
	if err != nil {
		if onError != nil {
			onError(fmt.Sprintf("pulprsyncd: Unsupported filter %q", raw))
		}
		return
	}
	*rs = append(*rs, expanded...)
}

// Excluded reports whether path should be dropped from the synthesized
// file list. Directories are passed with a trailing slash. The first rule
// that matches decides; if none match, the path is included.
func (rs Rules) Excluded(path string) bool {
	for _, r := range rs {
		if r.g.Match(path) {
			return !r.Include
		}
	}
	return false
}
