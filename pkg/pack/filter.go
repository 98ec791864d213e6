package pack

import (
	"slices"
	"strings"
)

// Filter keeps controls matching every non-empty criterion. Severities and
// tags match any listed value; ids match exactly.
func Filter(controls []Control, severities []Severity, tags, ids []string) []Control {
	var out []Control
	for _, c := range controls {
		if len(severities) > 0 && !slices.Contains(severities, c.Severity) {
			continue
		}
		if len(ids) > 0 && !slices.Contains(ids, c.ID) {
			continue
		}
		if len(tags) > 0 && !slices.ContainsFunc(tags, c.HasTag) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// SplitList turns "a, b,c" into [a b c], dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Tags returns the distinct tags across controls, sorted.
func Tags(controls []Control) []string {
	var out []string
	for _, c := range controls {
		for _, t := range c.Tags {
			t = strings.ToLower(t)
			if !slices.Contains(out, t) {
				out = append(out, t)
			}
		}
	}
	slices.Sort(out)
	return out
}
