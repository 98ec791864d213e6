package audit

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/howtoharden/hth/pkg/resource"
)

// Clock returns the evaluation time. Predicates take one so tests are stable.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// MaxAge flags records whose age in whole days exceeds maxDays.
// Records without a creation time are not flagged.
func MaxAge(maxDays int, clock Clock) Predicate {
	return NewPredicate("max-age", func(r resource.Record) (string, bool) {
		age, ok := r.AgeDays(clock.now())
		if !ok || age <= maxDays {
			return "", false
		}
		return fmt.Sprintf("is %d days old (max %d)", age, maxDays), true
	})
}

// MissingScopes flags records with an empty scope list.
func MissingScopes(reason string) Predicate {
	if reason == "" {
		reason = "has no scopes"
	}
	return NewPredicate("missing-scopes", func(r resource.Record) (string, bool) {
		if len(r.Scopes) > 0 {
			return "", false
		}
		return reason, true
	})
}

// MissingAttribute flags records whose attribute is absent, nil, "" or an empty list.
func MissingAttribute(key, reason string) Predicate {
	return NewPredicate("missing-"+key, func(r resource.Record) (string, bool) {
		v, ok := r.Attr(key)
		if !ok || isEmpty(v) {
			return reason, true
		}
		return "", false
	})
}

// NeverUsed flags records with no last-used time.
func NeverUsed(reason string) Predicate {
	if reason == "" {
		reason = "has never been used - consider removal"
	}
	return NewPredicate("never-used", func(r resource.Record) (string, bool) {
		if r.LastUsed != nil {
			return "", false
		}
		return reason, true
	})
}

// UnusedFor flags records last used longer than d ago. Never-used records
// are left to NeverUsed.
func UnusedFor(d time.Duration, clock Clock) Predicate {
	return NewPredicate("unused", func(r resource.Record) (string, bool) {
		if r.LastUsed == nil {
			return "", false
		}
		idle := clock.now().Sub(*r.LastUsed)
		if idle <= d {
			return "", false
		}
		return fmt.Sprintf("has not been used for %d days", int(idle.Hours()/24)), true
	})
}

// DangerousScopes flags a record holding any listed scope. All matches are
// reported in one issue so a record yields at most one issue per predicate.
// A trailing "*" matches by prefix.
func DangerousScopes(dangerous []string) Predicate {
	return NewPredicate("dangerous-scopes", func(r resource.Record) (string, bool) {
		var hits []string
		for _, s := range r.Scopes {
			if matchesAny(s, dangerous) && !slices.Contains(hits, s) {
				hits = append(hits, s)
			}
		}
		if len(hits) == 0 {
			return "", false
		}
		if len(hits) == 1 {
			return "has dangerous scope: " + hits[0], true
		}
		return "has dangerous scopes: " + strings.Join(hits, ", "), true
	})
}

// NotSeenWithin flags records whose LastSeen is older than d or missing.
func NotSeenWithin(d time.Duration, clock Clock) Predicate {
	return NewPredicate("not-seen", func(r resource.Record) (string, bool) {
		if r.LastSeen == nil {
			return "has never reported", true
		}
		if clock.now().Sub(*r.LastSeen) <= d {
			return "", false
		}
		return fmt.Sprintf("not reporting (last seen %s ago)", clock.now().Sub(*r.LastSeen).Round(time.Minute)), true
	})
}

// AttributeIs flags records whose attribute equals want.
func AttributeIs(key string, want any, reason string) Predicate {
	return NewPredicate(fmt.Sprintf("%s-is-%v", key, want), func(r resource.Record) (string, bool) {
		v, ok := r.Attr(key)
		if !ok || fmt.Sprint(v) != fmt.Sprint(want) {
			return "", false
		}
		return reason, true
	})
}

func matchesAny(scope string, patterns []string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(scope, prefix) {
				return true
			}
			continue
		}
		if scope == p {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
