package audit

import (
	"fmt"
	"time"

	"github.com/howtoharden/hth/pkg/resource"
)

// CountBy groups matching records by Key and reports every group whose
// count exceeds Threshold. Groups are reported in first-appearance order.
type CountBy struct {
	// ID names the aggregator in issues.
	ID string
	// Key extracts the group key; records with an empty key count as "unknown".
	Key func(resource.Record) string
	// Match selects the records to count; nil counts every record.
	Match func(resource.Record) bool
	// Threshold is exclusive: a group must count more than this to be reported.
	Threshold int
	// Window, when positive, counts only records whose CreatedAt falls in
	// [end-Window, end]. Records without a time are skipped.
	Window time.Duration
	// AnchorLatest ends the window at the newest matching record instead of
	// the clock, so logs read after the fact are counted as they were written.
	AnchorLatest bool
	Clock        Clock
	// Format renders the reason; nil uses "N events (max M)".
	Format func(key string, count int) string
}

func (c CountBy) Name() string { return c.ID }

// Aggregate implements Aggregator.
func (c CountBy) Aggregate(records []resource.Record) []Issue {
	counts := make(map[string]int)
	var order []string
	var vendor, kind string
	end := c.windowEnd(records)

	for _, r := range records {
		if c.Match != nil && !c.Match(r) {
			continue
		}
		if c.Window > 0 {
			if r.CreatedAt == nil {
				continue
			}
			if r.CreatedAt.Before(end.Add(-c.Window)) || r.CreatedAt.After(end) {
				continue
			}
		}
		key := c.Key(r)
		if key == "" {
			key = "unknown"
		}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
		vendor, kind = r.Vendor, string(r.Kind)
	}

	var issues []Issue
	for _, key := range order {
		n := counts[key]
		if n <= c.Threshold {
			continue
		}
		issues = append(issues, Issue{
			Subject: key,
			Reason:  c.reason(key, n),
			Rule:    c.ID,
			Vendor:  vendor,
			Kind:    kind,
		})
	}
	return issues
}

func (c CountBy) windowEnd(records []resource.Record) time.Time {
	if !c.AnchorLatest {
		return c.Clock.now()
	}
	var end time.Time
	for _, r := range records {
		if r.CreatedAt == nil || (c.Match != nil && !c.Match(r)) {
			continue
		}
		if r.CreatedAt.After(end) {
			end = *r.CreatedAt
		}
	}
	return end
}

func (c CountBy) reason(key string, n int) string {
	if c.Format != nil {
		return c.Format(key, n)
	}
	if c.Window > 0 {
		return fmt.Sprintf("%d events in %s (max %d)", n, c.Window, c.Threshold)
	}
	return fmt.Sprintf("%d events (max %d)", n, c.Threshold)
}

// AttrKey groups by a string attribute.
func AttrKey(key string) func(resource.Record) string {
	return func(r resource.Record) string {
		return r.AttrString(key)
	}
}
