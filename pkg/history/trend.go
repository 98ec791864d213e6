package history

import (
	"fmt"
	"slices"
)

// Change compares a snapshot with the previous one for the same vendor.
type Change struct {
	Snapshot
	// DeltaFailed is the change in failed plus errored controls.
	DeltaFailed int `json:"delta_failed"`
	// NewlyFailing lists controls that were not failing in the previous run.
	NewlyFailing []string `json:"newly_failing,omitempty"`
	Fixed        []string `json:"fixed,omitempty"`
	Regression   bool     `json:"regression"`
}

// Analyze walks snapshots in order and flags regressions: runs where more
// controls fail than in the previous run of the same vendor, or where a
// control starts failing. The first run of a vendor is never a regression.
func Analyze(history []Snapshot) []Change {
	prev := make(map[string]Snapshot)
	changes := make([]Change, 0, len(history))
	for _, s := range history {
		c := Change{Snapshot: s}
		if p, ok := prev[s.Vendor]; ok {
			c.DeltaFailed = bad(s) - bad(p)
			for _, id := range s.Failing {
				if !slices.Contains(p.Failing, id) {
					c.NewlyFailing = append(c.NewlyFailing, id)
				}
			}
			for _, id := range p.Failing {
				if !slices.Contains(s.Failing, id) {
					c.Fixed = append(c.Fixed, id)
				}
			}
			c.Regression = c.DeltaFailed > 0 || len(c.NewlyFailing) > 0
		}
		prev[s.Vendor] = s
		changes = append(changes, c)
	}
	return changes
}

// Alerts renders one line per regression.
func Alerts(changes []Change) []string {
	var out []string
	for _, c := range changes {
		if !c.Regression {
			continue
		}
		line := fmt.Sprintf("[REGRESSION] %s: failing controls %+d", c.Vendor, c.DeltaFailed)
		if len(c.NewlyFailing) > 0 {
			line += fmt.Sprintf(" (newly failing: %v)", c.NewlyFailing)
		}
		out = append(out, line)
	}
	return out
}

func bad(s Snapshot) int { return s.Summary.Failed + s.Summary.Errors }
