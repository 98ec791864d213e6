package engine

import (
	"time"

	"github.com/howtoharden/hth/pkg/pack"
)

// Status is the outcome of a control or a single check. Checks never skip.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusSkip  Status = "skip"
	StatusError Status = "error"
)

// Label is the upper-case form used in tables.
func (s Status) Label() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusFail:
		return "FAIL"
	case StatusSkip:
		return "SKIP"
	case StatusError:
		return "ERROR"
	}
	return string(s)
}

// CheckResult is one evaluated audit check.
type CheckResult struct {
	CheckID     string `json:"check_id"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	// Actual is the coerced check outcome; nil when the check errored.
	Actual     *bool  `json:"actual"`
	Expected   bool   `json:"expected"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ControlResult aggregates the checks of one control.
type ControlResult struct {
	ControlID    string          `json:"control_id"`
	Title        string          `json:"title"`
	Severity     pack.Severity   `json:"severity"`
	ProfileLevel int             `json:"profile_level"`
	Status       Status          `json:"status"`
	Checks       []CheckResult   `json:"checks"`
	Compliance   pack.Compliance `json:"compliance"`
}

// Passed counts passing checks.
func (r ControlResult) Passed() int {
	n := 0
	for _, c := range r.Checks {
		if c.Status == StatusPass {
			n++
		}
	}
	return n
}

// Check returns the result for a check id.
func (r ControlResult) Check(id string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.CheckID == id {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Summary counts control outcomes.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Summarize tallies control statuses.
func Summarize(controls []ControlResult) Summary {
	s := Summary{Total: len(controls)}
	for _, c := range controls {
		switch c.Status {
		case StatusPass:
			s.Passed++
		case StatusFail:
			s.Failed++
		case StatusSkip:
			s.Skipped++
		case StatusError:
			s.Errors++
		}
	}
	return s
}

// ScanReport is the result of scanning one vendor.
type ScanReport struct {
	Vendor       string          `json:"vendor"`
	ProfileLevel int             `json:"profile_level"`
	Timestamp    time.Time       `json:"timestamp"`
	Controls     []ControlResult `json:"controls"`
	Summary      Summary         `json:"summary"`
}

// NewScanReport builds a report and its summary.
func NewScanReport(vendor string, level int, ts time.Time, controls []ControlResult) ScanReport {
	return ScanReport{
		Vendor:       vendor,
		ProfileLevel: level,
		Timestamp:    ts.UTC(),
		Controls:     controls,
		Summary:      Summarize(controls),
	}
}

// ExitCode is 1 when any control failed or errored.
func (r ScanReport) ExitCode() int {
	if r.Summary.Failed > 0 || r.Summary.Errors > 0 {
		return 1
	}
	return 0
}

// FailsAt reports whether a failed or errored control is at least as severe
// as min. An empty min behaves like ExitCode.
func (r ScanReport) FailsAt(min pack.Severity) bool {
	for _, c := range r.Controls {
		if c.Status != StatusFail && c.Status != StatusError {
			continue
		}
		if min == "" || c.Severity.Rank() >= min.Rank() {
			return true
		}
	}
	return false
}

// Result looks up a control result by id.
func (r ScanReport) Result(controlID string) (ControlResult, bool) {
	for _, c := range r.Controls {
		if c.ControlID == controlID {
			return c, true
		}
	}
	return ControlResult{}, false
}
