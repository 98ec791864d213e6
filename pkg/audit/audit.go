// Package audit implements the generic fetch -> filter/aggregate -> report
// routine shared by every vendor credential and activity audit.
package audit

import (
	"context"
	"fmt"

	"github.com/howtoharden/hth/pkg/resource"
)

// Fetcher returns the current snapshot of one resource kind. An empty,
// nil-error result is a valid outcome.
type Fetcher interface {
	Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, kind resource.Kind) ([]resource.Record, error)

func (f FetcherFunc) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	return f(ctx, kind)
}

// Issue is one finding. Values are immutable once produced.
type Issue struct {
	// Subject names the record or group the issue is about.
	Subject string `json:"subject"`
	Reason  string `json:"reason"`
	// Rule is the predicate or aggregator that produced the issue.
	Rule string `json:"rule"`
	// RecordID is empty for aggregate issues.
	RecordID string `json:"record_id,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// String renders the issue as a single report line.
func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Subject, i.Reason)
}

// Predicate decides whether one record is an issue.
type Predicate interface {
	Name() string
	// Evaluate returns the issue reason and true when the record violates the rule.
	Evaluate(r resource.Record) (string, bool)
}

// Aggregator produces issues from the whole record set.
type Aggregator interface {
	Name() string
	Aggregate(records []resource.Record) []Issue
}

type predicateFunc struct {
	name string
	fn   func(resource.Record) (string, bool)
}

func (p predicateFunc) Name() string { return p.name }

func (p predicateFunc) Evaluate(r resource.Record) (string, bool) { return p.fn(r) }

// NewPredicate wraps fn as a named Predicate.
func NewPredicate(name string, fn func(resource.Record) (string, bool)) Predicate {
	return predicateFunc{name: name, fn: fn}
}
