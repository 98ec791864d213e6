package audit

import (
	"iter"

	"github.com/howtoharden/hth/pkg/resource"
)

// Filter lazily applies every predicate to every record. Issues come out in
// record order, then predicate order; each (record, predicate) pair yields
// at most one issue.
func Filter(records []resource.Record, predicates []Predicate) iter.Seq[Issue] {
	return func(yield func(Issue) bool) {
		for _, r := range records {
			for _, p := range predicates {
				reason, hit := p.Evaluate(r)
				if !hit {
					continue
				}
				issue := Issue{
					Subject:  r.Subject(),
					Reason:   reason,
					Rule:     p.Name(),
					RecordID: r.ID,
					Vendor:   r.Vendor,
					Kind:     string(r.Kind),
				}
				if !yield(issue) {
					return
				}
			}
		}
	}
}

// Concat chains issue sequences.
func Concat(seqs ...iter.Seq[Issue]) iter.Seq[Issue] {
	return func(yield func(Issue) bool) {
		for _, s := range seqs {
			for i := range s {
				if !yield(i) {
					return
				}
			}
		}
	}
}

// Slice adapts a materialized slice to a sequence.
func Slice(issues []Issue) iter.Seq[Issue] {
	return func(yield func(Issue) bool) {
		for _, i := range issues {
			if !yield(i) {
				return
			}
		}
	}
}
