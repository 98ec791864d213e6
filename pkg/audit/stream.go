package audit

import (
	"context"
	"time"

	"github.com/howtoharden/hth/pkg/resource"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultStreamLimit caps the records a Stream keeps for aggregation.
const DefaultStreamLimit = 100000

// Stream applies a routine's checks to records that arrive in batches.
// Predicates see each record once. Aggregators run over a rolling buffer of
// everything still inside the retention period, so a group can cross its
// threshold across many small batches. An aggregate issue is reported once
// and again only after its group has dropped back under the threshold.
type Stream struct {
	r        *Routine
	retain   time.Duration
	limit    int
	buf      []resource.Record
	reported map[string]bool
}

// NewStream builds a stream for vendor/kind. retain bounds the buffer by
// event time relative to the newest buffered record; zero keeps records
// until DefaultStreamLimit is reached.
func NewStream(vendor string, kind resource.Kind, retain time.Duration, opts ...Option) *Stream {
	return &Stream{
		r:        NewRoutine(vendor, kind, nil, opts...),
		retain:   retain,
		limit:    DefaultStreamLimit,
		reported: make(map[string]bool),
	}
}

// Buffered reports how many records the aggregators currently see.
func (s *Stream) Buffered() int { return len(s.buf) }

// Push checks one batch and reports the new issues. Result.Records counts
// the batch, not the buffer.
func (s *Stream) Push(ctx context.Context, batch []resource.Record) (Result, error) {
	res := Result{Vendor: s.r.Vendor, Kind: s.r.Kind, Records: len(batch)}
	_, span := s.r.Tracer.Start(ctx, "audit.Stream.Push", trace.WithAttributes(
		attribute.String("vendor", s.r.Vendor),
		attribute.String("kind", string(s.r.Kind)),
	))
	defer span.End()
	start := time.Now()

	s.buf = append(s.buf, batch...)
	s.prune()

	over := make(map[string]bool)
	var fresh []Issue
	for _, agg := range s.r.Aggregators {
		for _, issue := range agg.Aggregate(s.buf) {
			key := issue.Rule + "\x00" + issue.Subject
			over[key] = true
			if !s.reported[key] {
				fresh = append(fresh, issue)
			}
		}
	}
	s.reported = over

	n, err := s.r.Reporter.Report(Concat(Filter(batch, s.r.Predicates), Slice(fresh)))
	res.Issues = n
	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("audit.records", res.Records),
		attribute.Int("audit.buffered", len(s.buf)),
		attribute.Int("audit.issues", n),
	)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	s.r.Logger.Debug("stream batch", "vendor", s.r.Vendor, "kind", s.r.Kind,
		"records", res.Records, "buffered", len(s.buf), "issues", n)
	return res, nil
}

func (s *Stream) prune() {
	if s.retain > 0 {
		var newest time.Time
		for _, r := range s.buf {
			if r.CreatedAt != nil && r.CreatedAt.After(newest) {
				newest = *r.CreatedAt
			}
		}
		cutoff := newest.Add(-s.retain)
		kept := s.buf[:0]
		for _, r := range s.buf {
			if r.CreatedAt != nil && !r.CreatedAt.Before(cutoff) {
				kept = append(kept, r)
			}
		}
		clear(s.buf[len(kept):])
		s.buf = kept
	}
	if extra := len(s.buf) - s.limit; extra > 0 {
		s.buf = append([]resource.Record(nil), s.buf[extra:]...)
	}
}
