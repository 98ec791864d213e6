package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/howtoharden/hth/pkg/resource"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoFetcher is returned when a routine is run without a fetcher.
var ErrNoFetcher = errors.New("audit routine has no fetcher")

// FetchError wraps a fetcher failure with the vendor and kind. The vendor
// error types stay reachable through errors.As.
type FetchError struct {
	Vendor string
	Kind   resource.Kind
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s/%s: %v", e.Vendor, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Result summarizes one run.
type Result struct {
	Vendor   string
	Kind     resource.Kind
	Records  int
	Issues   int
	Duration time.Duration
}

// Routine runs fetch -> filter -> aggregate -> report once, synchronously.
type Routine struct {
	Vendor      string
	Kind        resource.Kind
	Fetcher     Fetcher
	Predicates  []Predicate
	Aggregators []Aggregator
	Reporter    Reporter
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

// Option configures a Routine.
type Option func(*Routine)

// WithPredicates appends per-record predicates.
func WithPredicates(p ...Predicate) Option {
	return func(r *Routine) {
		r.Predicates = append(r.Predicates, p...)
	}
}

// WithAggregators appends cross-record aggregators.
func WithAggregators(a ...Aggregator) Option {
	return func(r *Routine) {
		r.Aggregators = append(r.Aggregators, a...)
	}
}

// WithReporter sets the issue sink.
func WithReporter(rep Reporter) Option {
	return func(r *Routine) {
		r.Reporter = rep
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Routine) {
		if l != nil {
			r.Logger = l
		}
	}
}

// NewRoutine builds a routine for vendor/kind. Without WithReporter, issues
// are counted and discarded.
func NewRoutine(vendor string, kind resource.Kind, f Fetcher, opts ...Option) *Routine {
	r := &Routine{
		Vendor:   vendor,
		Kind:     kind,
		Fetcher:  f,
		Reporter: NewLineReporter(io.Discard),
		Logger:   slog.Default(),
		Tracer:   otel.Tracer("hth/audit"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the routine. Fetch failures are returned as *FetchError and
// nothing is reported.
func (r *Routine) Run(ctx context.Context) (Result, error) {
	res := Result{Vendor: r.Vendor, Kind: r.Kind}
	if r.Fetcher == nil {
		return res, ErrNoFetcher
	}

	ctx, span := r.Tracer.Start(ctx, "audit.Run", trace.WithAttributes(
		attribute.String("vendor", r.Vendor),
		attribute.String("kind", string(r.Kind)),
	))
	defer span.End()
	start := time.Now()

	records, err := r.Fetcher.Fetch(ctx, r.Kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return res, &FetchError{Vendor: r.Vendor, Kind: r.Kind, Err: err}
	}
	res.Records = len(records)
	r.Logger.Debug("fetched records", "vendor", r.Vendor, "kind", r.Kind, "count", len(records))

	seqs := Filter(records, r.Predicates)
	for _, agg := range r.Aggregators {
		seqs = Concat(seqs, Slice(agg.Aggregate(records)))
	}

	n, err := r.Reporter.Report(seqs)
	res.Issues = n
	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("audit.records", res.Records),
		attribute.Int("audit.issues", res.Issues),
	)
	if err != nil {
		span.RecordError(err)
		return res, err
	}

	r.Logger.Info("audit complete", "vendor", r.Vendor, "kind", r.Kind,
		"records", res.Records, "issues", res.Issues, "duration", res.Duration)
	return res, nil
}
