// Package engine runs pack controls against a live vendor API: read-only
// audit checks, conditional remediation and Terraform generation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrWriteInScan is recorded on audit checks that use a method other than GET.
var ErrWriteInScan = errors.New("only GET is allowed in scan mode")

// Engine evaluates controls. The zero value is not usable; call New.
type Engine struct {
	Logger   *slog.Logger
	tracer   trace.Tracer
	parallel int
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger injects a logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.Logger = l
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithParallel bounds how many controls are audited at once.
func WithParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallel = n
		}
	}
}

// WithClock fixes the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine. Without WithLogger it logs nowhere.
func New(opts ...Option) *Engine {
	e := &Engine{
		parallel: 1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Logger == nil {
		e.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("hth/engine")
	}
	return e
}

// recoverCheck turns a panic inside a vendor call into an errored check.
func (e *Engine) recoverCheck(ctx context.Context, res *CheckResult) {
	if r := recover(); r != nil {
		stack := debug.Stack()
		_, span := e.tracer.Start(ctx, "CriticalPanic")
		span.RecordError(fmt.Errorf("%v", r), trace.WithStackTrace(true))
		span.SetStatus(codes.Error, "check panicked")
		span.SetAttributes(attribute.String("check.id", res.CheckID))
		span.End()

		e.Logger.Error("check panicked", "check", res.CheckID, "error", r, "stack", string(stack))
		res.Status = StatusError
		res.Actual = nil
		res.Error = fmt.Sprintf("check panicked: %v", r)
	}
}
