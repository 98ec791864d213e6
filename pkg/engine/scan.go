package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/howtoharden/hth/pkg/pack"
	"github.com/howtoharden/hth/pkg/vendors"
)

// Scan audits every control against provider. Controls above level are
// skipped; result order follows controls.
func (e *Engine) Scan(ctx context.Context, controls []pack.Control, provider vendors.Provider, level int) ScanReport {
	ctx, span := e.tracer.Start(ctx, "Engine.Scan")
	defer span.End()
	span.SetAttributes(
		attribute.String("vendor", provider.Slug()),
		attribute.Int("profile_level", level),
		attribute.Int("controls", len(controls)),
	)

	results := make([]ControlResult, len(controls))
	var g errgroup.Group
	g.SetLimit(e.parallel)
	for i, c := range controls {
		if !c.AppliesAt(level) {
			results[i] = controlResult(c, StatusSkip, nil)
			continue
		}
		g.Go(func() error {
			results[i] = e.AuditControl(ctx, c, provider)
			return nil
		})
	}
	_ = g.Wait()

	report := NewScanReport(provider.Slug(), level, e.now(), results)
	span.SetAttributes(
		attribute.Int("summary.failed", report.Summary.Failed),
		attribute.Int("summary.errors", report.Summary.Errors),
	)
	e.Logger.Info("scan complete",
		"vendor", report.Vendor,
		"total", report.Summary.Total,
		"passed", report.Summary.Passed,
		"failed", report.Summary.Failed,
		"skipped", report.Summary.Skipped,
		"errors", report.Summary.Errors,
	)
	return report
}

// AuditControl runs every check of one control. Any errored check makes the
// control an error; otherwise any failure makes it fail.
func (e *Engine) AuditControl(ctx context.Context, c pack.Control, provider vendors.Provider) ControlResult {
	checks := make([]CheckResult, 0, len(c.Audit))
	status := StatusPass
	for _, chk := range c.Audit {
		res := e.runCheck(ctx, chk, provider)
		switch {
		case res.Status == StatusError:
			status = StatusError
		case res.Status == StatusFail && status != StatusError:
			status = StatusFail
		}
		checks = append(checks, res)
	}
	e.Logger.Debug("control audited", "control", c.ID, "status", status)
	return controlResult(c, status, checks)
}

func controlResult(c pack.Control, status Status, checks []CheckResult) ControlResult {
	if checks == nil {
		checks = []CheckResult{}
	}
	return ControlResult{
		ControlID:    c.ID,
		Title:        c.Title,
		Severity:     c.Severity,
		ProfileLevel: c.ProfileLevel,
		Status:       status,
		Checks:       checks,
		Compliance:   c.Compliance,
	}
}

func (e *Engine) runCheck(ctx context.Context, chk pack.Check, provider vendors.Provider) (res CheckResult) {
	ctx, span := e.tracer.Start(ctx, "Engine.Check")
	defer span.End()
	span.SetAttributes(
		attribute.String("check.id", chk.ID),
		attribute.String("check.endpoint", chk.API.Endpoint),
	)

	start := time.Now()
	res = CheckResult{
		CheckID:     chk.ID,
		Description: chk.Description,
		Expected:    chk.Expected,
	}
	defer func() {
		res.DurationMS = time.Since(start).Milliseconds()
		span.SetAttributes(attribute.String("check.status", string(res.Status)))
		if res.Status == StatusError {
			span.SetStatus(codes.Error, res.Error)
		}
	}()
	defer e.recoverCheck(ctx, &res)

	if chk.API.Method != http.MethodGet {
		res.Status = StatusError
		res.Error = fmt.Sprintf("audit check uses %s: %v", chk.API.Method, ErrWriteInScan)
		return res
	}

	response, err := provider.Execute(ctx, chk.API.Method, chk.API.Endpoint, nil)
	if err != nil {
		res.Status = StatusError
		res.Error = fmt.Sprintf("API call failed: %v", err)
		e.Logger.Warn("check request failed", "check", chk.ID, "endpoint", chk.API.Endpoint, "error", err)
		return res
	}

	got, err := Evaluate(chk.API.Check, response)
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}
	res.Actual = &got
	if got == chk.Expected {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
	}
	return res
}

// Evaluate runs a check expression against a decoded response body and
// coerces the outcome to a boolean.
func Evaluate(expr string, response any) (bool, error) {
	prg, err := pack.CompileCheck(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"response": response})
	if err != nil {
		return false, fmt.Errorf("check evaluation failed: %w", err)
	}
	return truthy(out), nil
}

// truthy treats null, zero numbers and empty strings, lists and maps as false.
func truthy(v ref.Val) bool {
	switch val := v.(type) {
	case types.Bool:
		return bool(val)
	case types.Null:
		return false
	case types.String:
		return val != ""
	case types.Int:
		return val != 0
	case types.Uint:
		return val != 0
	case types.Double:
		return val != 0
	}
	if s, ok := v.(traits.Sizer); ok {
		return s.Size() != types.IntZero
	}
	return true
}
