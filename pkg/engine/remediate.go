package engine

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/howtoharden/hth/pkg/pack"
	"github.com/howtoharden/hth/pkg/vendors"
)

// StepResult is the outcome of one executed remediation step.
type StepResult struct {
	Description string `json:"description"`
	Method      string `json:"method"`
	Endpoint    string `json:"endpoint"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// PlanRemediation returns the API steps of c that apply given its scan
// result. A step without a condition always applies.
func PlanRemediation(c pack.Control, result ControlResult) []pack.Step {
	if c.Remediate == nil {
		return nil
	}
	var steps []pack.Step
	for _, step := range c.Remediate.API {
		if shouldRun(step.Condition, result) {
			steps = append(steps, step)
		}
	}
	return steps
}

// shouldRun evaluates "check-id" (run when it passed) or "!check-id" (run
// when it did not). A check missing from the result counts as not passed.
func shouldRun(condition string, result ControlResult) bool {
	if condition == "" {
		return true
	}
	id, negated := strings.CutPrefix(condition, "!")
	chk, ok := result.Check(id)
	passed := ok && chk.Status == StatusPass
	if negated {
		return !passed
	}
	return passed
}

// ExecuteRemediation runs steps in order. A failing step does not stop the
// ones after it.
func (e *Engine) ExecuteRemediation(ctx context.Context, steps []pack.Step, provider vendors.Provider) []StepResult {
	ctx, span := e.tracer.Start(ctx, "Engine.Remediate")
	defer span.End()
	span.SetAttributes(
		attribute.String("vendor", provider.Slug()),
		attribute.Int("steps", len(steps)),
	)

	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		res := StepResult{
			Description: step.Description,
			Method:      step.Method,
			Endpoint:    step.Endpoint,
		}
		if _, err := provider.Execute(ctx, step.Method, step.Endpoint, step.Body); err != nil {
			res.Error = err.Error()
			e.Logger.Warn("remediation step failed", "step", step.Description, "error", err)
		} else {
			res.Success = true
			e.Logger.Info("remediation step applied", "step", step.Description, "method", step.Method, "endpoint", step.Endpoint)
		}
		results = append(results, res)
	}
	return results
}
