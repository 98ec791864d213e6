// Package rules compiles user-defined predicates (CEL expressions and Sigma
// rules) into audit.Predicate values.
package rules

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
	"github.com/howtoharden/hth/pkg/audit"
	"github.com/howtoharden/hth/pkg/resource"
)

// CELRule is a user-defined predicate, e.g.
// `record.age_days > 30 && "admin" in record.scopes`.
type CELRule struct {
	ID        string `json:"id"`
	Condition string `json:"condition"`
	Reason    string `json:"reason"`
}

// CELEngine compiles rules against the flattened record view.
type CELEngine struct {
	env   *cel.Env
	clock audit.Clock
}

// NewCELEngine initializes the CEL environment with the `record` variable.
func NewCELEngine(clock audit.Clock) (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	if clock == nil {
		clock = audit.SystemClock
	}
	return &CELEngine{env: env, clock: clock}, nil
}

// Compile turns a rule into a predicate. The expression must return a bool.
func (e *CELEngine) Compile(r CELRule) (audit.Predicate, error) {
	ast, issues := e.env.Compile(r.Condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rule %s compilation error: %w", r.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return nil, fmt.Errorf("rule %s must evaluate to bool, got %s", r.ID, ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rule %s program creation error: %w", r.ID, err)
	}

	reason := r.Reason
	if reason == "" {
		reason = "matched rule " + r.ID
	}
	return audit.NewPredicate(r.ID, func(rec resource.Record) (string, bool) {
		out, _, err := prg.Eval(map[string]any{"record": rec.Flatten(e.clock())})
		if err != nil {
			slog.Debug("Rule evaluation failed", "rule_id", r.ID, "record", rec.ID, "error", err)
			return "", false
		}
		if match, ok := out.Value().(bool); ok && match {
			return reason, true
		}
		return "", false
	}), nil
}
