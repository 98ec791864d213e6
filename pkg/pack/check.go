package pack

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

// CheckEnv is the CEL environment every check expression is compiled in.
// The decoded response body is bound to `response`.
func CheckEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable("response", cel.DynType),
			ext.Strings(),
			ext.Lists(),
		)
		if envErr != nil {
			envErr = fmt.Errorf("failed to create CEL env: %w", envErr)
		}
	})
	return env, envErr
}

// CompileCheck parses and type-checks a check expression.
func CompileCheck(expr string) (cel.Program, error) {
	e, err := CheckEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := e.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("check compilation error: %w", issues.Err())
	}
	prg, err := e.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("check program creation error: %w", err)
	}
	return prg, nil
}
