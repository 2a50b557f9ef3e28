package scenario

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// exprEngine compiles CEL assertions once and evaluates them against a
// response. Expressions see:
//
//	status  int
//	body    dyn (decoded JSON, null when the body is not JSON)
//	headers map(string, string), keys in canonical MIME form
//	vars    map(string, dyn)
type exprEngine struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newExprEngine() (*exprEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("status", cel.IntType),
		cel.Variable("body", cel.DynType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("vars", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &exprEngine{env: env, programs: make(map[string]cel.Program)}, nil
}

func (e *exprEngine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.programs[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.programs[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}
	e.programs[expr] = prg
	return prg, nil
}

// Eval reports whether expr holds for the given activation.
func (e *exprEngine) Eval(expr string, input map[string]any) error {
	prg, err := e.program(expr)
	if err != nil {
		return fmt.Errorf("expr %q: %w", expr, err)
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return fmt.Errorf("expr %q: CEL eval error: %w", expr, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return fmt.Errorf("expr %q: result is not boolean", expr)
	}
	if !ok {
		return fmt.Errorf("expr %q is false", expr)
	}
	return nil
}
