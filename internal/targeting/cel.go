package targeting

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELEvaluator compiles and evaluates CEL expressions used by targeting
// rules with the "cel" operator. Expressions see the full request context
// as a string map named attrs, e.g.
//
//	attrs["country"] == "DE" && attrs["path"].startsWith("/checkout")
//
// Programs are compiled once per distinct expression and cached; evaluation
// is lock-free and safe for concurrent use.
type CELEvaluator struct {
	env    *cel.Env
	logger *slog.Logger

	mu       sync.RWMutex
	programs map[string]cel.Program // expression -> program, nil entry = known bad
}

// NewCELEvaluator creates a CELEvaluator with the attrs variable declared.
func NewCELEvaluator(logger *slog.Logger) (*CELEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CELEvaluator{
		env:      env,
		logger:   logger.With("component", "targeting.CELEvaluator"),
		programs: make(map[string]cel.Program),
	}, nil
}

// Matches evaluates the expression against the context map. Compile and
// evaluation errors are returned so the caller can fail the rule closed.
func (c *CELEvaluator) Matches(expr string, ctx map[string]string) (bool, error) {
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}

	if ctx == nil {
		ctx = map[string]string{}
	}
	out, _, err := prg.Eval(map[string]interface{}{"attrs": ctx})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %q: %w", expr, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression %q returned non-bool: %T", expr, out.Value())
	}
	return result, nil
}

func (c *CELEvaluator) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, seen := c.programs[expr]
	c.mu.RUnlock()
	if seen {
		if prg == nil {
			return nil, fmt.Errorf("CEL expression %q previously failed to compile", expr)
		}
		return prg, nil
	}

	compiled, err := c.compile(expr)
	c.mu.Lock()
	c.programs[expr] = compiled
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return compiled, nil
}

func (c *CELEvaluator) compile(expr string) (cel.Program, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}
	c.logger.Debug("compiled CEL targeting expression", "expression", expr)
	return prg, nil
}
