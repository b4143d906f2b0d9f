// Package cel compiles server supplied filter expressions over a single event.
// Expressions see two variables: event_name (string) and params (map).
package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"appevents/pkg/models"
)

const (
	varEventName = "event_name"
	varParams    = "params"

	// costLimit bounds the work one expression may do per event.
	costLimit = 10000
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable(varEventName, cel.StringType),
		cel.Variable(varParams, cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Filter is a compiled boolean expression. It is safe for concurrent use.
type Filter struct {
	Expression string
	program    cel.Program
}

// Compile type-checks expression and rejects anything that does not
// produce a bool.
func (e *Evaluator) Compile(expression string) (*Filter, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression %q: %w", expression, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast,
		cel.CostLimit(costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return &Filter{Expression: expression, program: program}, nil
}

// Match evaluates the filter against one event. A missing param key is an
// evaluation error, not false; guard with has() when a key is optional.
func (f *Filter) Match(ctx context.Context, eventName string, params models.Params) (bool, error) {
	result, _, err := f.program.ContextEval(ctx, map[string]interface{}{
		varEventName: eventName,
		varParams:    params.ToMap(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}
	return matched, nil
}

// Evaluate compiles and runs expression in one step.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, eventName string, params models.Params) (bool, error) {
	f, err := e.Compile(expression)
	if err != nil {
		return false, err
	}
	return f.Match(ctx, eventName, params)
}
