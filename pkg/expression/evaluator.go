// Package expression evaluates the condition and value expressions authored on routes.
package expression

import (
	"context"
	"errors"
)

// ErrEmptyExpression is returned when an expression is blank.
var ErrEmptyExpression = errors.New("empty expression")

// Evaluator evaluates an expression against a set of named variables.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error)
}

// Func adapts a function to the Evaluator interface.
type Func func(ctx context.Context, expression string, vars map[string]any) (any, error)

func (f Func) Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error) {
	return f(ctx, expression, vars)
}
