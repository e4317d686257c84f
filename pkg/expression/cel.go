package expression

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultProgramCacheSize = 512

// CEL evaluates expressions written in the Common Expression Language.
// Every variable is declared dynamically typed; compiled programs are
// cached per expression and variable set.
type CEL struct {
	base     *cel.Env
	programs *lru.Cache[string, cel.Program]
	logger   *slog.Logger
}

// NewCEL creates a CEL evaluator caching up to cacheSize compiled programs.
func NewCEL(logger *slog.Logger, cacheSize int) (*CEL, error) {
	if cacheSize <= 0 {
		cacheSize = defaultProgramCacheSize
	}

	base, err := cel.NewEnv(ext.Strings(), ext.Lists())
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	programs, err := lru.New[string, cel.Program](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create program cache: %w", err)
	}

	return &CEL{
		base:     base,
		programs: programs,
		logger:   logger,
	}, nil
}

// Evaluate compiles expression against the names of vars and evaluates it.
func (c *CEL) Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, ErrEmptyExpression
	}

	program, err := c.program(expression, vars)
	if err != nil {
		return nil, err
	}

	out, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}

	return native(out)
}

func (c *CEL) program(expression string, vars map[string]any) (cel.Program, error) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}

	slices.Sort(names)

	key := strings.Join(names, ",") + "\x00" + expression
	if program, ok := c.programs.Get(key); ok {
		return program, nil
	}

	declarations := make([]cel.EnvOption, 0, len(names))
	for _, name := range names {
		declarations = append(declarations, cel.Variable(name, cel.DynType))
	}

	env, err := c.base.Extend(declarations...)
	if err != nil {
		return nil, fmt.Errorf("failed to declare expression variables: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expression, issues.Err())
	}

	program, err := env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("failed to build program for expression %q: %w", expression, err)
	}

	c.programs.Add(key, program)
	c.logger.Debug("Compiled expression", "expression", expression)

	return program, nil
}

// native converts a CEL value to plain Go values: lists become []any and
// maps become map[string]any.
func native(val ref.Val) (any, error) {
	switch v := val.(type) {
	case types.Null:
		return nil, nil
	case traits.Lister:
		out, err := v.ConvertToNative(reflect.TypeOf([]any{}))
		if err != nil {
			return nil, fmt.Errorf("failed to convert list result: %w", err)
		}

		return out, nil
	case traits.Mapper:
		out, err := v.ConvertToNative(reflect.TypeOf(map[string]any{}))
		if err != nil {
			return nil, fmt.Errorf("failed to convert map result: %w", err)
		}

		return out, nil
	default:
		return val.Value(), nil
	}
}
