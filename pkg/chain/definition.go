package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dukex/routing/pkg/expression"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Variable scopes a declarative step can write to.
const (
	ScopeWorkflow = "workflow"
	ScopeNode     = "node"
)

// Definition is a chain authored as a list of variable assignments.
type Definition struct {
	ID          string `yaml:"id"                    validate:"required"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"                 validate:"required,min=1,dive"`
}

// Step assigns Value, a literal or an "expr:" expression, to a variable.
type Step struct {
	Scope string `yaml:"scope" validate:"required,oneof=workflow node"`
	Name  string `yaml:"name"  validate:"required"`
	Value string `yaml:"value"`
}

type document struct {
	Chains []Definition `yaml:"chains" validate:"dive"`
}

// ParseDefinitions decodes and validates a YAML document holding a
// top-level "chains" list.
func ParseDefinitions(r io.Reader) ([]Definition, error) {
	var doc document

	err := yaml.NewDecoder(r).Decode(&doc)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode chain definitions: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = validate.Struct(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid chain definitions: %w", err)
	}

	return doc.Chains, nil
}

// Compile turns the definition into a Chain whose expressions are
// evaluated by evaluator. Each step sees the writes of the previous ones.
func (d Definition) Compile(evaluator expression.Evaluator) Chain {
	steps := slices.Clone(d.Steps)

	return Func(func(ctx context.Context, c *Context) error {
		if c.WorkflowVariables == nil {
			c.WorkflowVariables = make(map[string]any)
		}

		if c.NodeVariables == nil {
			c.NodeVariables = make(map[string]any)
		}

		for i, step := range steps {
			vars := maps.Clone(c.Vars)
			if vars == nil {
				vars = make(map[string]any)
			}

			vars["WorkflowVariables"] = c.WorkflowVariables
			vars["NodeVariables"] = c.NodeVariables

			value, err := expression.ValueOrExpression(ctx, evaluator, step.Value, vars)
			if err != nil {
				return fmt.Errorf("step %d of chain %s: %w", i, d.ID, err)
			}

			switch step.Scope {
			case ScopeWorkflow:
				c.WorkflowVariables[step.Name] = value
			case ScopeNode:
				c.NodeVariables[step.Name] = value
			default:
				return fmt.Errorf("step %d of chain %s: unknown scope %q", i, d.ID, step.Scope)
			}
		}

		return nil
	})
}

// LoadDir registers every chain defined in the *.yaml and *.yml files of dir.
// A missing directory is not an error.
func (r *Registry) LoadDir(dir string, evaluator expression.Evaluator) (int, error) {
	if dir == "" {
		return 0, nil
	}

	loaded := 0

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		ext := strings.ToLower(filepath.Ext(path))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open chain file %s: %w", path, err)
		}

		defer func() {
			closeErr := file.Close()
			if closeErr != nil {
				r.logger.Error("Failed to close chain file", "path", path, "error", closeErr)
			}
		}()

		definitions, err := ParseDefinitions(file)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		for _, definition := range definitions {
			r.Register(definition.ID, definition.Compile(evaluator))
			loaded++
		}

		r.logger.Info("Loaded chain definitions", "path", path, "count", len(definitions))

		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("Chains directory not found", "path", dir)

		return 0, nil
	}

	if err != nil {
		return loaded, err
	}

	return loaded, nil
}
