// Package chain holds the named business-rule chains that nodes and
// transitions execute.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// ErrChainNotFound is returned when no chain is registered under an id.
var ErrChainNotFound = errors.New("chain not found")

// Context is what a running chain sees. WorkflowVariables and
// NodeVariables are private copies; the caller writes back what changed.
type Context struct {
	RouteID           string
	NodeID            string
	Documents         []string
	WorkflowVariables map[string]any
	NodeVariables     map[string]any
	// Vars is the evaluation context of the node, read-only.
	Vars map[string]any
}

// Chain is a named sequence of operations.
type Chain interface {
	Run(ctx context.Context, c *Context) error
}

// Func adapts a function to the Chain interface.
type Func func(ctx context.Context, c *Context) error

func (f Func) Run(ctx context.Context, c *Context) error {
	return f(ctx, c)
}

// Runner executes a chain by id.
type Runner interface {
	Run(ctx context.Context, chainID string, c *Context) error
}

// Registry maps chain ids to chains.
type Registry struct {
	mu     sync.RWMutex
	logger *slog.Logger
	chains map[string]Chain
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		chains: make(map[string]Chain),
	}
}

// Register adds or replaces the chain stored under id.
func (r *Registry) Register(id string, chain Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.chains[id]; exists {
		r.logger.Warn("Replacing registered chain", "chain_id", id)
	}

	r.chains[id] = chain
}

func (r *Registry) Get(id string) (Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain, ok := r.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChainNotFound, id)
	}

	return chain, nil
}

// IDs returns the registered chain ids in lexical order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.chains))
}

// Run executes the chain registered under chainID.
func (r *Registry) Run(ctx context.Context, chainID string, c *Context) error {
	chain, err := r.Get(chainID)
	if err != nil {
		return err
	}

	r.logger.DebugContext(ctx, "Running chain", "chain_id", chainID, "route_id", c.RouteID, "node_id", c.NodeID)

	err = chain.Run(ctx, c)
	if err != nil {
		return fmt.Errorf("chain %s failed: %w", chainID, err)
	}

	return nil
}
