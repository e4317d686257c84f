package routing

import (
	"fmt"
	"maps"
	"sync"

	"github.com/dukex/routing/pkg/models"
)

// Graph is the executable view of a route. Node indexing, input
// transitions and loop classification are computed once, on first use.
type Graph struct {
	route  *models.GraphRoute
	engine *Engine

	once    sync.Once
	err     error
	nodes   map[string]*Node
	ordered []*Node
	start   *Node
	// topo is the reverse post-order index of every node reachable from start.
	topo map[string]int
}

// NewGraph wraps route without an engine. Such a graph supports the
// structural operations only; use Engine.NewGraph to execute it.
func NewGraph(route *models.GraphRoute) *Graph {
	return &Graph{route: route}
}

func (g *Graph) Route() *models.GraphRoute {
	return g.route
}

func (g *Graph) ID() string {
	return g.route.ID
}

func (g *Graph) init() error {
	g.once.Do(func() {
		g.err = g.compute()
	})

	return g.err
}

func (g *Graph) compute() error {
	err := g.computeNodes()
	if err != nil {
		return err
	}

	err = g.computeTransitions()
	if err != nil {
		return err
	}

	return g.computeLoopTransitions()
}

func (g *Graph) computeNodes() error {
	g.nodes = make(map[string]*Node, len(g.route.Nodes))
	g.ordered = make([]*Node, 0, len(g.route.Nodes))

	var starts []*Node

	for _, doc := range g.route.Nodes {
		if _, exists := g.nodes[doc.ID]; exists {
			return &ConfigError{RouteID: g.route.ID, NodeID: doc.ID, Err: ErrDuplicateNodeID}
		}

		if doc.State == 0 {
			doc.State = models.StateReady
		}

		node := &Node{GraphNode: doc, graph: g}
		g.nodes[doc.ID] = node
		g.ordered = append(g.ordered, node)

		if doc.Start {
			starts = append(starts, node)
		}
	}

	switch len(starts) {
	case 0:
		return &ConfigError{RouteID: g.route.ID, Err: ErrNoStartNode}
	case 1:
		g.start = starts[0]
	default:
		return &ConfigError{RouteID: g.route.ID, NodeID: starts[1].ID, Err: ErrMultipleStartNodes}
	}

	return nil
}

func (g *Graph) computeTransitions() error {
	for _, node := range g.ordered {
		node.InputTransitions = nil
	}

	for _, node := range g.ordered {
		for _, t := range node.OutputTransitions {
			t.Source = node.ID
			t.Loop = false

			target, ok := g.nodes[t.Target]
			if !ok {
				return &ConfigError{
					RouteID: g.route.ID,
					NodeID:  node.ID,
					Err:     fmt.Errorf("%w: transition %s targets %q", ErrNodeNotFound, t.ID, t.Target),
				}
			}

			target.InputTransitions = append(target.InputTransitions, t)
		}
	}

	return nil
}

type dfsFrame struct {
	node *Node
	next int
}

// computeLoopTransitions numbers the nodes reachable from the start node in
// reverse post-order. A transition whose target does not come strictly
// after its source in that order closes a cycle.
func (g *Graph) computeLoopTransitions() error {
	postOrder := make([]*Node, 0, len(g.ordered))
	visited := map[string]bool{g.start.ID: true}
	stack := []*dfsFrame{{node: g.start}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if top.next < len(top.node.OutputTransitions) {
			t := top.node.OutputTransitions[top.next]
			top.next++

			if !visited[t.Target] {
				visited[t.Target] = true
				stack = append(stack, &dfsFrame{node: g.nodes[t.Target]})
			}

			continue
		}

		postOrder = append(postOrder, top.node)
		stack = stack[:len(stack)-1]
	}

	g.topo = make(map[string]int, len(postOrder))
	for i, node := range postOrder {
		g.topo[node.ID] = len(postOrder) - 1 - i
	}

	queue := []*Node{g.start}
	seen := map[string]bool{g.start.ID: true}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		for _, t := range node.OutputTransitions {
			t.Loop = g.topo[t.Target] <= g.topo[node.ID]

			if !seen[t.Target] {
				seen[t.Target] = true
				queue = append(queue, g.nodes[t.Target])
			}
		}
	}

	return nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, error) {
	err := g.init()
	if err != nil {
		return nil, err
	}

	node, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s in graph %s", ErrNodeNotFound, id, g.route.ID)
	}

	return node, nil
}

func (g *Graph) StartNode() (*Node, error) {
	err := g.init()
	if err != nil {
		return nil, err
	}

	return g.start, nil
}

// Nodes returns the nodes in authored order.
func (g *Graph) Nodes() ([]*Node, error) {
	err := g.init()
	if err != nil {
		return nil, err
	}

	return g.ordered, nil
}

// SuspendedNodes returns the nodes waiting on a task or a sub-route.
func (g *Graph) SuspendedNodes() ([]*Node, error) {
	return g.nodesIn(models.StateSuspended)
}

func (g *Graph) nodesIn(state models.State) ([]*Node, error) {
	nodes, err := g.Nodes()
	if err != nil {
		return nil, err
	}

	var out []*Node

	for _, node := range nodes {
		if node.State == state {
			out = append(out, node)
		}
	}

	return out, nil
}

// Unreachable returns the nodes no path from the start node leads to.
// Their transitions are never classified as loops.
func (g *Graph) Unreachable() ([]*Node, error) {
	nodes, err := g.Nodes()
	if err != nil {
		return nil, err
	}

	var out []*Node

	for _, node := range nodes {
		if _, ok := g.topo[node.ID]; !ok {
			out = append(out, node)
		}
	}

	return out, nil
}

func (g *Graph) Variables() map[string]any {
	return g.route.Variables
}

// SetVariables merges vars into the route variables.
func (g *Graph) SetVariables(vars map[string]any) {
	if len(vars) == 0 {
		return
	}

	if g.route.Variables == nil {
		g.route.Variables = make(map[string]any, len(vars))
	}

	maps.Copy(g.route.Variables, vars)
}

// Documents returns the ids of the documents the route is attached to.
func (g *Graph) Documents() []string {
	return g.route.AttachedDocumentIDs
}

func (g *Graph) String() string {
	return fmt.Sprintf("graph %s (%s)", g.route.ID, g.route.Name)
}
