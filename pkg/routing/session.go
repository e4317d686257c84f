package routing

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/routing/pkg/eventbus"
	"github.com/dukex/routing/pkg/events"
	"github.com/dukex/routing/pkg/metrics"
	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/otelhelper"
	"github.com/dukex/routing/pkg/persistence"
	"github.com/dukex/routing/pkg/tasks"
	"go.opentelemetry.io/otel/attribute"
)

type pendingEvent struct {
	routeID string
	event   eventbus.Event
}

// session is one runner operation. It caches the graphs it touches,
// commits the changed ones together and publishes events only after the
// commit succeeded.
type session struct {
	runner    *Runner
	graphs    map[string]*Graph
	dirty     []*Graph
	events    []pendingEvent
	subRoutes []*Node
}

func (r *Runner) newSession() *session {
	return &session{
		runner: r,
		graphs: make(map[string]*Graph),
	}
}

func (s *session) load(ctx context.Context, routeID string) (*Graph, error) {
	if g, ok := s.graphs[routeID]; ok {
		return g, nil
	}

	route, err := s.runner.routes.Get(ctx, routeID)
	if err != nil {
		return nil, err
	}

	return s.add(route)
}

func (s *session) add(route *models.GraphRoute) (*Graph, error) {
	g := s.runner.engine.NewGraph(route)

	err := g.init()
	if err != nil {
		return nil, err
	}

	s.graphs[route.ID] = g

	return g, nil
}

func (s *session) markDirty(g *Graph) {
	if !slices.Contains(s.dirty, g) {
		s.dirty = append(s.dirty, g)
	}
}

func (s *session) emit(routeID string, event eventbus.Event) {
	s.events = append(s.events, pendingEvent{routeID: routeID, event: event})
}

// finish starts the sub-routes queued by the run, then commits every
// dirty route in one write and publishes the collected events. A parent
// is never stored waiting on a sub-route that failed to start.
func (s *session) finish(ctx context.Context) error {
	for len(s.subRoutes) > 0 {
		queued := s.subRoutes
		s.subRoutes = nil

		for _, node := range queued {
			err := s.startSubRoute(ctx, node)
			if err != nil {
				return newRouteError("StartSubRoute", node.graph.ID(), node.ID, err)
			}
		}
	}

	if len(s.dirty) > 0 {
		routes := make([]*models.GraphRoute, 0, len(s.dirty))
		for _, g := range s.dirty {
			routes = append(routes, g.route)
		}

		err := s.runner.routes.Commit(ctx, routes...)
		if err != nil {
			return fmt.Errorf("failed to commit routes: %w", err)
		}

		s.dirty = nil
	}

	for _, pending := range s.events {
		s.runner.publish(ctx, pending.routeID, pending.event)
	}

	s.events = nil

	return nil
}

func (s *session) start(ctx context.Context, g *Graph, vars map[string]any) error {
	route := g.route
	if route.State != models.RouteStateReady {
		return fmt.Errorf("%w: route %s is %s, expected %s", ErrInvalidRouteState, route.ID, route.State, models.RouteStateReady)
	}

	now := s.runner.engine.now()
	route.State = models.RouteStateRunning
	route.StartTime = &now
	g.SetVariables(vars)

	s.markDirty(g)
	s.emit(route.ID, events.RouteStarted{
		BaseEvent:     events.NewBaseEvent(events.RouteStartedEvent, route.ID),
		ModelID:       route.ModelID,
		Initiator:     route.Initiator,
		ParentRouteID: route.ParentRouteID,
		Variables:     maps.Clone(route.Variables),
	})

	s.runner.logger.InfoContext(ctx, "Route started", "route_id", route.ID, "model_id", route.ModelID)

	startNode, err := g.StartNode()
	if err != nil {
		return err
	}

	return s.run(ctx, g, startNode, "")
}

func (s *session) checkRunning(g *Graph) error {
	route := g.route
	if route.State.IsTerminal() {
		return fmt.Errorf("%w: route %s is %s", ErrRouteTerminal, route.ID, route.State)
	}

	if route.State != models.RouteStateRunning {
		return fmt.Errorf("%w: route %s is %s, expected %s", ErrInvalidRouteState, route.ID, route.State, models.RouteStateRunning)
	}

	return nil
}

func (s *session) resume(ctx context.Context, node *Node, data ResumeData) error {
	g := node.graph

	err := s.checkRunning(g)
	if err != nil {
		return err
	}

	switch {
	case node.State == models.StateSuspended:
	case node.State == models.StateWaiting && data.ForceResume:
		if node.Merge != models.MergeModeOne {
			s.runner.logger.InfoContext(ctx, "Force resume ignored on node not merging one input",
				"route_id", g.ID(), "node_id", node.ID, "merge", string(node.Merge))

			return nil
		}
	default:
		return newRouteError("Resume", g.ID(), node.ID, fmt.Errorf("%w: node is %s", ErrNotSuspended, node.State))
	}

	if data.TaskID != "" {
		if info, ok := node.TaskInfo(data.TaskID); ok && info.Ended {
			return newRouteError("Resume", g.ID(), node.ID, fmt.Errorf("%w: %s", ErrTaskEnded, data.TaskID))
		}

		node.UpdateTaskInfo(ctx, data.TaskID, true, data.Status, data.Actor, data.Comment)
	}

	g.SetVariables(data.WorkflowVariables)

	// The task outcome doubles as the clicked button.
	button := data.Button
	if button == "" {
		button = data.Status
	}

	if len(data.NodeVariables) > 0 || button != "" {
		if node.Variables == nil {
			node.Variables = make(map[string]any)
		}

		maps.Copy(node.Variables, data.NodeVariables)

		if button != "" {
			node.Variables[VarButton] = button
		}
	}

	node.comment = data.Comment

	s.markDirty(g)
	s.emit(g.ID(), events.NodeResumed{
		BaseEvent: events.NewBaseEvent(events.NodeResumedEvent, g.ID()),
		NodeID:    node.ID,
		TaskID:    data.TaskID,
		Actor:     data.Actor,
	})

	if node.HasMultipleTasks && node.HasOpenTasks() {
		s.runner.logger.InfoContext(ctx, "Node still has open tasks", "route_id", g.ID(), "node_id", node.ID)

		return nil
	}

	if node.State == models.StateWaiting {
		err = node.SetState(models.StateRunningInput)
		if err != nil {
			return err
		}

		err = s.recursiveCancelInput(ctx, node, nil)
		if err != nil {
			return err
		}
	} else if node.HasOpenTasks() {
		_, err = node.CancelTasks(ctx)
		if err != nil {
			return newRouteError("Resume", g.ID(), node.ID, err)
		}
	}

	return s.run(ctx, g, node, data.Actor)
}

// run advances g from initial and completes the route when a stop node
// was reached.
func (s *session) run(ctx context.Context, g *Graph, initial *Node, actor string) error {
	done, err := s.runGraph(ctx, g, initial, actor)
	if err != nil {
		return err
	}

	s.markDirty(g)

	if done {
		return s.complete(ctx, g)
	}

	return nil
}

func (s *session) runGraph(ctx context.Context, g *Graph, initial *Node, actor string) (bool, error) {
	engine := s.runner.engine
	pending := []*Node{initial}
	done := false

	for count := 1; len(pending) > 0; count++ {
		node := pending[0]
		pending = pending[1:]

		if count > MaxLoops {
			return false, newRouteError("Run", g.ID(), node.ID, ErrExecutionLooping)
		}

		engine.metrics.NodeStep(node.State.String())

		jump, err := s.step(ctx, g, node, initial, actor, &pending, &done)
		if err != nil {
			return false, newRouteError("Run", g.ID(), node.ID, err)
		}

		if jump != 0 {
			err = node.SetState(jump)
			if err != nil {
				return false, newRouteError("Run", g.ID(), node.ID, err)
			}

			pending = append([]*Node{node}, pending...)
		}
	}

	return done, nil
}

// step executes the current state of node and returns the state to jump
// to, zero to leave the node where it is.
func (s *session) step(
	ctx context.Context,
	g *Graph,
	node, initial *Node,
	actor string,
	pending *[]*Node,
	done *bool,
) (models.State, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.runner.tracer, "routing.step",
		attribute.String(otelhelper.RouteIDKey, g.ID()),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeStateKey, node.State.String()))
	defer span.End()

	jump, err := s.advance(ctx, g, node, initial, actor, pending, done)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return jump, err
}

func (s *session) advance(
	ctx context.Context,
	g *Graph,
	node, initial *Node,
	actor string,
	pending *[]*Node,
	done *bool,
) (models.State, error) {
	engine := s.runner.engine

	switch node.State {
	case models.StateReady:
		if node.IsMerge() {
			return models.StateWaiting, nil
		}

		return models.StateRunningInput, nil

	case models.StateWaiting:
		canMerge, err := node.CanMerge()
		if err != nil {
			return 0, err
		}

		if !canMerge {
			return 0, nil
		}

		err = s.recursiveCancelInput(ctx, node, pending)
		if err != nil {
			return 0, err
		}

		return models.StateRunningInput, nil

	case models.StateRunningInput:
		node.Starting(engine.now())

		err := node.ExecuteChain(ctx, node.InputChain)
		if err != nil {
			return 0, err
		}

		if node.HasAnyTask() {
			err = s.createTasks(ctx, node)
			if err != nil {
				return 0, err
			}

			err = node.SetState(models.StateSuspended)
			if err != nil {
				return 0, err
			}
		}

		hasSubRoute, err := node.HasSubRoute(ctx)
		if err != nil {
			return 0, err
		}

		if hasSubRoute {
			s.subRoutes = append(s.subRoutes, node)

			err = node.SetState(models.StateSuspended)
			if err != nil {
				return 0, err
			}
		}

		if node.State == models.StateSuspended {
			s.emit(g.ID(), events.NodeSuspended{
				BaseEvent: events.NewBaseEvent(events.NodeSuspendedEvent, g.ID()),
				NodeID:    node.ID,
			})

			return 0, nil
		}

		return models.StateRunningOutput, nil

	case models.StateSuspended:
		if node != initial {
			return 0, fmt.Errorf("%w: unexpected %s", ErrInvalidNodeState, node.State)
		}

		node.LastActor = actor

		return models.StateRunningOutput, nil

	case models.StateRunningOutput:
		return 0, s.leave(ctx, g, node, pending, done)

	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidNodeState, node.State)
	}
}

// leave runs the output phase of node and queues the targets of the
// transitions that fired.
func (s *session) leave(ctx context.Context, g *Graph, node *Node, pending *[]*Node, done *bool) error {
	engine := s.runner.engine

	err := node.ExecuteChain(ctx, node.OutputChain)
	if err != nil {
		return err
	}

	fired, err := node.EvaluateTransitions(ctx)
	if err != nil {
		return err
	}

	node.Ending(engine.now())

	next := models.StateReady
	if node.Stop {
		next = models.StateDone
	}

	err = node.SetState(next)
	if err != nil {
		return err
	}

	firedIDs := make([]string, 0, len(fired))
	for _, t := range fired {
		firedIDs = append(firedIDs, t.ID)
	}

	s.emit(g.ID(), events.NodeCompleted{
		BaseEvent:   events.NewBaseEvent(events.NodeCompletedEvent, g.ID()),
		NodeID:      node.ID,
		Transitions: firedIDs,
		Count:       node.Count,
	})

	if node.Stop {
		if len(*pending) > 0 {
			ids := make([]string, 0, len(*pending))
			for _, p := range *pending {
				ids = append(ids, p.ID)
			}

			return fmt.Errorf("%w: %v", ErrStopWithPending, ids)
		}

		*done = true

		return nil
	}

	if len(fired) == 0 {
		return ErrNoTrueTransition
	}

	for _, t := range fired {
		err = node.ExecuteChain(ctx, t.Chain)
		if err != nil {
			return fmt.Errorf("transition %s: %w", t.ID, err)
		}

		target, err := g.Node(t.Target)
		if err != nil {
			return err
		}

		if !slices.Contains(*pending, target) {
			*pending = append(*pending, target)
		}
	}

	return nil
}

// recursiveCancelInput abandons the branches still feeding node once it
// merged: waiting ancestors and queued ones that have not run yet return
// to READY, suspended ones also have their tasks and sub-route canceled.
// Loop transitions are not followed.
func (s *session) recursiveCancelInput(ctx context.Context, node *Node, pending *[]*Node) error {
	g := node.graph
	todo := []*Node{node}
	visited := map[string]bool{node.ID: true}

	for len(todo) > 0 {
		current := todo[0]
		todo = todo[1:]

		for _, t := range current.InputTransitions {
			if t.Loop {
				continue
			}

			source, err := g.Node(t.Source)
			if err != nil {
				return err
			}

			if visited[source.ID] {
				continue
			}

			visited[source.ID] = true
			todo = append(todo, source)

			queued := pending != nil && slices.Contains(*pending, source)

			switch source.State {
			case models.StateWaiting:
			case models.StateReady:
				if !queued {
					continue
				}
			case models.StateSuspended:
				_, err = source.CancelTasks(ctx)
				if err != nil {
					return err
				}

				err = s.cancelSubRoute(ctx, source)
				if err != nil {
					return err
				}
			default:
				continue
			}

			err = source.SetState(models.StateReady)
			if err != nil {
				return err
			}

			source.SetCanceled()

			if pending != nil {
				*pending = slices.DeleteFunc(*pending, func(p *Node) bool { return p == source })
			}

			s.runner.logger.DebugContext(ctx, "Canceled merge input",
				"route_id", g.ID(), "node_id", source.ID, "merge_node_id", node.ID)
		}
	}

	return nil
}

func (s *session) createTasks(ctx context.Context, node *Node) error {
	engine := s.runner.engine
	g := node.graph

	assignees, err := node.TaskAssignees(ctx)
	if err != nil {
		return err
	}

	due, err := node.ComputeTaskDueDate(ctx)
	if err != nil {
		return err
	}

	name := node.Title
	if name == "" {
		name = node.ID
	}

	request := tasks.CreateTaskRequest{
		RouteID:   g.ID(),
		NodeID:    node.ID,
		Name:      name,
		Directive: node.TaskDirective,
		DueDate:   due,
		Buttons:   node.TaskButtons,
		Variables: maps.Clone(node.Variables),
		Initiator: g.route.Initiator,
	}

	if node.HasMultipleTasks && len(assignees) == 0 {
		return ErrNoTaskAssignees
	}

	groups := [][]string{assignees}
	if node.HasMultipleTasks {
		groups = make([][]string, 0, len(assignees))
		for _, assignee := range assignees {
			groups = append(groups, []string{assignee})
		}
	}

	for _, group := range groups {
		request.Assignees = group

		taskID, err := engine.tasks.CreateTask(ctx, request)
		if err != nil {
			return fmt.Errorf("failed to create task for %v: %w", group, err)
		}

		node.AddTaskInfo(taskID)
		engine.metrics.TaskCreated()
	}

	return nil
}

// complete finishes a route that reached a stop node and hands control
// back to the parent route of a sub-route.
func (s *session) complete(ctx context.Context, g *Graph) error {
	route := g.route

	suspended, err := g.SuspendedNodes()
	if err != nil {
		return err
	}

	for _, node := range suspended {
		_, err = node.CancelTasks(ctx)
		if err != nil {
			return newRouteError("Complete", g.ID(), node.ID, err)
		}

		err = s.cancelSubRoute(ctx, node)
		if err != nil {
			return newRouteError("Complete", g.ID(), node.ID, err)
		}

		err = node.SetState(models.StateReady)
		if err != nil {
			return err
		}

		node.SetCanceled()
	}

	route.State = models.RouteStateDone
	s.markDirty(g)
	s.emit(route.ID, events.RouteDone{
		BaseEvent:     events.NewBaseEvent(events.RouteDoneEvent, route.ID),
		ParentRouteID: route.ParentRouteID,
		ParentNodeID:  route.ParentNodeID,
		Variables:     maps.Clone(route.Variables),
	})
	s.runner.engine.metrics.RouteFinished(metrics.OutcomeDone)
	s.runner.logger.InfoContext(ctx, "Route done", "route_id", route.ID)

	if !route.IsSubRoute() {
		return nil
	}

	return s.resumeParent(ctx, route)
}

func (s *session) resumeParent(ctx context.Context, child *models.GraphRoute) error {
	parent, err := s.load(ctx, child.ParentRouteID)
	if err != nil {
		return fmt.Errorf("failed to load parent route %s: %w", child.ParentRouteID, err)
	}

	node, err := parent.Node(child.ParentNodeID)
	if err != nil {
		return err
	}

	if parent.route.State != models.RouteStateRunning ||
		node.State != models.StateSuspended ||
		node.SubRouteInstanceID != child.ID {
		s.runner.logger.WarnContext(ctx, "Parent node no longer waits for sub-route",
			"route_id", parent.ID(), "node_id", node.ID, "sub_route_id", child.ID, "node_state", node.State.String())

		return nil
	}

	return s.resume(ctx, node, ResumeData{})
}

func (s *session) startSubRoute(ctx context.Context, node *Node) error {
	parent := node.graph

	modelID, err := node.SubRouteModelID(ctx)
	if err != nil {
		return err
	}

	model, err := s.runner.models.Resolve(ctx, modelID)
	if err != nil {
		return fmt.Errorf("failed to resolve sub-route model %s: %w", modelID, err)
	}

	child, err := s.runner.instantiate(model, parent.Documents(), parent.route.Initiator)
	if err != nil {
		return err
	}

	child.ParentRouteID = parent.ID()
	child.ParentNodeID = node.ID

	vars, err := node.SubRouteInitialVariables(ctx)
	if err != nil {
		return err
	}

	childGraph, err := s.add(child)
	if err != nil {
		return err
	}

	node.SubRouteInstanceID = child.ID
	s.markDirty(parent)
	s.emit(parent.ID(), events.NodeSuspended{
		BaseEvent:  events.NewBaseEvent(events.NodeSuspendedEvent, parent.ID()),
		NodeID:     node.ID,
		SubRouteID: child.ID,
	})

	s.runner.logger.InfoContext(ctx, "Sub-route created",
		"route_id", parent.ID(), "node_id", node.ID, "sub_route_id", child.ID, "model_id", model.ID)

	return s.start(ctx, childGraph, vars)
}

// cancelSubRoute cancels the sub-route started by node, if it still runs.
func (s *session) cancelSubRoute(ctx context.Context, node *Node) error {
	if node.SubRouteInstanceID == "" {
		return nil
	}

	child, err := s.load(ctx, node.SubRouteInstanceID)
	if err != nil {
		if persistence.IsRouteNotFound(err) {
			s.runner.logger.WarnContext(ctx, "Sub-route to cancel not found",
				"route_id", node.graph.ID(), "node_id", node.ID, "sub_route_id", node.SubRouteInstanceID)

			return nil
		}

		return err
	}

	if child.route.State.IsTerminal() {
		return nil
	}

	return s.cancel(ctx, child)
}

func (s *session) cancel(ctx context.Context, g *Graph) error {
	route := g.route
	if route.State.IsTerminal() {
		return fmt.Errorf("%w: route %s is %s", ErrRouteTerminal, route.ID, route.State)
	}

	if !route.State.CanTransitionTo(models.RouteStateCanceled) {
		return fmt.Errorf("%w: route %s is %s", ErrInvalidRouteState, route.ID, route.State)
	}

	nodes, err := g.Nodes()
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if node.State != models.StateSuspended {
			continue
		}

		_, err = node.CancelTasks(ctx)
		if err != nil {
			return newRouteError("Cancel", g.ID(), node.ID, err)
		}

		err = s.cancelSubRoute(ctx, node)
		if err != nil {
			return newRouteError("Cancel", g.ID(), node.ID, err)
		}
	}

	for _, node := range nodes {
		if node.State != models.StateReady {
			err = node.SetState(models.StateCanceled)
			if err != nil {
				return err
			}
		}
	}

	route.State = models.RouteStateCanceled
	s.markDirty(g)
	s.emit(route.ID, events.RouteCanceled{
		BaseEvent:     events.NewBaseEvent(events.RouteCanceledEvent, route.ID),
		ParentRouteID: route.ParentRouteID,
	})
	s.runner.engine.metrics.RouteFinished(metrics.OutcomeCanceled)
	s.runner.logger.InfoContext(ctx, "Route canceled", "route_id", route.ID)

	return nil
}

func (s *session) escalate(ctx context.Context, routeID, nodeID, ruleID string) (bool, error) {
	g, err := s.load(ctx, routeID)
	if err != nil {
		return false, err
	}

	node, err := g.Node(nodeID)
	if err != nil {
		return false, err
	}

	rule, ok := node.EscalationRule(ruleID)
	if !ok {
		return false, fmt.Errorf("escalation rule %s not found on node %s", ruleID, nodeID)
	}

	if g.route.State != models.RouteStateRunning || node.State != models.StateSuspended || !rule.Pending() {
		return false, nil
	}

	err = node.ExecuteChain(ctx, rule.Chain)
	if err != nil {
		return false, newRouteError("ExecuteEscalationRule", routeID, nodeID, err)
	}

	rule.SetExecuted(s.runner.engine.now())

	s.markDirty(g)
	s.emit(routeID, events.EscalationExecuted{
		BaseEvent: events.NewBaseEvent(events.EscalationExecutedEvent, routeID),
		NodeID:    nodeID,
		RuleID:    ruleID,
		Chain:     rule.Chain,
	})
	s.runner.engine.metrics.EscalationExecuted()

	return true, nil
}
