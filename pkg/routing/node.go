package routing

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/dukex/routing/pkg/chain"
	"github.com/dukex/routing/pkg/expression"
	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/tasks"
)

// Node is a graph node bound to its graph.
type Node struct {
	*models.GraphNode

	graph *Graph
	// comment left by the actor resuming the node, visible to its output phase.
	comment string
}

func (n *Node) Graph() *Graph {
	return n.graph
}

func (n *Node) String() string {
	return fmt.Sprintf("node %s (%s)", n.ID, n.State)
}

func (n *Node) bound() (*Engine, error) {
	if n.graph.engine == nil {
		return nil, ErrNoEngine
	}

	return n.graph.engine, nil
}

// SetState moves the node to state. Terminal states are never left.
func (n *Node) SetState(state models.State) error {
	if n.State.IsTerminal() && n.State != state {
		return fmt.Errorf("%w: %s cannot leave %s", ErrInvalidNodeState, n.ID, n.State)
	}

	n.State = state

	return nil
}

// Starting resets the node for a new pass through it.
func (n *Node) Starting(now time.Time) {
	for _, t := range n.InputTransitions {
		t.Result = false
	}

	n.Count++
	n.StartTime = &now
	n.EndTime = nil
	n.TasksInfo = nil
}

func (n *Node) Ending(now time.Time) {
	n.EndTime = &now
}

func (n *Node) IsMerge() bool {
	return n.Merge != models.MergeModeNone
}

// HasAnyTask reports whether the node suspends on human tasks.
func (n *Node) HasAnyTask() bool {
	return n.HasTask || n.HasMultipleTasks
}

// CanMerge reports whether enough input transitions fired for a merge node
// to proceed.
func (n *Node) CanMerge() (bool, error) {
	switch n.Merge {
	case models.MergeModeOne:
		for _, t := range n.InputTransitions {
			if t.Result {
				return true, nil
			}
		}

		return false, nil
	case models.MergeModeAll:
		for _, t := range n.InputTransitions {
			if !t.Result {
				return false, nil
			}
		}

		return true, nil
	default:
		return false, &ConfigError{
			RouteID: n.graph.route.ID,
			NodeID:  n.ID,
			Err:     fmt.Errorf("%w: %q", ErrInvalidMergeMode, n.Merge),
		}
	}
}

func (n *Node) evaluate(ctx context.Context, kind, expr string) (any, error) {
	engine, err := n.bound()
	if err != nil {
		return nil, err
	}

	vars := n.evaluationContext(engine.now())

	var value any
	if expression.IsExpression(expr) {
		value, err = expression.ValueOrExpression(ctx, engine.evaluator, expr, vars)
	} else {
		value, err = engine.evaluator.Evaluate(ctx, expr, vars)
	}

	if err != nil {
		return nil, &EvaluationError{Kind: kind, NodeID: n.ID, Expression: expr, Err: err}
	}

	return value, nil
}

func (n *Node) evaluateCondition(ctx context.Context, kind, condition string) (any, error) {
	if strings.TrimSpace(condition) == "" {
		return true, nil
	}

	return n.evaluate(ctx, kind, condition)
}

// EvaluateTransitions evaluates the output transitions in authored order,
// storing each result, and returns those that evaluated to true. An
// exclusive node stops at the first true transition and leaves the result
// of the following ones untouched.
func (n *Node) EvaluateTransitions(ctx context.Context) ([]*models.Transition, error) {
	var fired []*models.Transition

	for _, t := range n.OutputTransitions {
		value, err := n.evaluateCondition(ctx, "transition condition", t.Condition)
		if err != nil {
			return nil, err
		}

		result, ok := value.(bool)
		if !ok {
			return nil, &ConditionTypeError{
				RouteID:      n.graph.route.ID,
				NodeID:       n.ID,
				TransitionID: t.ID,
				Condition:    t.Condition,
				Value:        value,
			}
		}

		t.Result = result
		if !result {
			continue
		}

		fired = append(fired, t)

		if n.ExecuteOnlyFirstTransition {
			break
		}
	}

	return fired, nil
}

// EvaluateEscalationRules returns the pending rules whose condition holds.
func (n *Node) EvaluateEscalationRules(ctx context.Context) ([]*models.EscalationRule, error) {
	var ready []*models.EscalationRule

	for _, rule := range n.EscalationRules {
		if !rule.Pending() {
			continue
		}

		value, err := n.evaluate(ctx, "escalation rule "+rule.ID, rule.Condition)
		if err != nil {
			return nil, err
		}

		result, ok := value.(bool)
		if !ok {
			return nil, &ConditionTypeError{
				RouteID:      n.graph.route.ID,
				NodeID:       n.ID,
				TransitionID: rule.ID,
				Condition:    rule.Condition,
				Value:        value,
			}
		}

		if result {
			ready = append(ready, rule)
		}
	}

	return ready, nil
}

// EscalationRule returns the rule with the given id.
func (n *Node) EscalationRule(id string) (*models.EscalationRule, bool) {
	for _, rule := range n.EscalationRules {
		if rule.ID == id {
			return rule, true
		}
	}

	return nil, false
}

// ExecuteChain runs chainID on copies of the route and node variables and
// writes back the keys the chain changed. Nothing is written when the
// chain fails.
func (n *Node) ExecuteChain(ctx context.Context, chainID string) error {
	if chainID == "" {
		return nil
	}

	engine, err := n.bound()
	if err != nil {
		return err
	}

	route := n.graph.route
	workflowBefore := maps.Clone(route.Variables)
	nodeBefore := maps.Clone(n.Variables)

	c := &chain.Context{
		RouteID:           route.ID,
		NodeID:            n.ID,
		Documents:         slices.Clone(route.AttachedDocumentIDs),
		WorkflowVariables: maps.Clone(route.Variables),
		NodeVariables:     maps.Clone(n.Variables),
		Vars:              n.evaluationContext(engine.now()),
	}

	if c.WorkflowVariables == nil {
		c.WorkflowVariables = make(map[string]any)
	}

	if c.NodeVariables == nil {
		c.NodeVariables = make(map[string]any)
	}

	err = engine.chains.Run(ctx, chainID, c)
	if err != nil {
		return fmt.Errorf("failed to run chain %s on node %s: %w", chainID, n.ID, err)
	}

	route.Variables = applyChanges(route.Variables, workflowBefore, c.WorkflowVariables)
	n.Variables = applyChanges(n.Variables, nodeBefore, c.NodeVariables)

	return nil
}

func applyChanges(target, before, after map[string]any) map[string]any {
	for key, value := range after {
		old, ok := before[key]
		if ok && reflect.DeepEqual(old, value) {
			continue
		}

		if target == nil {
			target = make(map[string]any)
		}

		target[key] = value
	}

	for key := range before {
		if _, ok := after[key]; !ok {
			delete(target, key)
		}
	}

	return target
}

// AddTaskInfo records a task created for the node.
func (n *Node) AddTaskInfo(taskID string) {
	n.TasksInfo = append(n.TasksInfo, &models.TaskInfo{TaskID: taskID})
}

// TaskInfo returns the record of taskID.
func (n *Node) TaskInfo(taskID string) (*models.TaskInfo, bool) {
	for _, info := range n.TasksInfo {
		if info.TaskID == taskID {
			return info, true
		}
	}

	return nil, false
}

// UpdateTaskInfo stores the outcome of taskID. An unknown task gets a new
// ended record so the outcome is never lost.
func (n *Node) UpdateTaskInfo(ctx context.Context, taskID string, ended bool, status, actor, comment string) {
	info, ok := n.TaskInfo(taskID)
	if !ok {
		info = &models.TaskInfo{TaskID: taskID}
		ended = true
		n.TasksInfo = append(n.TasksInfo, info)

		if engine := n.graph.engine; engine != nil {
			engine.logger.WarnContext(ctx, "synthesized task info for unknown task",
				"route_id", n.graph.route.ID, "node_id", n.ID, "task_id", taskID)
			engine.metrics.TaskInfoSynthesized()
		}
	}

	info.Ended = ended
	info.Status = &status
	info.Actor = actor
	info.Comment = comment
}

func (n *Node) RemoveTaskInfo(taskID string) {
	n.TasksInfo = slices.DeleteFunc(n.TasksInfo, func(info *models.TaskInfo) bool {
		return info.TaskID == taskID
	})
}

// EndedTasksInfo returns the records of ended tasks, canceled ones included.
func (n *Node) EndedTasksInfo() []*models.TaskInfo {
	var out []*models.TaskInfo

	for _, info := range n.TasksInfo {
		if info.Ended {
			out = append(out, info)
		}
	}

	return out
}

// ProcessedTasksInfo returns the records of tasks an actor completed.
func (n *Node) ProcessedTasksInfo() []*models.TaskInfo {
	var out []*models.TaskInfo

	for _, info := range n.TasksInfo {
		if info.Ended && info.Status != nil {
			out = append(out, info)
		}
	}

	return out
}

func (n *Node) HasOpenTasks() bool {
	return slices.ContainsFunc(n.TasksInfo, func(info *models.TaskInfo) bool {
		return !info.Ended
	})
}

// CancelTasks cancels every open task of the node and returns their ids.
// A task the service no longer knows is considered canceled.
func (n *Node) CancelTasks(ctx context.Context) ([]string, error) {
	var canceled []string

	for _, info := range n.TasksInfo {
		if info.Ended {
			continue
		}

		engine, err := n.bound()
		if err != nil {
			return canceled, err
		}

		err = engine.tasks.CancelTask(ctx, info.TaskID)
		if err != nil {
			if !errors.Is(err, tasks.ErrTaskNotFound) {
				return canceled, fmt.Errorf("failed to cancel task %s of node %s: %w", info.TaskID, n.ID, err)
			}

			engine.logger.WarnContext(ctx, "Task to cancel not found",
				"route_id", n.graph.route.ID, "node_id", n.ID, "task_id", info.TaskID)
		} else {
			engine.metrics.TaskCanceled()
		}

		info.Ended = true
		info.Status = nil
		canceled = append(canceled, info.TaskID)
	}

	return canceled, nil
}

// SetCanceled records that a pass through the node was abandoned.
func (n *Node) SetCanceled() {
	n.CanceledCount++
}

// TaskAssignees returns the static assignees followed by those the
// assignees expression yields, without duplicates.
func (n *Node) TaskAssignees(ctx context.Context) ([]string, error) {
	assignees := slices.Clone(n.GraphNode.TaskAssignees)

	if strings.TrimSpace(n.TaskAssigneesExpression) != "" {
		value, err := n.evaluate(ctx, "task assignees", n.TaskAssigneesExpression)
		if err != nil {
			return nil, err
		}

		extra, err := expression.AsStrings(value)
		if err != nil {
			return nil, &EvaluationError{Kind: "task assignees", NodeID: n.ID, Expression: n.TaskAssigneesExpression, Err: err}
		}

		assignees = append(assignees, extra...)
	}

	out := make([]string, 0, len(assignees))

	for _, assignee := range assignees {
		if assignee != "" && !slices.Contains(out, assignee) {
			out = append(out, assignee)
		}
	}

	return out, nil
}

// ComputeTaskDueDate evaluates the due date of the node tasks, now when no
// expression is authored, and records it on the node.
func (n *Node) ComputeTaskDueDate(ctx context.Context) (time.Time, error) {
	engine, err := n.bound()
	if err != nil {
		return time.Time{}, err
	}

	due := engine.now()

	if strings.TrimSpace(n.TaskDueDateExpression) != "" {
		value, err := n.evaluate(ctx, "task due date", n.TaskDueDateExpression)
		if err != nil {
			return time.Time{}, err
		}

		due, err = expression.AsTime(value)
		if err != nil {
			return time.Time{}, &EvaluationError{Kind: "task due date", NodeID: n.ID, Expression: n.TaskDueDateExpression, Err: err}
		}
	}

	n.TaskDueDate = &due

	return due, nil
}

// SubRouteModelID resolves the model of the node sub-route, empty when the
// node has none.
func (n *Node) SubRouteModelID(ctx context.Context) (string, error) {
	if strings.TrimSpace(n.SubRouteModelExpression) == "" {
		return "", nil
	}

	engine, err := n.bound()
	if err != nil {
		return "", err
	}

	value, err := expression.ValueOrExpression(ctx, engine.evaluator, n.SubRouteModelExpression, n.evaluationContext(engine.now()))
	if err != nil {
		return "", &EvaluationError{Kind: "sub-route model", NodeID: n.ID, Expression: n.SubRouteModelExpression, Err: err}
	}

	id, err := expression.AsString(value)
	if err != nil {
		return "", &EvaluationError{Kind: "sub-route model", NodeID: n.ID, Expression: n.SubRouteModelExpression, Err: err}
	}

	return strings.TrimSpace(id), nil
}

func (n *Node) HasSubRoute(ctx context.Context) (bool, error) {
	id, err := n.SubRouteModelID(ctx)
	if err != nil {
		return false, err
	}

	return id != "", nil
}

// SubRouteInitialVariables resolves the variables the sub-route starts with.
func (n *Node) SubRouteInitialVariables(ctx context.Context) (map[string]any, error) {
	engine, err := n.bound()
	if err != nil {
		return nil, err
	}

	vars := n.evaluationContext(engine.now())
	out := make(map[string]any, len(n.SubRouteVariables))

	for _, kv := range n.SubRouteVariables {
		value, err := expression.ValueOrExpression(ctx, engine.evaluator, kv.Value, vars)
		if err != nil {
			return nil, &EvaluationError{Kind: "sub-route variable " + kv.Key, NodeID: n.ID, Expression: kv.Value, Err: err}
		}

		out[kv.Key] = value
	}

	return out, nil
}
