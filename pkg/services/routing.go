package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/persistence"
	"github.com/dukex/routing/pkg/routing"
	"github.com/dukex/routing/pkg/tasks"
	"github.com/google/uuid"
)

// Routing is the entry point for operating route instances and their
// tasks. Operations on one route, or on routes of the same sub-route tree,
// are serialized; unrelated routes proceed in parallel.
type Routing struct {
	runner   *routing.Runner
	routes   persistence.RouteRepository
	tasks    tasks.TaskService
	resolver *ModelResolver
	logger   *slog.Logger

	locks sync.Map // route id -> *sync.Mutex
}

func NewRouting(
	logger *slog.Logger,
	runner *routing.Runner,
	routes persistence.RouteRepository,
	taskService tasks.TaskService,
	resolver *ModelResolver,
) *Routing {
	return &Routing{
		runner:   runner,
		routes:   routes,
		tasks:    taskService,
		resolver: resolver,
		logger:   logger.With("module", "routing_service"),
	}
}

func (s *Routing) lock(routeID string) func() {
	value, _ := s.locks.LoadOrStore(routeID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()

	return mu.Unlock
}

// lockRoute locks routeID and every route above it, root first. A finished
// sub-route resumes its parent and a cancel reaches down into sub-routes,
// so an operation must exclude the ones running on its ancestors.
func (s *Routing) lockRoute(ctx context.Context, routeID string) (func(), error) {
	lineage, err := s.lineage(ctx, routeID)
	if err != nil {
		return nil, err
	}

	unlocks := make([]func(), 0, len(lineage))
	for i := len(lineage) - 1; i >= 0; i-- {
		unlocks = append(unlocks, s.lock(lineage[i]))
	}

	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}, nil
}

// lineage returns routeID followed by its parent routes. The parent of a
// route never changes, so it is read without holding any lock.
func (s *Routing) lineage(ctx context.Context, routeID string) ([]string, error) {
	lineage := []string{routeID}
	id := routeID

	for {
		route, err := s.routes.Get(ctx, id)
		if persistence.IsRouteNotFound(err) {
			return lineage, nil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to load route %s: %w", id, err)
		}

		parent := route.ParentRouteID
		if parent == "" || slices.Contains(lineage, parent) {
			return lineage, nil
		}

		lineage = append(lineage, parent)
		id = parent
	}
}

// ImportModel validates model and stores it as a validated model.
func (s *Routing) ImportModel(ctx context.Context, model *models.GraphRoute) (*routing.ValidationResult, error) {
	if model == nil {
		return nil, NewValidationError("ImportModel", "MODEL_REQUIRED", "route model is required", ErrInvalidRequest)
	}

	model.ModelID = ""

	if model.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate model ID: %w", err)
		}

		model.ID = id.String()
	}

	if model.State == "" {
		model.State = models.RouteStateDraft
	}

	result, err := routing.Validate(model)
	if err != nil {
		return result, NewValidationError("ImportModel", "INVALID_MODEL", err.Error(), fmt.Errorf("%w: %w", ErrInvalidModel, err))
	}

	model.State = models.RouteStateValidated

	err = s.routes.Save(ctx, model)
	if err != nil {
		return result, fmt.Errorf("failed to save model %s: %w", model.ID, err)
	}

	if s.resolver != nil {
		s.resolver.Invalidate(model)
	}

	for _, warning := range result.Warnings {
		s.logger.WarnContext(ctx, "Route model imported with warning", "model_id", model.ID, "warning", warning)
	}

	s.logger.InfoContext(ctx, "Route model imported", "model_id", model.ID, "name", model.Name)

	return result, nil
}

func (s *Routing) Get(ctx context.Context, routeID string) (*models.GraphRoute, error) {
	return s.routes.Get(ctx, routeID)
}

func (s *Routing) Models(ctx context.Context) ([]*models.GraphRoute, error) {
	return s.routes.Models(ctx)
}

// CreateAndStart creates an instance of the model named or identified by
// modelIDOrName and starts it with vars.
func (s *Routing) CreateAndStart(
	ctx context.Context,
	modelIDOrName string,
	documents []string,
	initiator string,
	vars map[string]any,
) (*models.GraphRoute, error) {
	instance, err := s.runner.CreateInstance(ctx, modelIDOrName, documents, initiator)
	if err != nil {
		return nil, err
	}

	return s.Start(ctx, instance.ID, vars)
}

func (s *Routing) CreateInstance(ctx context.Context, modelIDOrName string, documents []string, initiator string) (*models.GraphRoute, error) {
	return s.runner.CreateInstance(ctx, modelIDOrName, documents, initiator)
}

func (s *Routing) Start(ctx context.Context, routeID string, vars map[string]any) (*models.GraphRoute, error) {
	unlock, err := s.lockRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.runner.Start(ctx, routeID, vars)
}

func (s *Routing) Resume(ctx context.Context, routeID, nodeID string, data routing.ResumeData) (*models.GraphRoute, error) {
	unlock, err := s.lockRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.runner.Resume(ctx, routeID, nodeID, data)
}

func (s *Routing) Cancel(ctx context.Context, routeID string) (*models.GraphRoute, error) {
	unlock, err := s.lockRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.runner.Cancel(ctx, routeID)
}

func (s *Routing) ExecuteEscalationRule(ctx context.Context, routeID, nodeID, ruleID string) (bool, error) {
	unlock, err := s.lockRoute(ctx, routeID)
	if err != nil {
		return false, err
	}
	defer unlock()

	return s.runner.ExecuteEscalationRule(ctx, routeID, nodeID, ruleID)
}

// CompleteTaskRequest is the outcome an actor gives to a task.
type CompleteTaskRequest struct {
	Actor             string
	Comment           string
	Status            string
	Button            string
	NodeVariables     map[string]any
	WorkflowVariables map[string]any
}

// CompleteTask ends an open task on behalf of its actor and resumes the
// node that created it.
func (s *Routing) CompleteTask(ctx context.Context, taskID string, req CompleteTaskRequest) (*models.GraphRoute, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !task.IsOpen() {
		return nil, NewConflictError("CompleteTask", "TASK_CLOSED", "task "+taskID+" is "+string(task.Status), tasks.ErrTaskClosed)
	}

	if req.Actor != "" && !task.CanBeEndedBy(req.Actor) {
		return nil, NewConflictError("CompleteTask", "NOT_ALLOWED", req.Actor+" cannot complete task "+taskID, ErrNotAllowed)
	}

	unlock, err := s.lockRoute(ctx, task.RouteID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = s.tasks.EndTask(ctx, taskID, req.Actor, req.Comment, req.Status)
	if err != nil {
		return nil, err
	}

	return s.runner.Resume(ctx, task.RouteID, task.NodeID, routing.ResumeData{
		TaskID:            taskID,
		Actor:             req.Actor,
		Comment:           req.Comment,
		Status:            req.Status,
		Button:            req.Button,
		NodeVariables:     req.NodeVariables,
		WorkflowVariables: req.WorkflowVariables,
	})
}

// ResumeFromTask resumes the node of a task that was ended outside
// CompleteTask. A task whose outcome the node already recorded is ignored,
// so task.ended events can be delivered more than once.
func (s *Routing) ResumeFromTask(ctx context.Context, taskID string) error {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}

	if task.Status != models.TaskStatusEnded {
		return NewConflictError("ResumeFromTask", "TASK_NOT_ENDED", "task "+taskID+" is "+string(task.Status), ErrTaskNotEnded)
	}

	unlock, err := s.lockRoute(ctx, task.RouteID)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.runner.Resume(ctx, task.RouteID, task.NodeID, routing.ResumeData{
		TaskID:  taskID,
		Actor:   task.EndedBy,
		Comment: task.Comment,
		Status:  task.Outcome,
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, routing.ErrTaskEnded),
		errors.Is(err, routing.ErrNotSuspended),
		errors.Is(err, routing.ErrRouteTerminal):
		s.logger.DebugContext(ctx, "Task outcome already applied", "task_id", taskID, "route_id", task.RouteID, "reason", err)

		return nil
	default:
		return err
	}
}

// ReassignTask replaces the actors of an open task. The node that created
// the task must allow reassignment.
func (s *Routing) ReassignTask(ctx context.Context, taskID string, actors []string, comment string) error {
	task, err := s.openTaskNode(ctx, "ReassignTask", taskID)
	if err != nil {
		return err
	}

	return s.tasks.ReassignTask(ctx, task.ID, actors, comment)
}

// DelegateTask lets delegates act on an open task next to its actors.
func (s *Routing) DelegateTask(ctx context.Context, taskID string, delegates []string, comment string) error {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}

	if !task.IsOpen() {
		return NewConflictError("DelegateTask", "TASK_CLOSED", "task "+taskID+" is "+string(task.Status), tasks.ErrTaskClosed)
	}

	return s.tasks.DelegateTask(ctx, taskID, delegates, comment)
}

func (s *Routing) openTaskNode(ctx context.Context, op, taskID string) (*models.Task, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !task.IsOpen() {
		return nil, NewConflictError(op, "TASK_CLOSED", "task "+taskID+" is "+string(task.Status), tasks.ErrTaskClosed)
	}

	route, err := s.routes.Get(ctx, task.RouteID)
	if err != nil {
		return nil, err
	}

	node, err := routing.NewGraph(route).Node(task.NodeID)
	if err != nil {
		return nil, err
	}

	if !node.AllowTaskReassignment {
		return nil, NewConflictError(op, "REASSIGNMENT_NOT_ALLOWED", "node "+node.ID+" does not allow task reassignment",
			routing.ErrReassignmentNotAllowed)
	}

	return task, nil
}

func (s *Routing) OpenTasks(ctx context.Context, routeID string) ([]*models.Task, error) {
	return s.tasks.OpenTasks(ctx, routeID)
}
