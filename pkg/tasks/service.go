package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/dukex/routing/pkg/eventbus"
	"github.com/dukex/routing/pkg/events"
	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/persistence"
	"github.com/google/uuid"
)

// Service is the TaskService backed by a persistence.TaskRepository. Every
// change is announced on the event bus when one is configured.
type Service struct {
	repo      persistence.TaskRepository
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(logger *slog.Logger, repo persistence.TaskRepository, publisher eventbus.EventPublisher) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("module", "tasks"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate task ID: %w", err)
	}

	task := &models.Task{
		ID:        id.String(),
		RouteID:   req.RouteID,
		NodeID:    req.NodeID,
		Name:      req.Name,
		Directive: req.Directive,
		Actors:    slices.Clone(req.Assignees),
		Buttons:   slices.Clone(req.Buttons),
		Variables: maps.Clone(req.Variables),
		Initiator: req.Initiator,
		Status:    models.TaskStatusOpen,
	}

	if !req.DueDate.IsZero() {
		due := req.DueDate
		task.DueDate = &due
	}

	err = s.repo.Save(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to save task: %w", err)
	}

	s.logger.InfoContext(ctx, "Task created", "task_id", task.ID, "route_id", task.RouteID, "node_id", task.NodeID, "assignees", task.Actors)

	s.publish(ctx, task.RouteID, events.TaskCreated{
		BaseEvent: events.NewBaseEvent(events.TaskCreatedEvent, task.RouteID),
		NodeID:    task.NodeID,
		TaskID:    task.ID,
		Assignees: task.Actors,
		DueDate:   task.DueDate,
	})

	return task.ID, nil
}

func (s *Service) Get(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		if persistence.IsTaskNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}

		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	return task, nil
}

func (s *Service) openTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !task.IsOpen() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskClosed, taskID, task.Status)
	}

	return task, nil
}

// EndTask closes an open task with the outcome chosen by actor.
func (s *Service) EndTask(ctx context.Context, taskID, actor, comment, status string) error {
	task, err := s.openTask(ctx, taskID)
	if err != nil {
		return err
	}

	now := s.now()
	task.Status = models.TaskStatusEnded
	task.Outcome = status
	task.Comment = comment
	task.EndedBy = actor
	task.EndedAt = &now

	err = s.repo.Save(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", taskID, err)
	}

	s.logger.InfoContext(ctx, "Task ended", "task_id", taskID, "route_id", task.RouteID, "actor", actor, "status", status)

	s.publish(ctx, task.RouteID, events.TaskEnded{
		BaseEvent: events.NewBaseEvent(events.TaskEndedEvent, task.RouteID),
		NodeID:    task.NodeID,
		TaskID:    taskID,
		Actor:     actor,
		Comment:   comment,
		Status:    status,
	})

	return nil
}

// CancelTask cancels an open task. Canceling a closed task is a no-op.
func (s *Service) CancelTask(ctx context.Context, taskID string) error {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}

	if !task.IsOpen() {
		return nil
	}

	now := s.now()
	task.Status = models.TaskStatusCanceled
	task.EndedAt = &now

	err = s.repo.Save(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", taskID, err)
	}

	s.logger.InfoContext(ctx, "Task canceled", "task_id", taskID, "route_id", task.RouteID)

	s.publish(ctx, task.RouteID, events.TaskCanceled{
		BaseEvent: events.NewBaseEvent(events.TaskCanceledEvent, task.RouteID),
		NodeID:    task.NodeID,
		TaskID:    taskID,
	})

	return nil
}

// ReassignTask replaces the actors of an open task.
func (s *Service) ReassignTask(ctx context.Context, taskID string, actors []string, comment string) error {
	if len(actors) == 0 {
		return ErrNoActors
	}

	task, err := s.openTask(ctx, taskID)
	if err != nil {
		return err
	}

	task.Actors = slices.Clone(actors)
	task.Delegates = nil
	task.Comment = comment

	err = s.repo.Save(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", taskID, err)
	}

	s.publish(ctx, task.RouteID, events.TaskReassigned{
		BaseEvent: events.NewBaseEvent(events.TaskReassignedEvent, task.RouteID),
		NodeID:    task.NodeID,
		TaskID:    taskID,
		Actors:    task.Actors,
		Comment:   comment,
	})

	return nil
}

// DelegateTask lets delegates act on an open task next to its actors.
func (s *Service) DelegateTask(ctx context.Context, taskID string, delegates []string, comment string) error {
	if len(delegates) == 0 {
		return ErrNoActors
	}

	task, err := s.openTask(ctx, taskID)
	if err != nil {
		return err
	}

	for _, delegate := range delegates {
		if !slices.Contains(task.Delegates, delegate) {
			task.Delegates = append(task.Delegates, delegate)
		}
	}

	task.Comment = comment

	err = s.repo.Save(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", taskID, err)
	}

	s.publish(ctx, task.RouteID, events.TaskDelegated{
		BaseEvent: events.NewBaseEvent(events.TaskDelegatedEvent, task.RouteID),
		NodeID:    task.NodeID,
		TaskID:    taskID,
		Delegates: task.Delegates,
		Comment:   comment,
	})

	return nil
}

// OpenTasks returns the tasks of routeID still awaiting an actor.
func (s *Service) OpenTasks(ctx context.Context, routeID string) ([]*models.Task, error) {
	all, err := s.repo.ByRoute(ctx, routeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks of route %s: %w", routeID, err)
	}

	open := make([]*models.Task, 0, len(all))

	for _, task := range all {
		if task.IsOpen() {
			open = append(open, task)
		}
	}

	return open, nil
}

func (s *Service) publish(ctx context.Context, routeID string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.Publish(ctx, routeID, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish task event", "event_type", event.GetType(), "route_id", routeID, "error", err)
	}
}
