package file

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/persistence"
)

// TaskRepository stores one JSON document per task.
type TaskRepository struct {
	store *Persistence
}

func (tr *TaskRepository) Get(_ context.Context, id string) (*models.Task, error) {
	tr.store.mu.RLock()
	defer tr.store.mu.RUnlock()

	var task models.Task

	err := tr.store.read(tasksDir, id, &task)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewTaskError("Get", id, persistence.ErrTaskNotFound)
		}

		return nil, persistence.NewTaskError("Get", id, err)
	}

	return &task, nil
}

func (tr *TaskRepository) Save(_ context.Context, task *models.Task) error {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}

	task.UpdatedAt = now

	err := tr.store.writeAll(tasksDir, map[string]any{task.ID: task})
	if err != nil {
		return persistence.NewTaskError("Save", task.ID, err)
	}

	return nil
}

// ByRoute returns the tasks of a route in creation order.
func (tr *TaskRepository) ByRoute(_ context.Context, routeID string) ([]*models.Task, error) {
	tr.store.mu.RLock()
	defer tr.store.mu.RUnlock()

	tasks := make([]*models.Task, 0)

	err := tr.store.readAll(tasksDir, func(body []byte) error {
		var task models.Task

		err := json.Unmarshal(body, &task)
		if err != nil {
			return err
		}

		if task.RouteID == routeID {
			tasks = append(tasks, &task)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks, nil
}
