package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/persistence"
)

// TaskRepository handles task-related database operations.
type TaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *sql.DB, logger *slog.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

func (r *TaskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, "SELECT document FROM tasks WHERE id = $1", id).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTaskError("Get", id, persistence.ErrTaskNotFound)
		}

		return nil, persistence.NewTaskError("Get", id, err)
	}

	var task models.Task

	err = json.Unmarshal(document, &task)
	if err != nil {
		return nil, persistence.NewTaskError("Get", id, fmt.Errorf("failed to unmarshal task: %w", err))
	}

	return &task, nil
}

func (r *TaskRepository) Save(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}

	task.UpdatedAt = now

	document, err := json.Marshal(task)
	if err != nil {
		return persistence.NewTaskError("Save", task.ID, fmt.Errorf("failed to marshal task: %w", err))
	}

	query := `
		INSERT INTO tasks (id, route_id, node_id, status, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		task.ID,
		task.RouteID,
		task.NodeID,
		string(task.Status),
		document,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return persistence.NewTaskError("Save", task.ID, err)
	}

	return nil
}

func (r *TaskRepository) ByRoute(ctx context.Context, routeID string) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT document FROM tasks WHERE route_id = $1 ORDER BY created_at", routeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		var document []byte

		err := rows.Scan(&document)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		var task models.Task

		err = json.Unmarshal(document, &task)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal task: %w", err)
		}

		tasks = append(tasks, &task)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}
