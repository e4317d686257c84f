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
	"github.com/google/uuid"
)

const selectRoutes = `
	SELECT
		id
	  , name
	  , description
	  , model_id
	  , state
	  , variables
	  , attached_document_ids
	  , parent_route_id
	  , parent_node_id
	  , initiator
	  , start_time
	  , created_at
	  , updated_at
	FROM routes
`

// RouteRepository handles route-related database operations.
type RouteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRouteRepository creates a new route repository.
func NewRouteRepository(db *sql.DB, logger *slog.Logger) *RouteRepository {
	return &RouteRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *RouteRepository) scanRoute(row rowScanner) (*models.GraphRoute, error) {
	var (
		route         models.GraphRoute
		state         string
		variablesJSON []byte
		documentsJSON []byte
		startTime     sql.NullTime
	)

	err := row.Scan(
		&route.ID,
		&route.Name,
		&route.Description,
		&route.ModelID,
		&state,
		&variablesJSON,
		&documentsJSON,
		&route.ParentRouteID,
		&route.ParentNodeID,
		&route.Initiator,
		&startTime,
		&route.CreatedAt,
		&route.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	route.State = models.RouteState(state)

	if startTime.Valid {
		route.StartTime = &startTime.Time
	}

	err = json.Unmarshal(variablesJSON, &route.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
	}

	err = json.Unmarshal(documentsJSON, &route.AttachedDocumentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal attached documents: %w", err)
	}

	return &route, nil
}

func (r *RouteRepository) loadNodes(ctx context.Context, route *models.GraphRoute) error {
	rows, err := r.db.QueryContext(ctx, "SELECT document FROM route_nodes WHERE route_id = $1 ORDER BY position", route.ID)
	if err != nil {
		return fmt.Errorf("failed to query nodes: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	route.Nodes = make([]*models.GraphNode, 0)

	for rows.Next() {
		var document []byte

		err := rows.Scan(&document)
		if err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}

		var node models.GraphNode

		err = json.Unmarshal(document, &node)
		if err != nil {
			return fmt.Errorf("failed to unmarshal node: %w", err)
		}

		route.Nodes = append(route.Nodes, &node)
	}

	return rows.Err()
}

func (r *RouteRepository) query(ctx context.Context, where string, args ...any) ([]*models.GraphRoute, error) {
	rows, err := r.db.QueryContext(ctx, selectRoutes+where+" ORDER BY created_at", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}

	routes := make([]*models.GraphRoute, 0)

	for rows.Next() {
		route, err := r.scanRoute(rows)
		if err != nil {
			_ = rows.Close()

			return nil, fmt.Errorf("failed to scan route: %w", err)
		}

		routes = append(routes, route)
	}

	err = rows.Err()
	if err != nil {
		_ = rows.Close()

		return nil, fmt.Errorf("error iterating routes: %w", err)
	}

	err = rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}

	for _, route := range routes {
		err := r.loadNodes(ctx, route)
		if err != nil {
			return nil, persistence.NewRouteError("LoadNodes", route.ID, err)
		}
	}

	return routes, nil
}

func (r *RouteRepository) Get(ctx context.Context, id string) (*models.GraphRoute, error) {
	row := r.db.QueryRowContext(ctx, selectRoutes+" WHERE id = $1", id)

	route, err := r.scanRoute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRouteError("Get", id, persistence.ErrRouteNotFound)
		}

		return nil, persistence.NewRouteError("Get", id, err)
	}

	err = r.loadNodes(ctx, route)
	if err != nil {
		return nil, persistence.NewRouteError("Get", id, err)
	}

	return route, nil
}

// Save creates or replaces a route, assigning an id when it has none.
func (r *RouteRepository) Save(ctx context.Context, route *models.GraphRoute) error {
	if route.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate route ID: %w", err)
		}

		route.ID = id.String()
	}

	return r.Commit(ctx, route)
}

// Commit writes every route, with its nodes, in a single transaction.
func (r *RouteRepository) Commit(ctx context.Context, routes ...*models.GraphRoute) (err error) {
	if len(routes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()

	for _, route := range routes {
		if route.CreatedAt.IsZero() {
			route.CreatedAt = now
		}

		route.UpdatedAt = now

		err = r.write(ctx, tx, route)
		if err != nil {
			return persistence.NewRouteError("Commit", route.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *RouteRepository) write(ctx context.Context, tx *sql.Tx, route *models.GraphRoute) error {
	variables := route.Variables
	if variables == nil {
		variables = map[string]any{}
	}

	variablesJSON, err := json.Marshal(variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	documents := route.AttachedDocumentIDs
	if documents == nil {
		documents = []string{}
	}

	documentsJSON, err := json.Marshal(documents)
	if err != nil {
		return fmt.Errorf("failed to marshal attached documents: %w", err)
	}

	routeQuery := `
		INSERT INTO routes (id, name, description, model_id, state, variables, attached_document_ids,
			parent_route_id, parent_node_id, initiator, start_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			model_id = EXCLUDED.model_id,
			state = EXCLUDED.state,
			variables = EXCLUDED.variables,
			attached_document_ids = EXCLUDED.attached_document_ids,
			parent_route_id = EXCLUDED.parent_route_id,
			parent_node_id = EXCLUDED.parent_node_id,
			initiator = EXCLUDED.initiator,
			start_time = EXCLUDED.start_time,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, routeQuery,
		route.ID,
		route.Name,
		route.Description,
		route.ModelID,
		string(route.State),
		variablesJSON,
		documentsJSON,
		route.ParentRouteID,
		route.ParentNodeID,
		route.Initiator,
		route.StartTime,
		route.CreatedAt,
		route.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save route base: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM route_nodes WHERE route_id = $1", route.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing nodes: %w", err)
	}

	for position, node := range route.Nodes {
		state, err := node.State.MarshalText()
		if err != nil {
			return fmt.Errorf("failed to save node %s: %w", node.ID, err)
		}

		document, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("failed to marshal node %s: %w", node.ID, err)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO route_nodes (route_id, id, position, state, document) VALUES ($1, $2, $3, $4, $5)",
			route.ID, node.ID, position, string(state), document,
		)
		if err != nil {
			return fmt.Errorf("failed to save node %s: %w", node.ID, err)
		}
	}

	return nil
}

// Delete removes a route; its nodes follow through the foreign key.
func (r *RouteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM routes WHERE id = $1", id)
	if err != nil {
		return persistence.NewRouteError("Delete", id, err)
	}

	return nil
}

func (r *RouteRepository) Models(ctx context.Context) ([]*models.GraphRoute, error) {
	return r.query(ctx, " WHERE model_id = ''")
}

func (r *RouteRepository) ModelByName(ctx context.Context, name string) (*models.GraphRoute, error) {
	matches, err := r.query(ctx, " WHERE model_id = '' AND name = $1", name)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", persistence.ErrModelNotFound, name)
	}

	return matches[len(matches)-1], nil
}

func (r *RouteRepository) Children(ctx context.Context, parentRouteID string) ([]*models.GraphRoute, error) {
	return r.query(ctx, " WHERE parent_route_id = $1", parentRouteID)
}

func (r *RouteRepository) Running(ctx context.Context) ([]*models.GraphRoute, error) {
	return r.query(ctx, " WHERE model_id <> '' AND state = $1", string(models.RouteStateRunning))
}
