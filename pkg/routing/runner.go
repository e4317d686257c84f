package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/routing/pkg/eventbus"
	"github.com/dukex/routing/pkg/events"
	"github.com/dukex/routing/pkg/metrics"
	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/otelhelper"
	"github.com/dukex/routing/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxLoops bounds the node steps of a single run.
const MaxLoops = 1000

// ModelResolver finds a route model by id or by name.
type ModelResolver interface {
	Resolve(ctx context.Context, idOrName string) (*models.GraphRoute, error)
}

type repositoryResolver struct {
	routes persistence.RouteRepository
}

func (r repositoryResolver) Resolve(ctx context.Context, idOrName string) (*models.GraphRoute, error) {
	model, err := r.routes.Get(ctx, idOrName)
	if err == nil && model.IsModel() {
		return model, nil
	}

	if err != nil && !persistence.IsRouteNotFound(err) {
		return nil, err
	}

	return r.routes.ModelByName(ctx, idOrName)
}

// ResumeData is what the actor, or the completed sub-route, hands to a
// suspended node.
type ResumeData struct {
	TaskID            string
	Actor             string
	Comment           string
	Status            string
	Button            string
	NodeVariables     map[string]any
	WorkflowVariables map[string]any
	// ForceResume lets a "one" merge waiting on its inputs proceed.
	ForceResume bool
}

// Runner advances route instances and persists every step.
type Runner struct {
	engine *Engine
	routes persistence.RouteRepository
	events eventbus.EventPublisher
	models ModelResolver
	tracer trace.Tracer
	logger *slog.Logger
}

type RunnerOption func(*Runner)

func WithEventPublisher(publisher eventbus.EventPublisher) RunnerOption {
	return func(r *Runner) {
		r.events = publisher
	}
}

func WithModelResolver(resolver ModelResolver) RunnerOption {
	return func(r *Runner) {
		r.models = resolver
	}
}

func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

func NewRunner(engine *Engine, routes persistence.RouteRepository, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine: engine,
		routes: routes,
		models: repositoryResolver{routes: routes},
		tracer: otel.Tracer("routing"),
		logger: engine.logger.With("component", "runner"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Runner) Engine() *Engine {
	return r.engine
}

// CreateInstance creates a ready, unstarted instance of a validated model.
func (r *Runner) CreateInstance(ctx context.Context, modelIDOrName string, documents []string, initiator string) (*models.GraphRoute, error) {
	model, err := r.models.Resolve(ctx, modelIDOrName)
	if err != nil {
		return nil, newRouteError("CreateInstance", modelIDOrName, "", err)
	}

	instance, err := r.instantiate(model, documents, initiator)
	if err != nil {
		return nil, newRouteError("CreateInstance", model.ID, "", err)
	}

	err = r.routes.Save(ctx, instance)
	if err != nil {
		return nil, newRouteError("CreateInstance", instance.ID, "", err)
	}

	r.logger.InfoContext(ctx, "Route instance created", "route_id", instance.ID, "model_id", model.ID)

	return instance, nil
}

func (r *Runner) instantiate(model *models.GraphRoute, documents []string, initiator string) (*models.GraphRoute, error) {
	if model.State != models.RouteStateValidated {
		return nil, fmt.Errorf("%w: model %s is %s, not %s", ErrInvalidRouteState, model.ID, model.State, models.RouteStateValidated)
	}

	raw, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("failed to copy model %s: %w", model.ID, err)
	}

	var instance models.GraphRoute

	err = json.Unmarshal(raw, &instance)
	if err != nil {
		return nil, fmt.Errorf("failed to copy model %s: %w", model.ID, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate route ID: %w", err)
	}

	instance.ID = id.String()
	instance.ModelID = model.ID
	instance.State = models.RouteStateReady
	instance.Initiator = initiator
	instance.AttachedDocumentIDs = slices.Clone(documents)
	instance.ParentRouteID = ""
	instance.ParentNodeID = ""
	instance.StartTime = nil

	for _, node := range instance.Nodes {
		node.State = models.StateReady
		node.Count = 0
		node.CanceledCount = 0
		node.StartTime = nil
		node.EndTime = nil
		node.LastActor = ""
		node.TasksInfo = nil
		node.SubRouteInstanceID = ""

		for _, t := range node.OutputTransitions {
			t.Result = false
		}

		for _, rule := range node.EscalationRules {
			rule.Executed = false
			rule.LastExecutionTime = nil
		}
	}

	err = NewGraph(&instance).init()
	if err != nil {
		return nil, err
	}

	return &instance, nil
}

// Start moves a ready instance to running and runs it from its start node.
func (r *Runner) Start(ctx context.Context, routeID string, vars map[string]any) (*models.GraphRoute, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "routing.start",
		attribute.String(otelhelper.RouteIDKey, routeID))
	defer span.End()

	s := r.newSession()

	g, err := s.load(ctx, routeID)
	if err != nil {
		return nil, r.fail(ctx, span, "Start", routeID, err)
	}

	err = s.start(ctx, g, vars)
	if err == nil {
		err = s.finish(ctx)
	}

	if err != nil {
		return nil, r.fail(ctx, span, "Start", routeID, err)
	}

	return g.route, nil
}

// Resume continues a suspended node with the outcome in data.
func (r *Runner) Resume(ctx context.Context, routeID, nodeID string, data ResumeData) (*models.GraphRoute, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "routing.resume",
		attribute.String(otelhelper.RouteIDKey, routeID),
		attribute.String(otelhelper.NodeIDKey, nodeID),
		attribute.String(otelhelper.TaskIDKey, data.TaskID))
	defer span.End()

	s := r.newSession()

	g, err := s.load(ctx, routeID)
	if err != nil {
		return nil, r.fail(ctx, span, "Resume", routeID, err)
	}

	node, err := g.Node(nodeID)
	if err == nil {
		err = s.resume(ctx, node, data)
	}

	if err == nil {
		err = s.finish(ctx)
	}

	if err != nil {
		return nil, r.fail(ctx, span, "Resume", routeID, err)
	}

	return g.route, nil
}

// Cancel aborts a route, its open tasks and its sub-routes.
func (r *Runner) Cancel(ctx context.Context, routeID string) (*models.GraphRoute, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "routing.cancel",
		attribute.String(otelhelper.RouteIDKey, routeID))
	defer span.End()

	s := r.newSession()

	g, err := s.load(ctx, routeID)
	if err != nil {
		return nil, r.fail(ctx, span, "Cancel", routeID, err)
	}

	err = s.cancel(ctx, g)
	if err == nil {
		err = s.finish(ctx)
	}

	if err != nil {
		return nil, r.fail(ctx, span, "Cancel", routeID, err)
	}

	return g.route, nil
}

// ExecuteEscalationRule runs the chain of a pending rule of a suspended
// node. It reports false when the rule no longer applies.
func (r *Runner) ExecuteEscalationRule(ctx context.Context, routeID, nodeID, ruleID string) (bool, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "routing.escalate",
		attribute.String(otelhelper.RouteIDKey, routeID),
		attribute.String(otelhelper.NodeIDKey, nodeID),
		attribute.String(otelhelper.RuleIDKey, ruleID))
	defer span.End()

	s := r.newSession()

	executed, err := s.escalate(ctx, routeID, nodeID, ruleID)
	if err == nil {
		err = s.finish(ctx)
	}

	if err != nil {
		return false, r.fail(ctx, span, "ExecuteEscalationRule", routeID, err)
	}

	return executed, nil
}

func (r *Runner) fail(ctx context.Context, span trace.Span, op, routeID string, err error) error {
	var routeErr *RouteError
	if !errors.As(err, &routeErr) {
		routeErr = newRouteError(op, routeID, "", err)
	}

	otelhelper.SetError(span, routeErr, otelhelper.RouteAttributes(routeID, routeErr.NodeID)...)

	r.logger.ErrorContext(ctx, "Route operation failed",
		"operation", op, "route_id", routeID, "node_id", routeErr.NodeID, "error", err)

	if isExecutionFailure(err) {
		r.engine.metrics.RouteFinished(metrics.OutcomeFailed)
		r.publish(ctx, routeID, events.RouteFailed{
			BaseEvent: events.NewBaseEvent(events.RouteFailedEvent, routeID),
			NodeID:    routeErr.NodeID,
			Error:     err.Error(),
		})
	}

	return routeErr
}

func (r *Runner) publish(ctx context.Context, routeID string, event eventbus.Event) {
	if r.events == nil {
		return
	}

	err := r.events.Publish(ctx, routeID, event)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish route event",
			"event_type", event.GetType(), "route_id", routeID, "error", err)
	}
}

// isExecutionFailure reports whether err left a route unable to advance,
// as opposed to a rejected request.
func isExecutionFailure(err error) bool {
	var configErr *ConfigError

	return errors.As(err, &configErr) ||
		IsEvaluationError(err) ||
		errors.Is(err, ErrNoTrueTransition) ||
		errors.Is(err, ErrExecutionLooping) ||
		errors.Is(err, ErrStopWithPending) ||
		errors.Is(err, ErrNoTaskAssignees) ||
		errors.Is(err, ErrInvalidNodeState)
}
