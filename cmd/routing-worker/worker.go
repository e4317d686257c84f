package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/routing/pkg/escalation"
	"github.com/dukex/routing/pkg/eventbus"
	"github.com/dukex/routing/pkg/events"
	"github.com/dukex/routing/pkg/services"
	"github.com/dukex/routing/pkg/work"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type WorkerConfig struct {
	Service            *services.Routing
	Poller             *escalation.Poller
	Queue              work.Queue
	EventBus           eventbus.EventBus
	Gatherer           prometheus.Gatherer
	EscalationSchedule string
	MetricsAddr        string
}

// Worker resumes nodes whose tasks ended and executes the escalation
// rules its poller schedules.
type Worker struct {
	id     string
	logger *slog.Logger
	config WorkerConfig
	mux    *work.Mux
}

func NewWorker(id string, logger *slog.Logger, config WorkerConfig) *Worker {
	mux := work.NewMux()
	mux.Register(work.KindEscalation, escalation.NewHandler(logger, config.Service))

	return &Worker{
		id:     id,
		logger: logger.With("module", "routing-worker", "worker_id", id),
		config: config,
		mux:    mux,
	}
}

// Start runs until ctx is canceled or one of the worker loops fails.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting routing worker")

	err := w.config.EventBus.Handle(events.TaskEndedEvent, w.handleTaskEnded)
	if err != nil {
		return err
	}

	err = w.config.EventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return w.config.Queue.Consume(groupCtx, w.mux)
	})

	group.Go(func() error {
		err := w.config.Poller.Start(groupCtx, w.config.EscalationSchedule)
		if err != nil {
			return err
		}

		<-groupCtx.Done()

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()

		w.config.Poller.Stop(stopCtx)

		return nil
	})

	if w.config.MetricsAddr != "" && w.config.Gatherer != nil {
		group.Go(func() error {
			return w.serveMetrics(groupCtx)
		})
	}

	w.logger.InfoContext(ctx, "Routing worker started")

	err = group.Wait()

	w.logger.InfoContext(ctx, "Shutting down routing worker")

	return err
}

func (w *Worker) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(w.config.Gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              w.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to shut down metrics server", "error", err)
		}
	}()

	w.logger.InfoContext(ctx, "Serving metrics", "addr", w.config.MetricsAddr)

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func (w *Worker) handleTaskEnded(ctx context.Context, event any) error {
	taskEnded, ok := event.(*events.TaskEnded)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for TaskEnded")

		return nil
	}

	logger := w.logger.With(
		"route_id", taskEnded.RouteID,
		"node_id", taskEnded.NodeID,
		"task_id", taskEnded.TaskID,
	)
	logger.InfoContext(ctx, "Processing task ended event")

	err := w.config.Service.ResumeFromTask(ctx, taskEnded.TaskID)
	switch {
	case err == nil:
		return nil
	case services.IsNotFoundError(err), services.IsConflictError(err):
		// redelivering cannot fix these
		logger.WarnContext(ctx, "Task ended event dropped", "error", err)

		return nil
	default:
		logger.ErrorContext(ctx, "Failed to resume node from task", "error", err)

		return err
	}
}
