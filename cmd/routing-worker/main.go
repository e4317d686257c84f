package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/routing/pkg/cmd"
	"github.com/dukex/routing/pkg/escalation"
	"github.com/dukex/routing/pkg/log"
	"github.com/dukex/routing/pkg/metrics"
	"github.com/dukex/routing/pkg/otelhelper"
	"github.com/dukex/routing/pkg/services"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "routing-worker",
		EnableShellCompletion: true,
		Usage:                 "Resume routes on task completion and run escalation rules",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file://... or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "work-queue-url",
				Usage:   "Work queue URL (redis://... or memory://)",
				Value:   "memory://",
				Sources: cli.EnvVars("WORK_QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:    "escalation-schedule",
				Usage:   "Cron spec of the escalation poll",
				Value:   escalation.DefaultSchedule,
				Sources: cli.EnvVars("ESCALATION_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "chains-path",
				Usage:   "Directory holding YAML chain definitions",
				Value:   "./chains",
				Sources: cli.EnvVars("CHAINS_PATH"),
			},
			&cli.IntFlag{
				Name:    "model-cache-size",
				Usage:   "Number of route models kept in memory",
				Value:   services.DefaultModelCacheSize,
				Sources: cli.EnvVars("MODEL_CACHE_SIZE"),
			},
			&cli.DurationFlag{
				Name:    "model-cache-ttl",
				Usage:   "How long a cached route model is trusted",
				Value:   services.DefaultModelCacheTTL,
				Sources: cli.EnvVars("MODEL_CACHE_TTL"),
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Address serving Prometheus metrics (empty disables it)",
				Value:   ":9090",
				Sources: cli.EnvVars("METRICS_ADDR"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("routing-worker").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing routing worker")

	config := cmd.RoutingConfig{
		ChainsPath:     command.String("chains-path"),
		ModelCacheSize: int(command.Int("model-cache-size")),
		ModelCacheTTL:  command.Duration("model-cache-ttl"),
	}

	if command.Bool("otel-enabled") {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, "routing-worker")
		if err != nil {
			return err
		}

		defer func() {
			err := shutdown(context.WithoutCancel(ctx))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
			}
		}()

		config.Tracer = tracer
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	config.Metrics = metrics.New(registry)

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := store.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(logger, command.String("event-bus"), command.String("kafka-brokers"), "routing-worker")
	if err != nil {
		return err
	}

	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	config.Publisher = eventBus

	stack, err := cmd.NewRoutingStack(logger, store, config)
	if err != nil {
		return err
	}

	queue, err := cmd.NewWorkQueue(ctx, logger, command.String("work-queue-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := queue.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close work queue", "error", err)
		}
	}()

	worker := NewWorker(workerID, logger, WorkerConfig{
		Service:            stack.Service,
		Poller:             escalation.NewPoller(logger, stack.Engine, store.RouteRepository(), queue, escalation.WithMetrics(config.Metrics)),
		Queue:              queue,
		EventBus:           eventBus,
		Gatherer:           registry,
		EscalationSchedule: command.String("escalation-schedule"),
		MetricsAddr:        command.String("metrics-addr"),
	})

	return worker.Start(ctx)
}
