package main

import (
	"context"
	"os"

	"github.com/dukex/routing/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func main() {
	err := newApp().Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "routingctl",
		EnableShellCompletion: true,
		Usage:                 "Validate route models and operate route instances",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (file://... or postgres://...)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
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
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			validateCommand(),
			importCommand(),
			startCommand(),
			resumeCommand(),
			cancelCommand(),
			showCommand(),
			reassignCommand(),
			delegateCommand(),
			completeCommand(),
		},
	}
}
