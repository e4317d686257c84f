package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dukex/routing/pkg/cmd"
	"github.com/dukex/routing/pkg/log"
	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/routing"
	"github.com/dukex/routing/pkg/services"
	cli "github.com/urfave/cli/v3"
)

var errMissingArgument = errors.New("missing argument")

// withStack opens the store and event bus named by the root flags, runs
// fn over the routing stack and closes them again.
func withStack(ctx context.Context, command *cli.Command, fn func(ctx context.Context, stack *cmd.RoutingStack) error) error {
	root := command.Root()

	log.Setup(root.String("log-level"))

	logger := log.WithModule("routingctl")

	store, err := cmd.NewPersistence(ctx, logger, root.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := store.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(logger, root.String("event-bus"), root.String("kafka-brokers"), "routingctl")
	if err != nil {
		return err
	}

	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	stack, err := cmd.NewRoutingStack(logger, store, cmd.RoutingConfig{
		ChainsPath:     root.String("chains-path"),
		ModelCacheSize: int(root.Int("model-cache-size")),
		Publisher:      eventBus,
	})
	if err != nil {
		return err
	}

	return fn(ctx, stack)
}

func requireArgs(command *cli.Command, names ...string) ([]string, error) {
	if command.Args().Len() < len(names) {
		return nil, fmt.Errorf("%w: %s", errMissingArgument, strings.Join(names[command.Args().Len():], ", "))
	}

	return command.Args().Slice()[:len(names)], nil
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}

// parseVariables turns key=value pairs into variables. Values that are
// valid JSON keep their type; anything else is a string.
func parseVariables(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", pair)
		}

		var value any

		err := json.Unmarshal([]byte(raw), &value)
		if err != nil {
			value = raw
		}

		vars[key] = value
	}

	return vars, nil
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a route model document without storing it",
		ArgsUsage: "<file>",
		Action: func(_ context.Context, command *cli.Command) error {
			argv, err := requireArgs(command, "file")
			if err != nil {
				return err
			}

			route, err := loadRoute(argv[0])
			if err != nil {
				return err
			}

			result, err := routing.Validate(route)
			if err != nil {
				return err
			}

			out := command.Root().Writer
			for _, warning := range result.Warnings {
				fmt.Fprintln(out, "warning:", warning)
			}

			fmt.Fprintf(out, "route model %s is valid\n", route.ID)

			return nil
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Validate a route model document and store it",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, command *cli.Command) error {
			argv, err := requireArgs(command, "file")
			if err != nil {
				return err
			}

			route, err := loadRoute(argv[0])
			if err != nil {
				return err
			}

			return withStack(ctx, command, func(ctx context.Context, stack *cmd.RoutingStack) error {
				result, err := stack.Service.ImportModel(ctx, route)
				if err != nil {
					return err
				}

				out := command.Root().Writer
				for _, warning := range result.Warnings {
					fmt.Fprintln(out, "warning:", warning)
				}

				fmt.Fprintf(out, "imported route model %s (%s)\n", route.ID, route.Name)

				return nil
			})
		},
	}
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Create and start an instance of a route model",
		ArgsUsage: "<model id or name>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "document", Aliases: []string{"d"}, Usage: "Attached document id"},
			&cli.StringFlag{Name: "initiator", Usage: "User starting the route"},
			&cli.StringSliceFlag{Name: "var", Usage: "Workflow variable as key=value"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			argv, err := requireArgs(command, "model")
			if err != nil {
				return err
			}

			vars, err := parseVariables(command.StringSlice("var"))
			if err != nil {
				return err
			}

			return withStack(ctx, command, func(ctx context.Context, stack *cmd.RoutingStack) error {
				route, err := stack.Service.CreateAndStart(ctx, argv[0], command.StringSlice("document"), command.String("initiator"), vars)
				if err != nil {
					return err
				}

				return printJSON(command.Root().Writer, route)
			})
		},
	}
}

func resumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume a suspended node",
		ArgsUsage: "<route id> <node id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "actor", Usage: "User resuming the node"},
			&cli.StringFlag{Name: "status", Usage: "Outcome handed to the node"},
			&cli.StringFlag{Name: "comment", Usage: "Comment handed to the node"},
			&cli.BoolFlag{Name: "force", Usage: "Let a node merging one input proceed"},
			&cli.StringSliceFlag{Name: "var", Usage: "Workflow variable as key=value"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			argv, err := requireArgs(command, "route", "node")
			if err != nil {
				return err
			}

			vars, err := parseVariables(command.StringSlice("var"))
			if err != nil {
				return err
			}

			return withStack(ctx, command, func(ctx context.Context, stack *cmd.RoutingStack) error {
				route, err := stack.Service.Resume(ctx, argv[0], argv[1], routing.ResumeData{
					Actor:             command.String("actor"),
					Status:            command.String("status"),
					Comment:           command.String("comment"),
					ForceResume:       command.Bool("force"),
					WorkflowVariables: vars,
				})
				if err != nil {
					return err
				}

				return printJSON(command.Root().Writer, route)
			})
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a route and its sub-routes",
		ArgsUsage: "<route id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			argv, err := requireArgs(command, "route")
			if err != nil {
				return err
			}

			return withStack(ctx, command, func(ctx context.Context, stack *cmd.RoutingStack) error {
				route, err := stack.Service.Cancel(ctx, argv[0])
				if err != nil {
					return err
				}

				fmt.Fprintf(command.Root().Writer, "route %s is %s\n", route.ID, route.State)

				return nil
			})
		},
	}
}

type routeView struct {
	Route     *models.GraphRoute `json:"route"`
	OpenTasks []*models.Task     `json:"open_tasks"`
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a route and its open tasks as JSON",
		ArgsUsage: "<route id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			argv, err := requireArgs(command, "route")
			if err != nil {
				return err
			}

			return withStack(ctx, command, func(ctx context.Context, stack *cmd.RoutingStack) error {
				route, err := stack.Service.Get(ctx, argv[0])
				if err != nil {
					return err
				}

				open, err := stack.Service.OpenTasks(ctx, route.ID)
				if err != nil {
					return err
				}

				return printJSON(command.Root().Writer, routeView{Route: route, OpenTasks: open})
			})
		},
	}
}

func reassignCommand() *cli.Command {
	return &cli.Command{
		Name:      "reassign",
		Usage:     "Replace the actors of an open task",
		ArgsUsage: "<task id>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "actor", Usage: "New actor", Required: true},
			&cli.StringFlag{Name: "comment", Usage: "Reason for the reassignment"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			argv, err := requireArgs(command, "task")
			if err != nil {
				return err
			}

			return withStack(ctx, command, func(ctx context.Context, stack *cmd.RoutingStack) error {
				err := stack.Service.ReassignTask(ctx, argv[0], command.StringSlice("actor"), command.String("comment"))
				if err != nil {
					return err
				}

				fmt.Fprintf(command.Root().Writer, "task %s reassigned\n", argv[0])

				return nil
			})
		},
	}
}

func delegateCommand() *cli.Command {
	return &cli.Command{
		Name:      "delegate",
		Usage:     "Let other users act on an open task",
		ArgsUsage: "<task id>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "delegate", Usage: "Delegated user", Required: true},
			&cli.StringFlag{Name: "comment", Usage: "Reason for the delegation"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			argv, err := requireArgs(command, "task")
			if err != nil {
				return err
			}

			return withStack(ctx, command, func(ctx context.Context, stack *cmd.RoutingStack) error {
				err := stack.Service.DelegateTask(ctx, argv[0], command.StringSlice("delegate"), command.String("comment"))
				if err != nil {
					return err
				}

				fmt.Fprintf(command.Root().Writer, "task %s delegated\n", argv[0])

				return nil
			})
		},
	}
}

func completeCommand() *cli.Command {
	return &cli.Command{
		Name:      "complete",
		Usage:     "End an open task and resume its node",
		ArgsUsage: "<task id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "actor", Usage: "User ending the task", Required: true},
			&cli.StringFlag{Name: "status", Usage: "Task outcome, also used as the clicked button"},
			&cli.StringFlag{Name: "comment", Usage: "Comment left on the task"},
			&cli.StringSliceFlag{Name: "var", Usage: "Workflow variable as key=value"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			argv, err := requireArgs(command, "task")
			if err != nil {
				return err
			}

			vars, err := parseVariables(command.StringSlice("var"))
			if err != nil {
				return err
			}

			return withStack(ctx, command, func(ctx context.Context, stack *cmd.RoutingStack) error {
				route, err := stack.Service.CompleteTask(ctx, argv[0], services.CompleteTaskRequest{
					Actor:             command.String("actor"),
					Status:            command.String("status"),
					Comment:           command.String("comment"),
					WorkflowVariables: vars,
				})
				if err != nil {
					return err
				}

				fmt.Fprintf(command.Root().Writer, "route %s is %s\n", route.ID, route.State)

				return nil
			})
		},
	}
}
