package main

import (
	"context"
	"fmt"

	"github.com/dukex/concord/pkg/cmd"
	"github.com/dukex/concord/pkg/config"
	"github.com/dukex/concord/pkg/eventbus"
	"github.com/dukex/concord/pkg/log"
	"github.com/dukex/concord/pkg/otelhelper"
	"github.com/urfave/cli/v3"
)

const defaultPort = 9091

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"run", "r"},
		Usage:   "Start the API server",
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (postgres://, sqlite://, redis://, or a directory for the file store)",
				Value:   "./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus notifications are published on (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Engine configuration file",
				Sources: cli.EnvVars("ENGINE_CONFIG"),
			},
			&cli.BoolFlag{
				Name:    "log-events",
				Usage:   "Log every instance transition and definition publication received from the event bus",
				Value:   true,
				Sources: cli.EnvVars("LOG_EVENTS"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			pluginsPathFlag(),
		}, logFlags()...),
		Action: runServe,
	}
}

func runServe(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("api")

	logger.InfoContext(ctx, "Initializing Concord API")

	if command.Bool("otel") {
		shutdown, err := otelhelper.Setup(ctx, "concord")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return err
	}

	pluginsPath := command.String("plugins-path")
	if pluginsPath == "" {
		pluginsPath = cfg.PluginsPath
	}

	registry, err := cmd.NewRegistry(logger, pluginsPath)
	if err != nil {
		return fmt.Errorf("failed to load plugins: %w", err)
	}

	engine, err := cfg.Engine(registry, logger)
	if err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	if command.Bool("log-events") {
		if err := eventbus.LogActivity(eventBus, logger); err != nil {
			return err
		}

		if err := eventBus.Subscribe(ctx); err != nil {
			return fmt.Errorf("failed to subscribe to events: %w", err)
		}
	}

	api := NewAPI(logger, persistence, registry, eventBus, engine)

	return api.Start(ctx, command.Int("port"))
}
