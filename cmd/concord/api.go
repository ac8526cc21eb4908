package main

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/dukex/concord/pkg/engine"
	"github.com/dukex/concord/pkg/eventbus"
	"github.com/dukex/concord/pkg/persistence"
	"github.com/dukex/concord/pkg/protocol"
	"github.com/dukex/concord/pkg/registry"
	"github.com/dukex/concord/pkg/services"
	"github.com/dukex/concord/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	engine      *engine.Engine
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	engine *engine.Engine,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		engine:      engine,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.persistence, a.registry, a.logger)

	var notifier protocol.Notifier

	if a.eventBus != nil {
		workflowService.WithPublisher(a.eventBus)
		notifier = eventbus.NewNotifier(a.eventBus)
	}

	instanceService := services.NewInstance(a.persistence, a.engine, notifier, a.logger)

	handlers := web.NewAPIHandlers(workflowService, instanceService, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Concord API")
	})

	handlers.RegisterRoutes(app)

	return app
}

// Start serves the API until ctx is canceled.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	a.logger.InfoContext(ctx, "Concord API listening", "port", port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.InfoContext(ctx, "Shutting down Concord API")

		if err := app.ShutdownWithContext(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	}
}
