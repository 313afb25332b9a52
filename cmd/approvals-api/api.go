// Package main provides the approvals API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/bulk"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/engine"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/escalation"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/services"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/web"
)

type API struct {
	logger        *slog.Logger
	persistence   persistence.Persistence
	engine        *engine.Engine
	bulkProcessor *bulk.Processor
	sweeper       *escalation.Sweeper
	validate      *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eng *engine.Engine,
	bulkProcessor *bulk.Processor,
	sweeper *escalation.Sweeper,
) *API {
	return &API{
		logger:        logger,
		persistence:   persistence,
		engine:        eng,
		bulkProcessor: bulkProcessor,
		sweeper:       sweeper,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	definitionService := services.NewDefinition(a.persistence)

	handlers := web.NewAPIHandlers(definitionService, a.engine, a.bulkProcessor, a.sweeper, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Approvals API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)

	i := app.Group("/instances")
	i.Get("/", handlers.ListInstances)
	i.Post("/", handlers.CreateInstance)
	i.Get("/:id", handlers.GetInstance)
	i.Post("/:id/actions", handlers.ExecuteAction)
	i.Post("/:id/assign", handlers.AssignInstance)
	i.Post("/bulk-actions", handlers.BulkAction)

	app.Post("/escalations/sweep", handlers.TriggerSweep)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
