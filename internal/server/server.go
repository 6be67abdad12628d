// Package server assembles the HTTP surface: middleware, routes and the
// websocket endpoint.
package server

import (
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/transflow/api/internal/handler"
	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/middleware"
	ws "github.com/transflow/api/internal/websocket"
	"github.com/transflow/api/pkg/response"
)

// Handlers are the route targets.
type Handlers struct {
	Health   *handler.HealthHandler
	Auth     *handler.AuthHandler
	Batch    *handler.BatchHandler
	Document *handler.DocumentHandler
	Unit     *handler.UnitHandler
	Agent    *handler.AgentHandler
	Upload   *handler.UploadHandler
	Job      *handler.JobHandler
}

// Options configures the app.
type Options struct {
	BodyLimitMB      int
	Auth             fiber.Handler
	RateLimiter      *middleware.RateLimiter
	BatchStartPerMin int
	AgentPerMin      int
	Hub              *ws.Hub
}

// New builds the fiber app with every route mounted.
func New(h Handlers, opts Options) *fiber.App {
	bodyLimit := opts.BodyLimitMB
	if bodyLimit <= 0 {
		bodyLimit = 50
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		BodyLimit:    bodyLimit * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})
	app.Get("/health", h.Health.Health)

	// ForwardAuth verification endpoint, called by the gateway
	app.Get("/auth/verify", h.Auth.Verify)

	api := app.Group("/api", opts.Auth)

	batches := api.Group("/batches/:phase")
	batches.Post("/start", opts.RateLimiter.BatchLimit(opts.BatchStartPerMin), h.Batch.Start)
	batches.Get("/progress", h.Batch.Progress)
	batches.Post("/cancel", h.Batch.Cancel)
	batches.Post("/persist", h.Batch.Persist)

	documents := api.Group("/documents")
	documents.Post("/", h.Document.Register)
	documents.Get("/:id", h.Document.Get)
	documents.Post("/:id/parse", h.Document.Parse)
	documents.Post("/:id/segment", h.Document.Segment)
	documents.Post("/:id/terms", h.Document.StartTerms)
	documents.Get("/:id/terms", h.Document.Terms)
	documents.Post("/:id/apply", h.Document.Apply)
	documents.Post("/:id/complete", h.Document.Complete)
	documents.Get("/:id/units", h.Unit.List)

	units := api.Group("/units")
	units.Get("/:id", h.Unit.Get)
	units.Put("/:id", h.Unit.Save)
	units.Post("/:id/stage", h.Unit.Advance)
	units.Get("/:id/transitions", h.Unit.Transitions)
	units.Post("/:id/transitions", h.Unit.Record)
	units.Post("/:id/previous", h.Unit.Previous)

	agents := api.Group("/agents")
	agents.Get("/", h.Agent.Stages)
	agents.Post("/:stage", opts.RateLimiter.AgentLimit(opts.AgentPerMin), h.Agent.Run)

	uploads := api.Group("/uploads")
	uploads.Post("/url", h.Upload.UploadURL)
	uploads.Get("/file-url", h.Upload.FileURL)

	jobs := api.Group("/jobs")
	jobs.Get("/:jobId", h.Job.Status)
	jobs.Post("/:jobId/cancel", h.Job.Cancel)

	if opts.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/batches/:batchId", websocket.New(func(c *websocket.Conn) {
			opts.Hub.HandleConnection(c, c.Params("batchId"))
		}))
	}

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	} else {
		logger.CtxError(c.UserContext(), "unhandled error: %v", err)
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge:
		errCode = response.CodeValidationError
	}
	return response.Error(c, code, errCode, message, nil)
}
