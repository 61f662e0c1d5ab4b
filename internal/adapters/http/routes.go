package http

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// RegisterRoutes mounts the instance API under /api/v1. A non-nil metricsHandler is served
// at /metrics through the net/http adaptor.
func RegisterRoutes(app *fiber.App, h *InstanceHandler, metricsHandler nethttp.Handler) {
	api := app.Group("/api")
	v1 := api.Group("/v1")

	instances := v1.Group("/instances")
	instances.Get("/", h.ListInstances)
	instances.Post("/", h.StartInstance)
	instances.Get("/:id", h.GetInstance)
	instances.Delete("/:id", h.StopInstance)
	instances.Get("/:id/logs", h.GetInstanceLogs)

	// Managed containers as seen by the runtime, including ones leaked by other processes.
	containers := v1.Group("/containers")
	containers.Get("/", h.ListContainers)
	containers.Delete("/", h.ReapContainers)

	if metricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metricsHandler))
	}
}
