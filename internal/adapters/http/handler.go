package http

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/ephemeral-postgres/internal/core/domain"
	"github.com/melih/ephemeral-postgres/internal/core/ports"
	"github.com/melih/ephemeral-postgres/internal/logging"
)

// InstanceHandler serves the instance and container routes.
type InstanceHandler struct {
	service  ports.InstanceService
	defaults domain.Config
}

// NewInstanceHandler creates a handler. Fields set in defaults apply to requests that leave
// them empty; anything still unset falls back to the library defaults.
func NewInstanceHandler(service ports.InstanceService, defaults domain.Config) *InstanceHandler {
	return &InstanceHandler{service: service, defaults: defaults}
}

func (h *InstanceHandler) ListInstances(c *fiber.Ctx) error {
	return c.JSON(h.service.Instances())
}

// maxWaitTime bounds wait_time; larger values would overflow time.Duration.
const maxWaitTime = 24 * time.Hour

// StartInstanceRequest is the body of POST /instances. Empty fields take the defaults.
type StartInstanceRequest struct {
	Image    string            `json:"image"`
	Version  string            `json:"version"`
	Database string            `json:"database"`
	User     string            `json:"user"`
	Password string            `json:"password"`
	Port     int               `json:"port"`
	WaitTime *float64          `json:"wait_time"` // seconds; 0 skips the readiness wait
	Labels   map[string]string `json:"labels"`
}

// StartInstanceResponse is returned once the instance is ready.
type StartInstanceResponse struct {
	URI      string           `json:"uri"`
	Instance *domain.Instance `json:"instance"`
}

func (r StartInstanceRequest) config(defaults domain.Config) (domain.Config, error) {
	if r.Port < 0 || r.Port > 65535 {
		return domain.Config{}, errors.New("port must be in range 0-65535")
	}
	cfg := domain.Config{
		Image:    pick(r.Image, defaults.Image),
		Version:  pick(r.Version, defaults.Version),
		Database: pick(r.Database, defaults.Database),
		User:     pick(r.User, defaults.User),
		Password: pick(r.Password, defaults.Password),
		Port:     r.Port,
		WaitTime: defaults.WaitTime,
		Labels:   r.Labels,
	}
	if r.WaitTime != nil {
		if *r.WaitTime < 0 {
			return domain.Config{}, errors.New("wait_time must not be negative")
		}
		if *r.WaitTime > maxWaitTime.Seconds() {
			return domain.Config{}, fmt.Errorf("wait_time must not exceed %s", maxWaitTime)
		}
		d := time.Duration(*r.WaitTime * float64(time.Second))
		cfg.WaitTime = &d
	}
	return cfg, nil
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func (h *InstanceHandler) StartInstance(c *fiber.Ctx) error {
	var req StartInstanceRequest
	// An empty body starts an instance with the defaults.
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}
	cfg, err := req.config(h.defaults)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	uri, inst, err := h.service.Start(c.Context(), cfg)
	if err != nil {
		logging.Get().Error().Err(err).Msg("start instance")
		var timeout *domain.ReadinessTimeoutError
		if errors.As(err, &timeout) {
			// The container keeps running; hand back its ID so the caller can stop it.
			return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
				"error": err.Error(),
				"id":    timeout.ContainerID,
			})
		}
		body := fiber.Map{"error": err.Error()}
		if inst != nil {
			body["id"] = inst.ID
		}
		return c.Status(fiber.StatusBadGateway).JSON(body)
	}

	return c.Status(fiber.StatusCreated).JSON(StartInstanceResponse{URI: uri, Instance: inst})
}

func (h *InstanceHandler) GetInstance(c *fiber.Ctx) error {
	inst, ok := h.service.Lookup(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Instance not found",
		})
	}
	return c.JSON(inst)
}

func (h *InstanceHandler) StopInstance(c *fiber.Ctx) error {
	id := c.Params("id")
	inst, ok := h.service.Lookup(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Instance not found",
		})
	}

	if err := h.service.Stop(c.Context(), inst); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *InstanceHandler) GetInstanceLogs(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Container ID is required",
		})
	}

	logs, err := h.service.Logs(c.Context(), id)
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, domain.ErrContainerGone) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendStream(logs)
}

func (h *InstanceHandler) ListContainers(c *fiber.Ctx) error {
	containers, err := h.service.ListContainers(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(containers)
}

func (h *InstanceHandler) ReapContainers(c *fiber.Ctx) error {
	n, err := h.service.Reap(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   err.Error(),
			"removed": n,
		})
	}
	return c.JSON(fiber.Map{"removed": n})
}
