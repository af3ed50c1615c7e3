package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nexloop/wabridge/bridge"
	"github.com/nexloop/wabridge/pkg/utils"
)

type Health struct {
	Registry *bridge.Registry
}

func InitRestHealth(app fiber.Router, registry *bridge.Registry) Health {
	handler := Health{Registry: registry}
	app.Get("/health", handler.GetStatus)
	return handler
}

func (h *Health) GetStatus(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Service healthy",
		Results: map[string]any{
			"status":          "ok",
			"active_sessions": len(h.Registry.Snapshots()),
		},
	})
}
