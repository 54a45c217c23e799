package capture

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, src *PushSource, loop *Loop, linkMiddleware fiber.Handler) {
	r.Post("/position", linkMiddleware, func(c *fiber.Ctx) error {
		var req PositionSample
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
			return fiber.NewError(fiber.StatusBadRequest, "latitude and longitude out of range")
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = time.Now()
		}
		if !src.PushPosition(req) {
			return fiber.NewError(fiber.StatusServiceUnavailable, "capture loop backed up")
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/health", linkMiddleware, func(c *fiber.Ctx) error {
		var req HealthSnapshot
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.IsZero() {
			return fiber.NewError(fiber.StatusBadRequest, "at least one health field required")
		}
		if !src.PushHealth(req) {
			return fiber.NewError(fiber.StatusServiceUnavailable, "capture loop backed up")
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Get("/status", linkMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(loop.Status())
	})
}
