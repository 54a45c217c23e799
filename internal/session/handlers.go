package session

import (
	"errors"

	"agent-pairtrack/internal/checkpoint"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, coord *Coordinator, linkMiddleware fiber.Handler) {
	r.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(coord.CurrentSession())
	})

	r.Post("/start", linkMiddleware, func(c *fiber.Ctx) error {
		startedAt, err := coord.StartTracking(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(sessionEvent{Active: true, StartedAt: &startedAt})
	})

	r.Post("/stop", linkMiddleware, func(c *fiber.Ctx) error {
		rec, err := coord.StopTracking(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return c.JSON(rec)
	})

	r.Post("/checkpoints", linkMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Mood string `json:"mood"`
			Note string `json:"note"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		mood, ok := checkpoint.ParseMood(req.Mood)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "unknown mood")
		}

		cp, err := coord.CreateManualCheckpoint(c.Context(), mood, req.Note)
		if err != nil {
			if errors.Is(err, ErrNoSession) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			if errors.Is(err, ErrNoPosition) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(cp)
	})
}
