package timeline

import (
	"errors"
	"time"

	"agent-pairtrack/internal/capture"
	"agent-pairtrack/internal/checkpoint"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, store *Store, linkMiddleware fiber.Handler) {
	r.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(store.Records())
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		rec, ok := store.Get(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "record not found")
		}
		return c.JSON(rec)
	})

	r.Delete("/:id", linkMiddleware, func(c *fiber.Ctx) error {
		if err := store.Delete(c.Context(), c.Params("id")); err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "record not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Delete("/", linkMiddleware, func(c *fiber.Ctx) error {
		if err := store.Clear(c.Context()); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/:id/checkpoints", linkMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			Latitude   float64   `json:"latitude"`
			Longitude  float64   `json:"longitude"`
			OccurredAt time.Time `json:"occurred_at"`
			Mood       string    `json:"mood"`
			Note       string    `json:"note"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if body.Latitude < -90 || body.Latitude > 90 || body.Longitude < -180 || body.Longitude > 180 {
			return fiber.NewError(fiber.StatusBadRequest, "latitude/longitude out of range")
		}
		mood, ok := checkpoint.ParseMood(body.Mood)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "unknown mood")
		}
		at := body.OccurredAt
		if at.IsZero() {
			at = time.Now()
		}

		cp := checkpoint.Manual(capture.PositionSample{
			Latitude:  body.Latitude,
			Longitude: body.Longitude,
			Timestamp: at,
		}, at, mood, body.Note, capture.HealthSnapshot{})

		if err := store.AddCheckpoint(c.Context(), c.Params("id"), cp); err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "record not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(cp)
	})

	r.Patch("/:id/checkpoints/:cpid/note", linkMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			Note *string `json:"note"`
		}
		if err := c.BodyParser(&body); err != nil || body.Note == nil {
			return fiber.NewError(fiber.StatusBadRequest, "note required")
		}
		if err := store.UpdateCheckpointNote(c.Params("id"), c.Params("cpid"), *body.Note); err != nil {
			return fiber.NewError(fiber.StatusNotFound, "checkpoint not found")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
