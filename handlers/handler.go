package handlers

import (
	"bytes"
	"errors"
	"os"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/clinsim/virtual-patient-api/logger"
	"github.com/clinsim/virtual-patient-api/services"
)

type Handler struct {
	client *mongo.Client
	ai     services.Completer
	log    *logger.Logger
}

func NewHandler(client *mongo.Client, ai services.Completer, log *logger.Logger) *Handler {
	return &Handler{client: client, ai: ai, log: log}
}

func (h *Handler) collection(name string) *mongo.Collection {
	return h.client.Database(os.Getenv("DATABASE_NAME")).Collection(name)
}

// httpError maps a tagged service error to its HTTP response. Untagged
// errors are treated as server errors.
func httpError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrSessionEnded):
		status = fiber.StatusForbidden
	case errors.Is(err, services.ErrUpstream), errors.Is(err, services.ErrPrecondition):
		status = fiber.StatusInternalServerError
	}

	body := fiber.Map{"error": services.Message(err)}
	if errors.Is(err, services.ErrSessionEnded) {
		body["summary"] = services.ClosingSummary
	}
	return c.Status(status).JSON(body)
}

// parseOptionalJSON decodes the request body into dst, treating an empty
// body as an empty object.
func parseOptionalJSON(c *fiber.Ctx, dst any) error {
	if len(bytes.TrimSpace(c.Body())) == 0 {
		return nil
	}
	return c.BodyParser(dst)
}
