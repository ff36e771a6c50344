package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/greencard-rag/backend/internal/faq"
	"github.com/greencard-rag/backend/pkg/logger"
)

type FAQHandler struct {
	integrator *faq.Integrator
}

func NewFAQHandler(integrator *faq.Integrator) *FAQHandler {
	return &FAQHandler{integrator: integrator}
}

// ListPendingIntegrations returns approved questions awaiting promotion.
func (h *FAQHandler) ListPendingIntegrations(c *fiber.Ctx) error {
	pending := h.integrator.PendingIntegrations()
	return c.JSON(fiber.Map{
		"questions": pending,
		"count":     len(pending),
	})
}

// GetStats reports how much of the knowledge base is expert-reviewed and how
// many approved questions still await promotion.
func (h *FAQHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.integrator.Stats()
	if err != nil {
		logger.Error("Failed to compute integration stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute integration stats",
		})
	}
	return c.JSON(stats)
}

func (h *FAQHandler) Validate(c *fiber.Ctx) error {
	result, err := h.integrator.Validate(c.Params("id"))
	if err != nil {
		if errors.Is(err, faq.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Question not found",
			})
		}
		logger.Error("Failed to validate question", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to validate question",
		})
	}
	return c.JSON(result)
}

func (h *FAQHandler) Integrate(c *fiber.Ctx) error {
	id := c.Params("id")

	entry, err := h.integrator.Integrate(c.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, faq.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Question not found",
			})
		case errors.Is(err, faq.ErrNotApproved):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Question has not been approved by an expert",
			})
		case errors.Is(err, faq.ErrMissingFields):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "Expert answer, sources and credentials are required",
			})
		case errors.Is(err, faq.ErrAlreadyIntegrated):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Question has already been integrated",
			})
		default:
			logger.Error("Failed to integrate question", zap.String("question_id", id), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to integrate question",
			})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"entry_id":    entry.ID,
		"question_id": id,
		"category":    entry.Category,
	})
}
