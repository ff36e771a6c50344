package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/greencard-rag/backend/internal/ledger"
	"github.com/greencard-rag/backend/internal/metrics"
	"github.com/greencard-rag/backend/pkg/logger"
)

const defaultPendingLimit = 20

type ExpertHandler struct {
	tracker *ledger.Tracker
}

func NewExpertHandler(tracker *ledger.Tracker) *ExpertHandler {
	return &ExpertHandler{tracker: tracker}
}

// ListPending returns the review queue, most-asked questions first.
func (h *ExpertHandler) ListPending(c *fiber.Ctx) error {
	limit := defaultPendingLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsed
	}

	pending := h.tracker.Pending(limit)
	return c.JSON(fiber.Map{
		"questions": pending,
		"count":     len(pending),
	})
}

func (h *ExpertHandler) GetQuestion(c *fiber.Ctx) error {
	id := c.Params("id")

	q, ok := h.tracker.GetByID(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Question not found",
		})
	}
	return c.JSON(q)
}

func (h *ExpertHandler) GetStats(c *fiber.Ctx) error {
	return c.JSON(h.tracker.Stats())
}

type reviewRequest struct {
	Answer          string   `json:"answer"`
	Sources         []string `json:"sources"`
	Credentials     string   `json:"credentials"`
	ConfidenceLevel string   `json:"confidence_level"`
	Notes           string   `json:"notes"`
}

// SubmitReview records an expert answer for a flagged question and moves it
// to approved.
func (h *ExpertHandler) SubmitReview(c *fiber.Ctx) error {
	id := c.Params("id")

	var req reviewRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if strings.TrimSpace(req.Answer) == "" || strings.TrimSpace(req.Credentials) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Answer and credentials are required",
		})
	}
	if len(req.Sources) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one source is required",
		})
	}

	level := strings.ToLower(req.ConfidenceLevel)
	switch level {
	case "":
		level = "medium"
	case "high", "medium", "low":
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "confidence_level must be high, medium or low",
		})
	}

	ok, err := h.tracker.SubmitExpertReview(c.Context(), id, req.Answer, req.Sources, req.Credentials, level, req.Notes)
	if err != nil {
		logger.Error("Failed to submit expert review", zap.String("question_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to submit review",
		})
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Question not found",
		})
	}

	metrics.ExpertReviewsTotal.Inc()

	return c.JSON(fiber.Map{
		"question_id": id,
		"status":      "approved",
	})
}
