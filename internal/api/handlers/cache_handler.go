package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/greencard-rag/backend/internal/cache"
	"github.com/greencard-rag/backend/pkg/logger"
)

type CacheHandler struct {
	cache *cache.ResponseCache
}

func NewCacheHandler(responseCache *cache.ResponseCache) *CacheHandler {
	return &CacheHandler{cache: responseCache}
}

func (h *CacheHandler) GetStats(c *fiber.Ctx) error {
	return c.JSON(h.cache.Stats())
}

// DeleteEntry evicts the cached response for one question, used when an
// expert answer supersedes a generated one.
func (h *CacheHandler) DeleteEntry(c *fiber.Ctx) error {
	question := c.Query("question")
	if question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "question is required",
		})
	}

	if err := h.cache.Delete(c.Context(), question, c.Query("language")); err != nil {
		logger.Error("Failed to delete cache entry", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete cache entry",
		})
	}
	return c.JSON(fiber.Map{
		"status": "deleted",
	})
}

// Clear flushes every cached response, used after bulk knowledge updates.
func (h *CacheHandler) Clear(c *fiber.Ctx) error {
	if err := h.cache.Clear(c.Context()); err != nil {
		logger.Error("Failed to clear response cache", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to clear cache",
		})
	}
	return c.JSON(fiber.Map{
		"status": "cleared",
	})
}
