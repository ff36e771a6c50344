// Package validation screens request bodies before they reach handlers:
// size limits, language codes and basic injection patterns.
package validation

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/greencard-rag/backend/pkg/logger"
)

var (
	injectionPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
	languagePattern  = regexp.MustCompile(`^[a-zA-Z]{2}$`)
)

type Config struct {
	MaxQuestionLength int
	MaxAnswerLength   int
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 2000
	}
	if cfg.MaxAnswerLength == 0 {
		cfg.MaxAnswerLength = 10000
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		if contentType := c.Get("Content-Type"); contentType != "" && !strings.Contains(contentType, "application/json") {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		path := c.Path()

		switch {
		case strings.HasSuffix(path, "/query"):
			return validateQuery(c, cfg)
		case strings.HasSuffix(path, "/review"):
			return validateReview(c, cfg)
		case strings.HasSuffix(path, "/documents"):
			return validateDocument(c)
		}

		return c.Next()
	}
}

func validateQuery(c *fiber.Ctx, cfg Config) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	question, ok := req["question"].(string)
	if !ok || strings.TrimSpace(question) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required and must be a string",
		})
	}
	if len(question) > cfg.MaxQuestionLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question exceeds maximum length",
		})
	}
	if injectionPattern.MatchString(question) {
		logger.Warn("Suspicious question content rejected", zap.String("ip", c.IP()))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid question content",
		})
	}

	if language, ok := req["language"].(string); ok && language != "" && !languagePattern.MatchString(language) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Language must be a two-letter code",
		})
	}

	return c.Next()
}

func validateReview(c *fiber.Ctx, cfg Config) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	answer, ok := req["answer"].(string)
	if !ok || strings.TrimSpace(answer) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Answer is required and must be a string",
		})
	}
	if len(answer) > cfg.MaxAnswerLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Answer exceeds maximum length",
		})
	}

	credentials, ok := req["credentials"].(string)
	if !ok || strings.TrimSpace(credentials) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Expert credentials are required",
		})
	}

	return c.Next()
}

func validateDocument(c *fiber.Ctx) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	urlStr, ok := req["url"].(string)
	if !ok || urlStr == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Document URL is required",
		})
	}
	if !isValidURL(urlStr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Document URL must be a valid http or https URL",
		})
	}

	return c.Next()
}

func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
