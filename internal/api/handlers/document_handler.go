package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/greencard-rag/backend/internal/ingestion"
	"github.com/greencard-rag/backend/pkg/logger"
)

const maxFetchBytes = 10 << 20

type DocumentHandler struct {
	processor  *ingestion.Processor
	httpClient *http.Client
}

func NewDocumentHandler(processor *ingestion.Processor) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type ingestRequest struct {
	URL      string `json:"url"`
	HTML     string `json:"html"`
	Language string `json:"language"`
}

// IngestFAQPage loads an FAQ page into the knowledge base. The caller may
// inline the HTML; otherwise it is fetched from the URL.
func (h *DocumentHandler) IngestFAQPage(c *fiber.Ctx) error {
	var req ingestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Document URL is required",
		})
	}
	if req.Language == "" {
		req.Language = "en"
	}

	htmlContent := req.HTML
	if htmlContent == "" {
		fetched, err := h.fetch(req.URL)
		if err != nil {
			logger.Error("Failed to fetch document", zap.String("url", req.URL), zap.Error(err))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Failed to fetch document",
			})
		}
		htmlContent = fetched
	}

	count, err := h.processor.ProcessFAQPage(c.Context(), req.URL, htmlContent, req.Language)
	if err != nil {
		logger.Error("Failed to process FAQ page", zap.String("url", req.URL), zap.Error(err))
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Failed to extract FAQ content from document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"url":            req.URL,
		"language":       req.Language,
		"pairs_ingested": count,
	})
}

func (h *DocumentHandler) fetch(url string) (string, error) {
	resp, err := h.httpClient.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fiber.NewError(fiber.StatusBadGateway, "unexpected status "+resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
