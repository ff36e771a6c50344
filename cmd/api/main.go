package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/greencard-rag/backend/internal/api/handlers"
	"github.com/greencard-rag/backend/internal/cache"
	"github.com/greencard-rag/backend/internal/confidence"
	"github.com/greencard-rag/backend/internal/faq"
	"github.com/greencard-rag/backend/internal/ingestion"
	"github.com/greencard-rag/backend/internal/language"
	"github.com/greencard-rag/backend/internal/ledger"
	"github.com/greencard-rag/backend/internal/llm"
	"github.com/greencard-rag/backend/internal/metrics"
	"github.com/greencard-rag/backend/internal/middleware/ratelimit"
	"github.com/greencard-rag/backend/internal/middleware/security"
	"github.com/greencard-rag/backend/internal/middleware/validation"
	"github.com/greencard-rag/backend/internal/query"
	"github.com/greencard-rag/backend/internal/storage/sqlite"
	"github.com/greencard-rag/backend/internal/vector/milvus"
	"github.com/greencard-rag/backend/pkg/config"
	appLogger "github.com/greencard-rag/backend/pkg/logger"
)

// feedTracker decorates the ledger so flagged questions are also pushed to
// connected expert websocket clients.
type feedTracker struct {
	tracker *ledger.Tracker
	feed    *handlers.FlaggedFeed
}

func (t *feedTracker) Track(ctx context.Context, question, lang string, score float64) (string, bool, error) {
	id, flagged, err := t.tracker.Track(ctx, question, lang, score)
	if flagged && id != "" {
		event := handlers.FlaggedEvent{
			QuestionID:      id,
			Question:        question,
			Language:        lang,
			ConfidenceScore: score,
			Timestamp:       time.Now(),
		}
		if q, ok := t.tracker.GetByID(id); ok {
			event.FrequencyCount = q.FrequencyCount
		}
		t.feed.Publish(event)
	}
	return id, flagged, err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Green Card RAG API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	if err := milvusClient.CreateCollection(context.Background()); err != nil {
		appLogger.Fatal("Failed to create collection", zap.Error(err))
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	cacheTTL := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	if !cfg.Cache.Enabled {
		cacheTTL = 0
	}
	responseCache := cache.NewResponseCache(cache.NewStore(cfg.Redis), cacheTTL)
	defer responseCache.Close()

	tracker, err := ledger.NewTracker(sqliteClient, cfg.Confidence.Threshold)
	if err != nil {
		appLogger.Fatal("Failed to load question ledger", zap.Error(err))
	}

	detector := language.NewDetector(cfg.Language)
	scorer := confidence.NewScorer(cfg.Confidence)
	processor := ingestion.NewProcessor(sqliteClient, milvusClient, llmClient)
	integrator := faq.NewIntegrator(tracker, sqliteClient, processor)

	feed := handlers.NewFlaggedFeed()

	engine := query.NewEngine(
		detector,
		llmClient,
		milvusClient,
		llmClient,
		scorer,
		&feedTracker{tracker: tracker, feed: feed},
		responseCache,
		cfg.Milvus.TopK,
		cfg.LLM.Model,
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(validation.Middleware(validation.Config{}))

	var limiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		})
		defer limiter.Stop()
		app.Use(limiter.Middleware())
	}

	queryHandler := handlers.NewQueryHandler(engine)
	expertHandler := handlers.NewExpertHandler(tracker)
	faqHandler := handlers.NewFAQHandler(integrator)
	cacheHandler := handlers.NewCacheHandler(responseCache)
	documentHandler := handlers.NewDocumentHandler(processor)

	api := app.Group("/api/v1")

	api.Post("/query", queryHandler.HandleQuery)

	api.Get("/expert/pending", expertHandler.ListPending)
	api.Get("/expert/questions/:id", expertHandler.GetQuestion)
	api.Get("/expert/stats", expertHandler.GetStats)
	api.Post("/expert/questions/:id/review", expertHandler.SubmitReview)

	api.Get("/faq/pending-integrations", faqHandler.ListPendingIntegrations)
	api.Get("/faq/stats", faqHandler.GetStats)
	api.Get("/faq/validate/:id", faqHandler.Validate)
	api.Post("/faq/integrate/:id", faqHandler.Integrate)

	api.Get("/cache/stats", cacheHandler.GetStats)
	api.Delete("/cache/entry", cacheHandler.DeleteEntry)
	api.Post("/cache/clear", cacheHandler.Clear)

	api.Post("/documents", documentHandler.IngestFAQPage)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/expert", websocket.New(feed.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Shutdown error", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
