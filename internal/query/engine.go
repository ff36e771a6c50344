// Package query runs the retrieval pipeline: cache lookup, language
// resolution, embedding, vector search, generation, confidence scoring and
// escalation of low-confidence answers.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greencard-rag/backend/internal/cache"
	"github.com/greencard-rag/backend/internal/confidence"
	"github.com/greencard-rag/backend/internal/llm"
	"github.com/greencard-rag/backend/internal/metrics"
	"github.com/greencard-rag/backend/internal/vector/milvus"
	"github.com/greencard-rag/backend/pkg/logger"
)

var ErrEmptyQuestion = errors.New("question must not be empty")

type Detector interface {
	Resolve(hint, text string) (string, error)
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	Search(ctx context.Context, embedding []float32, topK int, language string) ([]milvus.SearchResult, error)
}

type Generator interface {
	GenerateAnswer(ctx context.Context, question, contextText, language string) (*llm.CompletionResponse, error)
}

// EscalationTracker records questions whose answers scored below threshold.
type EscalationTracker interface {
	Track(ctx context.Context, question, language string, score float64) (string, bool, error)
}

type Engine struct {
	detector  Detector
	embedder  Embedder
	index     Index
	generator Generator
	scorer    *confidence.Scorer
	tracker   EscalationTracker
	cache     *cache.ResponseCache
	topK      int
	model     string
}

type Request struct {
	Question string `json:"question"`
	Language string `json:"language"`
}

type Response struct {
	ID              string   `json:"id"`
	Question        string   `json:"question"`
	Language        string   `json:"language"`
	Answer          string   `json:"answer"`
	Confidence      float64  `json:"confidence"`
	ConfidenceLevel string   `json:"confidence_level"`
	Sources         []Source `json:"sources"`
	Escalated       bool     `json:"escalated"`
	QuestionID      string   `json:"question_id,omitempty"`
	Cached          bool     `json:"cached"`
	LatencyMS       int      `json:"latency_ms"`
}

type Source struct {
	ID       string  `json:"id"`
	Question string  `json:"question"`
	Category string  `json:"category"`
	Source   string  `json:"source,omitempty"`
	Score    float32 `json:"score"`
}

func NewEngine(
	detector Detector,
	embedder Embedder,
	index Index,
	generator Generator,
	scorer *confidence.Scorer,
	tracker EscalationTracker,
	responseCache *cache.ResponseCache,
	topK int,
	model string,
) *Engine {
	return &Engine{
		detector:  detector,
		embedder:  embedder,
		index:     index,
		generator: generator,
		scorer:    scorer,
		tracker:   tracker,
		cache:     responseCache,
		topK:      topK,
		model:     model,
	}
}

// Process answers one question end to end. Cached responses are returned
// as-is: they are neither re-scored nor re-tracked. Responses that escalate
// are never cached, so repeats keep feeding the ledger.
func (e *Engine) Process(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	language, err := e.detector.Resolve(req.Language, question)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve language: %w", err)
	}

	var cached Response
	found, err := e.cache.Get(ctx, question, language, &cached)
	if err != nil {
		logger.Warn("Cache lookup failed", zap.Error(err))
	}
	if found {
		metrics.CacheHits.WithLabelValues("response").Inc()
		cached.Cached = true
		cached.LatencyMS = int(time.Since(startTime).Milliseconds())
		logger.Debug("Response served from cache", zap.String("question_id", cached.QuestionID))
		return &cached, nil
	}
	metrics.CacheMisses.WithLabelValues("response").Inc()

	embedding, err := e.embedder.GenerateEmbedding(ctx, question)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	results, err := e.index.Search(ctx, embedding, e.topK, language)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to search knowledge base: %w", err)
	}
	metrics.VectorResultsCount.Observe(float64(len(results)))

	resp := &Response{
		ID:       uuid.New().String(),
		Question: question,
		Language: language,
	}

	if len(results) == 0 {
		// Nothing to ground an answer on. Return the fixed fallback and
		// escalate at score zero so the gap shows up in the review queue.
		resp.Answer = notFoundAnswer(language)
		resp.Confidence = 0
		resp.ConfidenceLevel = string(e.scorer.Classify(0))
		e.escalate(ctx, resp, question, language, 0)
		resp.LatencyMS = int(time.Since(startTime).Milliseconds())
		metrics.QueryTotal.WithLabelValues("no_context").Inc()
		metrics.ConfidenceScore.WithLabelValues(language).Observe(0)
		return resp, nil
	}

	contextText := buildContext(results)

	completion, err := e.generator.GenerateAnswer(ctx, question, contextText, language)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	m := e.scorer.Score(question, completion.Content, contextText, language)

	resp.Answer = completion.Content
	resp.Confidence = m.Score
	resp.ConfidenceLevel = string(e.scorer.Classify(m.Score))
	for _, r := range results {
		resp.Sources = append(resp.Sources, Source{
			ID:       r.ID,
			Question: r.Question,
			Category: r.Category,
			Source:   r.Source,
			Score:    r.Score,
		})
	}

	if e.scorer.ShouldEscalate(m.Score) {
		e.escalate(ctx, resp, question, language, m.Score)
	} else if err := e.cache.Set(ctx, question, language, resp); err != nil {
		logger.Warn("Failed to cache response", zap.Error(err))
	}

	resp.LatencyMS = int(time.Since(startTime).Milliseconds())

	metrics.QueryTotal.WithLabelValues("success").Inc()
	metrics.QueryDuration.WithLabelValues(language).Observe(time.Since(startTime).Seconds())
	metrics.ConfidenceScore.WithLabelValues(language).Observe(m.Score)
	metrics.LLMTokensUsed.WithLabelValues(e.model, "prompt").Add(float64(completion.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(e.model, "completion").Add(float64(completion.Usage.CompletionTokens))

	logger.Info("Query processed",
		zap.String("query_id", resp.ID),
		zap.String("language", language),
		zap.Float64("confidence", m.Score),
		zap.Bool("escalated", resp.Escalated),
		zap.Int("latency_ms", resp.LatencyMS),
	)

	return resp, nil
}

// escalate routes the question to the ledger. Tracking failures are logged,
// not surfaced: the user still gets their answer.
func (e *Engine) escalate(ctx context.Context, resp *Response, question, language string, score float64) {
	questionID, flagged, err := e.tracker.Track(ctx, question, language, score)
	if err != nil {
		logger.Error("Failed to track low-confidence question",
			zap.String("question_id", questionID),
			zap.Error(err),
		)
	}
	if flagged {
		resp.Escalated = true
		resp.QuestionID = questionID
		metrics.EscalationsTotal.Inc()
	}
}

func buildContext(results []milvus.SearchResult) string {
	var builder strings.Builder
	for i, r := range results {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(fmt.Sprintf("Q: %s\nA: %s", r.Question, r.Answer))
		if r.Source != "" {
			builder.WriteString(fmt.Sprintf("\nSource: %s", r.Source))
		}
	}
	return builder.String()
}

func notFoundAnswer(language string) string {
	if language == "zh" {
		return "抱歉,我在知识库中没有找到足够可靠的信息来回答这个问题。该问题已记录,将由移民专家审核后补充答案。"
	}
	return "I could not find reliable information in the knowledge base to answer this question. It has been recorded and will be reviewed by an immigration expert."
}
