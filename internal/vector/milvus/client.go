// Package milvus holds the FAQ vector index. Each entry is one
// question/answer pair with its question embedding.
package milvus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/greencard-rag/backend/pkg/circuitbreaker"
	"github.com/greencard-rag/backend/pkg/logger"
	"github.com/greencard-rag/backend/pkg/retry"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// FAQEntry is one indexed question/answer pair. The embedding is computed
// from the question text.
type FAQEntry struct {
	ID        string
	Question  string
	Answer    string
	Language  string
	Category  string
	Source    string
	Embedding []float32
	Timestamp time.Time
}

type SearchResult struct {
	ID       string
	Question string
	Answer   string
	Language string
	Category string
	Source   string
	Score    float32
}

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	cb := circuitbreaker.New("milvus", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		cb:             cb,
		retryConfig:    retryConfig,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) CreateCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Green card FAQ embeddings",
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "question",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "2048",
				},
			},
			{
				Name:     "answer",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8192",
				},
			},
			{
				Name:     "language",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8",
				},
			},
			{
				Name:     "category",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "source",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "timestamp",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, _ := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, entries []FAQEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ids := make([]string, len(entries))
	embeddings := make([][]float32, len(entries))
	questions := make([]string, len(entries))
	answers := make([]string, len(entries))
	languages := make([]string, len(entries))
	categories := make([]string, len(entries))
	sources := make([]string, len(entries))
	timestamps := make([]int64, len(entries))

	for i, e := range entries {
		ids[i] = e.ID
		embeddings[i] = e.Embedding
		questions[i] = e.Question
		answers[i] = e.Answer
		languages[i] = e.Language
		categories[i] = e.Category
		sources[i] = e.Source
		timestamps[i] = e.Timestamp.Unix()
	}

	err := m.cb.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			_, err := m.client.Insert(
				ctx,
				m.collectionName,
				"",
				entity.NewColumnVarChar("id", ids),
				entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
				entity.NewColumnVarChar("question", questions),
				entity.NewColumnVarChar("answer", answers),
				entity.NewColumnVarChar("language", languages),
				entity.NewColumnVarChar("category", categories),
				entity.NewColumnVarChar("source", sources),
				entity.NewColumnInt64("timestamp", timestamps),
			)
			if err != nil {
				return fmt.Errorf("failed to insert entries: %w", err)
			}
			return m.client.Flush(ctx, m.collectionName, false)
		})
	})
	if err != nil {
		return err
	}

	logger.Info("FAQ entries inserted into vector DB", zap.Int("count", len(entries)))

	return nil
}

// Search returns the topK nearest FAQ entries, restricted to one language so
// answers are never cross-lingual.
func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, language string) ([]SearchResult, error) {
	expr := ""
	if language != "" {
		expr = fmt.Sprintf(`language == "%s"`, strings.ReplaceAll(language, `"`, ""))
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	var results []SearchResult

	err := m.cb.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			searchResult, err := m.client.Search(
				ctx,
				m.collectionName,
				[]string{},
				expr,
				[]string{"id", "question", "answer", "language", "category", "source"},
				[]entity.Vector{entity.FloatVector(queryEmbedding)},
				"embedding",
				entity.L2,
				topK,
				sp,
			)
			if err != nil {
				return fmt.Errorf("failed to search: %w", err)
			}

			results = results[:0]
			for _, sr := range searchResult {
				for i := 0; i < sr.ResultCount; i++ {
					id, _ := sr.Fields.GetColumn("id").Get(i)
					question, _ := sr.Fields.GetColumn("question").Get(i)
					answer, _ := sr.Fields.GetColumn("answer").Get(i)
					lang, _ := sr.Fields.GetColumn("language").Get(i)
					category, _ := sr.Fields.GetColumn("category").Get(i)
					source, _ := sr.Fields.GetColumn("source").Get(i)

					results = append(results, SearchResult{
						ID:       id.(string),
						Question: question.(string),
						Answer:   answer.(string),
						Language: lang.(string),
						Category: category.(string),
						Source:   source.(string),
						Score:    sr.Scores[i],
					})
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("language", language),
	)

	return results, nil
}

// Delete removes an entry by primary key, used when re-indexing an updated
// knowledge entry.
func (m *Client) Delete(ctx context.Context, id string) error {
	expr := fmt.Sprintf(`id == "%s"`, strings.ReplaceAll(id, `"`, ""))
	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}
