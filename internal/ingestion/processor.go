// Package ingestion loads FAQ content into the knowledge base: it parses
// question/answer pairs out of HTML pages, embeds the questions and writes
// both stores.
package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/greencard-rag/backend/internal/metrics"
	"github.com/greencard-rag/backend/internal/storage/models"
	"github.com/greencard-rag/backend/internal/vector/milvus"
	"github.com/greencard-rag/backend/pkg/logger"
	"github.com/greencard-rag/backend/pkg/utils"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorIndex interface {
	Insert(ctx context.Context, entries []milvus.FAQEntry) error
	Delete(ctx context.Context, id string) error
}

type KnowledgeStore interface {
	InsertKnowledgeEntry(e *models.KnowledgeEntry) error
}

type Processor struct {
	db        KnowledgeStore
	vectorDB  VectorIndex
	llmClient Embedder
}

func NewProcessor(db KnowledgeStore, vectorDB VectorIndex, llmClient Embedder) *Processor {
	return &Processor{
		db:        db,
		vectorDB:  vectorDB,
		llmClient: llmClient,
	}
}

type FAQPair struct {
	Question string
	Answer   string
}

// ProcessFAQPage extracts question/answer pairs from an HTML page and indexes
// them. Returns the number of pairs ingested.
func (p *Processor) ProcessFAQPage(ctx context.Context, sourceURL, htmlContent, language string) (int, error) {
	logger.Info("Processing FAQ page", zap.String("url", sourceURL), zap.String("language", language))

	pairs := ParseFAQ(htmlContent)
	if len(pairs) == 0 {
		return 0, fmt.Errorf("no question/answer pairs found in page")
	}

	questions := make([]string, len(pairs))
	for i, pair := range pairs {
		questions[i] = pair.Question
	}

	embeddings, err := p.llmClient.GenerateBatchEmbeddings(ctx, questions)
	if err != nil {
		return 0, fmt.Errorf("failed to embed questions: %w", err)
	}
	if len(embeddings) != len(pairs) {
		return 0, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(pairs))
	}

	now := time.Now()
	faqEntries := make([]milvus.FAQEntry, 0, len(pairs))

	for i, pair := range pairs {
		id := "faq_" + utils.HashString(pair.Question+":"+language)[:12]

		entry := &models.KnowledgeEntry{
			ID:          id,
			Question:    pair.Question,
			Answer:      pair.Answer,
			Language:    language,
			Category:    "general",
			Sources:     []string{sourceURL},
			CreatedAt:   now,
			LastUpdated: now,
		}
		if err := p.db.InsertKnowledgeEntry(entry); err != nil {
			logger.Warn("Failed to persist FAQ entry, skipping",
				zap.String("entry_id", id),
				zap.Error(err),
			)
			continue
		}

		faqEntries = append(faqEntries, milvus.FAQEntry{
			ID:        id,
			Question:  pair.Question,
			Answer:    pair.Answer,
			Language:  language,
			Category:  entry.Category,
			Source:    sourceURL,
			Embedding: embeddings[i],
			Timestamp: now,
		})
	}

	if len(faqEntries) > 0 {
		if err := p.vectorDB.Insert(ctx, faqEntries); err != nil {
			return 0, fmt.Errorf("failed to insert into vector DB: %w", err)
		}
	}

	metrics.DocumentsProcessed.Inc()

	logger.Info("FAQ page processed",
		zap.String("url", sourceURL),
		zap.Int("pairs", len(faqEntries)),
	)

	return len(faqEntries), nil
}

// IndexEntry embeds and indexes a single knowledge entry, used when an
// expert answer is promoted after the bulk ingestion ran.
func (p *Processor) IndexEntry(ctx context.Context, e *models.KnowledgeEntry) error {
	embedding, err := p.llmClient.GenerateEmbedding(ctx, e.Question)
	if err != nil {
		return fmt.Errorf("failed to embed question: %w", err)
	}

	source := ""
	if len(e.Sources) > 0 {
		source = e.Sources[0]
	}

	// Drop any stale vector under the same id first, so a re-review replaces
	// the indexed answer instead of duplicating it in search results.
	if err := p.vectorDB.Delete(ctx, e.ID); err != nil {
		logger.Warn("Failed to remove stale vector entry",
			zap.String("entry_id", e.ID),
			zap.Error(err),
		)
	}

	return p.vectorDB.Insert(ctx, []milvus.FAQEntry{{
		ID:        e.ID,
		Question:  e.Question,
		Answer:    e.Answer,
		Language:  e.Language,
		Category:  e.Category,
		Source:    source,
		Embedding: embedding,
		Timestamp: time.Now(),
	}})
}

// ParseFAQ pulls question/answer pairs out of FAQ-style HTML. It tries
// definition lists first, then details/summary blocks, then headings ending
// in a question mark followed by body text.
func ParseFAQ(htmlContent string) []FAQPair {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil
	}

	doc.Find("script, style, nav, footer, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	var pairs []FAQPair

	doc.Find("dl").Each(func(i int, dl *goquery.Selection) {
		dts := dl.Find("dt")
		dds := dl.Find("dd")
		for j := 0; j < dts.Length() && j < dds.Length(); j++ {
			pairs = appendPair(pairs, dts.Eq(j).Text(), dds.Eq(j).Text())
		}
	})

	doc.Find("details").Each(func(i int, details *goquery.Selection) {
		question := details.Find("summary").First().Text()
		answer := details.Clone()
		answer.Find("summary").Remove()
		pairs = appendPair(pairs, question, answer.Text())
	})

	doc.Find("h2, h3, h4").Each(func(i int, heading *goquery.Selection) {
		question := cleanText(heading.Text())
		if !strings.HasSuffix(question, "?") && !strings.HasSuffix(question, "?") {
			return
		}

		var answer strings.Builder
		for sibling := heading.Next(); sibling.Length() > 0; sibling = sibling.Next() {
			if goquery.NodeName(sibling) == "h2" || goquery.NodeName(sibling) == "h3" || goquery.NodeName(sibling) == "h4" {
				break
			}
			answer.WriteString(sibling.Text())
			answer.WriteString(" ")
		}
		pairs = appendPair(pairs, question, answer.String())
	})

	return pairs
}

func appendPair(pairs []FAQPair, question, answer string) []FAQPair {
	question = cleanText(question)
	answer = cleanText(answer)
	if question == "" || answer == "" {
		return pairs
	}
	return append(pairs, FAQPair{Question: question, Answer: answer})
}

func cleanText(text string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}
