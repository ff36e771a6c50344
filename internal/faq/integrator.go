// Package faq promotes expert-approved answers into the knowledge base and
// re-indexes them for retrieval.
package faq

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/greencard-rag/backend/internal/confidence"
	"github.com/greencard-rag/backend/internal/metrics"
	"github.com/greencard-rag/backend/internal/storage/models"
	"github.com/greencard-rag/backend/pkg/logger"
)

var (
	ErrNotFound          = errors.New("flagged question not found")
	ErrNotApproved       = errors.New("question has not been approved by an expert")
	ErrMissingFields     = errors.New("expert answer, sources and credentials are all required")
	ErrAlreadyIntegrated = errors.New("question has already been integrated")
)

const expertCategory = "expert_reviewed"

var officialDomains = []string{
	"uscis.gov", "state.gov", "dhs.gov", "justice.gov", "immigration.gov",
}

type Ledger interface {
	GetByID(id string) (*models.FlaggedQuestion, bool)
	Approved() []models.FlaggedQuestion
	AppendAudit(ctx context.Context, id string, entry models.AuditEntry) error
}

type KnowledgeStore interface {
	InsertKnowledgeEntry(e *models.KnowledgeEntry) error
	GetKnowledgeEntry(id string) (*models.KnowledgeEntry, error)
	CountKnowledgeEntries(category string) (int, error)
}

// Indexer pushes a knowledge entry into the vector index so future queries
// can retrieve it.
type Indexer interface {
	IndexEntry(ctx context.Context, e *models.KnowledgeEntry) error
}

type Integrator struct {
	ledger  Ledger
	store   KnowledgeStore
	indexer Indexer
}

func NewIntegrator(ledger Ledger, store KnowledgeStore, indexer Indexer) *Integrator {
	return &Integrator{ledger: ledger, store: store, indexer: indexer}
}

// EntryID derives the knowledge entry id for a flagged question.
func EntryID(questionID string) string {
	return "expert_" + questionID
}

// Integrate promotes one approved question into the knowledge base. The
// operation is idempotent: a second call for the same question fails with
// ErrAlreadyIntegrated and writes nothing.
func (in *Integrator) Integrate(ctx context.Context, questionID string) (*models.KnowledgeEntry, error) {
	q, ok := in.ledger.GetByID(questionID)
	if !ok {
		return nil, ErrNotFound
	}
	if q.Status != models.StatusApproved {
		return nil, ErrNotApproved
	}
	if q.ExpertAnswer == "" || len(q.ExpertSources) == 0 || q.ExpertCredentials == "" {
		return nil, ErrMissingFields
	}
	if q.Integrated() {
		return nil, ErrAlreadyIntegrated
	}

	entryID := EntryID(questionID)
	if existing, err := in.store.GetKnowledgeEntry(entryID); err != nil {
		return nil, fmt.Errorf("failed to check existing entry: %w", err)
	} else if existing != nil {
		return nil, ErrAlreadyIntegrated
	}

	now := time.Now()
	entry := &models.KnowledgeEntry{
		ID:                entryID,
		Question:          q.Question,
		Answer:            q.ExpertAnswer,
		Language:          q.Language,
		Category:          expertCategory,
		Sources:           append([]string(nil), q.ExpertSources...),
		ExpertCredentials: q.ExpertCredentials,
		ReviewDate:        q.ReviewDate,
		ConfidenceScore:   q.ConfidenceScore,
		FrequencyCount:    q.FrequencyCount,
		AuditTrail:        append([]models.AuditEntry(nil), q.AuditTrail...),
		CreatedAt:         now,
		LastUpdated:       now,
	}

	if err := in.store.InsertKnowledgeEntry(entry); err != nil {
		return nil, fmt.Errorf("failed to persist knowledge entry: %w", err)
	}

	// Index failures do not roll back the entry; it is persisted and can be
	// re-indexed on the next ingestion run.
	if err := in.indexer.IndexEntry(ctx, entry); err != nil {
		logger.Warn("Failed to index knowledge entry",
			zap.String("entry_id", entry.ID),
			zap.Error(err),
		)
	}

	if err := in.ledger.AppendAudit(ctx, questionID, models.AuditEntry{
		Action:    models.ActionIntegratedToFAQ,
		Timestamp: now,
		FAQID:     entry.ID,
	}); err != nil {
		return nil, fmt.Errorf("failed to record integration: %w", err)
	}

	metrics.IntegrationsTotal.Inc()

	logger.Info("Expert answer integrated into knowledge base",
		zap.String("question_id", questionID),
		zap.String("entry_id", entry.ID),
		zap.String("language", entry.Language),
	)

	return entry, nil
}

// PendingIntegrations lists approved questions not yet promoted.
func (in *Integrator) PendingIntegrations() []models.FlaggedQuestion {
	approved := in.ledger.Approved()
	pending := make([]models.FlaggedQuestion, 0, len(approved))
	for _, q := range approved {
		if !q.Integrated() {
			pending = append(pending, q)
		}
	}
	return pending
}

type IntegrationStats struct {
	TotalEntries        int     `json:"total_entries"`
	ExpertReviewed      int     `json:"expert_reviewed"`
	PendingIntegrations int     `json:"pending_integrations"`
	IntegrationRate     float64 `json:"integration_rate"`
}

// Stats summarizes how much of the knowledge base came through expert review
// and how many approved questions still wait for promotion.
func (in *Integrator) Stats() (*IntegrationStats, error) {
	total, err := in.store.CountKnowledgeEntries("")
	if err != nil {
		return nil, fmt.Errorf("failed to count knowledge entries: %w", err)
	}
	expert, err := in.store.CountKnowledgeEntries(expertCategory)
	if err != nil {
		return nil, fmt.Errorf("failed to count expert entries: %w", err)
	}

	stats := &IntegrationStats{
		TotalEntries:        total,
		ExpertReviewed:      expert,
		PendingIntegrations: len(in.PendingIntegrations()),
	}
	if total > 0 {
		stats.IntegrationRate = float64(expert) / float64(total)
	}
	return stats, nil
}

type ValidationResult struct {
	QuestionID  string   `json:"question_id"`
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// Validate runs advisory checks against an expert answer. Errors mark the
// review unfit for integration; warnings never block, the expert decides.
func (in *Integrator) Validate(questionID string) (*ValidationResult, error) {
	q, ok := in.ledger.GetByID(questionID)
	if !ok {
		return nil, ErrNotFound
	}

	result := &ValidationResult{QuestionID: questionID}

	if q.ExpertAnswer == "" {
		result.Errors = append(result.Errors, "missing expert answer")
	}
	if len(q.ExpertSources) == 0 {
		result.Errors = append(result.Errors, "missing expert sources")
	}
	if q.ExpertCredentials == "" {
		result.Warnings = append(result.Warnings, "missing expert credentials")
	}

	if n := len(q.ExpertAnswer); n < 50 {
		result.Warnings = append(result.Warnings, "answer is shorter than 50 characters")
	} else if n > 2000 {
		result.Warnings = append(result.Warnings, "answer is longer than 2000 characters")
	}

	official := false
	for _, source := range q.ExpertSources {
		if isOfficialSource(source) {
			official = true
			break
		}
	}
	if !official {
		result.Warnings = append(result.Warnings, "no source from an official government domain")
		result.Suggestions = append(result.Suggestions, "consider adding official government sources")
	}

	if !confidence.HasDomainTerm(q.ExpertAnswer, q.Language) {
		result.Warnings = append(result.Warnings, "answer contains no immigration terms")
	}

	if q.FrequencyCount < 2 {
		result.Warnings = append(result.Warnings, "question was asked only once")
	}

	result.Valid = len(result.Errors) == 0
	return result, nil
}

func isOfficialSource(source string) bool {
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range officialDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
