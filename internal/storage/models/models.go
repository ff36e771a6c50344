package models

import "time"

type ReviewStatus string

const (
	StatusPending  ReviewStatus = "pending"
	StatusInReview ReviewStatus = "in_review"
	StatusApproved ReviewStatus = "approved"
	// StatusRejected is a reachable value with no transition wired to it; the
	// review interface only approves.
	StatusRejected ReviewStatus = "rejected"
)

type ConfidenceLevel string

const (
	LevelHigh   ConfidenceLevel = "high"
	LevelMedium ConfidenceLevel = "medium"
	LevelLow    ConfidenceLevel = "low"
)

// Audit trail action names. These are persisted; renaming them breaks
// integration idempotency checks against existing records.
const (
	ActionFlaggedForReview = "flagged_for_review"
	ActionRepeatedQuestion = "repeated_question"
	ActionExpertReview     = "expert_review"
	ActionIntegratedToFAQ  = "integrated_to_faq"
)

// AuditEntry is one append-only action against a flagged question. Fields
// beyond Action and Timestamp are populated per action.
type AuditEntry struct {
	Action            string    `json:"action"`
	Timestamp         time.Time `json:"timestamp"`
	ConfidenceScore   float64   `json:"confidence_score,omitempty"`
	FrequencyCount    int       `json:"frequency_count,omitempty"`
	ExpertCredentials string    `json:"expert_credentials,omitempty"`
	ConfidenceLevel   string    `json:"confidence_level,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	FAQID             string    `json:"faq_id,omitempty"`
}

// FlaggedQuestion is the escalation entity: one record per question identity,
// created the first time a low-confidence answer is observed and never
// deleted afterwards.
type FlaggedQuestion struct {
	ID                string       `json:"id"`
	Question          string       `json:"question"`
	Language          string       `json:"language"`
	ConfidenceScore   float64      `json:"confidence_score"`
	FrequencyCount    int          `json:"frequency_count"`
	FirstAsked        time.Time    `json:"first_asked"`
	LastAsked         time.Time    `json:"last_asked"`
	Status            ReviewStatus `json:"status"`
	ExpertReviewer    string       `json:"expert_reviewer,omitempty"`
	ExpertAnswer      string       `json:"expert_answer,omitempty"`
	ExpertSources     []string     `json:"expert_sources,omitempty"`
	ExpertCredentials string       `json:"expert_credentials,omitempty"`
	ReviewDate        *time.Time   `json:"review_date,omitempty"`
	AuditTrail        []AuditEntry `json:"audit_trail"`
}

// Integrated reports whether this question has already been promoted into
// the knowledge base.
func (q *FlaggedQuestion) Integrated() bool {
	for _, entry := range q.AuditTrail {
		if entry.Action == ActionIntegratedToFAQ {
			return true
		}
	}
	return false
}

// FrequencyRecord accumulates how often a question identity was seen below
// the confidence threshold. AverageConfidence is maintained incrementally.
type FrequencyRecord struct {
	QuestionHash      string    `json:"question_hash"`
	Question          string    `json:"question"`
	Language          string    `json:"language"`
	FrequencyCount    int       `json:"frequency_count"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
	AverageConfidence float64   `json:"average_confidence"`
}

// KnowledgeEntry is an expert-curated FAQ promoted from an approved flagged
// question. Immutable after creation except for LastUpdated.
type KnowledgeEntry struct {
	ID                string       `json:"id"`
	Question          string       `json:"question"`
	Answer            string       `json:"answer"`
	Language          string       `json:"language"`
	Category          string       `json:"category"`
	Sources           []string     `json:"sources"`
	ExpertCredentials string       `json:"expert_credentials,omitempty"`
	ReviewDate        *time.Time   `json:"review_date,omitempty"`
	ConfidenceScore   float64      `json:"confidence_score,omitempty"`
	FrequencyCount    int          `json:"frequency_count,omitempty"`
	AuditTrail        []AuditEntry `json:"audit_trail,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	LastUpdated       time.Time    `json:"last_updated"`
}

// ConfidenceMetrics is the per-query scoring breakdown. Produced fresh for
// every generation, never mutated.
type ConfidenceMetrics struct {
	Question            string  `json:"question"`
	Language            string  `json:"language"`
	Score               float64 `json:"score"`
	ContextRelevance    float64 `json:"context_relevance"`
	SourceQuality       float64 `json:"source_quality"`
	ResponseLength      int     `json:"response_length"`
	ContainsDomainTerms bool    `json:"contains_domain_terms"`
}
