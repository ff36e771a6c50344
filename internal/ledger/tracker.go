// Package ledger deduplicates low-confidence questions, tracks how often
// each identity recurs, and drives the expert review queue.
package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/greencard-rag/backend/internal/storage/models"
	"github.com/greencard-rag/backend/pkg/logger"
	"github.com/greencard-rag/backend/pkg/retry"
	"github.com/greencard-rag/backend/pkg/utils"
)

const shardCount = 32

// Store is the persistence backend. Writes are write-through: the tracker
// owns the authoritative in-memory state and pushes every mutation down.
type Store interface {
	SaveFlaggedQuestion(q *models.FlaggedQuestion) error
	SaveFrequencyRecord(r *models.FrequencyRecord) error
	ListFlaggedQuestions() ([]models.FlaggedQuestion, error)
	ListFrequencyRecords() ([]models.FrequencyRecord, error)
}

// Tracker is the question ledger. Mutations for one question identity are
// serialized through a sharded mutex keyed by question id; distinct
// identities never contend on the same shard lock by design intent (they may
// share a shard, never the whole ledger).
type Tracker struct {
	store     Store
	threshold float64
	retryCfg  retry.Config

	shards [shardCount]sync.Mutex

	mu        sync.RWMutex
	questions map[string]*models.FlaggedQuestion
	frequency map[string]*models.FrequencyRecord
}

func NewTracker(store Store, threshold float64) (*Tracker, error) {
	t := &Tracker{
		store:     store,
		threshold: threshold,
		retryCfg: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			Logger:       logger.GetLogger(),
		},
		questions: make(map[string]*models.FlaggedQuestion),
		frequency: make(map[string]*models.FrequencyRecord),
	}

	questions, err := store.ListFlaggedQuestions()
	if err != nil {
		return nil, fmt.Errorf("failed to load flagged questions: %w", err)
	}
	for i := range questions {
		q := questions[i]
		t.questions[q.ID] = &q
	}

	records, err := store.ListFrequencyRecords()
	if err != nil {
		return nil, fmt.Errorf("failed to load frequency records: %w", err)
	}
	for i := range records {
		r := records[i]
		t.frequency[r.QuestionHash] = &r
	}

	logger.Info("Question ledger loaded",
		zap.Int("questions", len(t.questions)),
		zap.Int("frequency_records", len(t.frequency)),
	)

	return t, nil
}

// Identity returns the stable deduplication hash for a question in a given
// language. Case and surrounding whitespace do not affect it.
func Identity(question, language string) string {
	return utils.QuestionIdentity(question, language)
}

// QuestionID derives the flagged-question id from the identity hash.
func QuestionID(question, language string) string {
	return "q_" + Identity(question, language)[:12]
}

// Track records a low-confidence observation. Above-threshold scores are a
// no-op. Track performs its own bounded persistence retries; callers must
// not re-invoke it on error or the frequency count would double.
func (t *Tracker) Track(ctx context.Context, question, language string, score float64) (string, bool, error) {
	if score >= t.threshold {
		return "", false, nil
	}

	hash := Identity(question, language)
	id := "q_" + hash[:12]

	shard := &t.shards[shardIndex(id)]
	shard.Lock()
	defer shard.Unlock()

	now := time.Now()

	t.mu.Lock()
	freq, ok := t.frequency[hash]
	if ok {
		freq.FrequencyCount++
		freq.LastSeen = now
		n := float64(freq.FrequencyCount)
		freq.AverageConfidence = (freq.AverageConfidence*(n-1) + score) / n
	} else {
		freq = &models.FrequencyRecord{
			QuestionHash:      hash,
			Question:          question,
			Language:          language,
			FrequencyCount:    1,
			FirstSeen:         now,
			LastSeen:          now,
			AverageConfidence: score,
		}
		t.frequency[hash] = freq
	}

	q, exists := t.questions[id]
	if exists {
		q.FrequencyCount++
		q.ConfidenceScore = score
		q.LastAsked = now
		q.AuditTrail = append(q.AuditTrail, models.AuditEntry{
			Action:          models.ActionRepeatedQuestion,
			Timestamp:       now,
			ConfidenceScore: score,
			FrequencyCount:  q.FrequencyCount,
		})
	} else {
		q = &models.FlaggedQuestion{
			ID:              id,
			Question:        question,
			Language:        language,
			ConfidenceScore: score,
			FrequencyCount:  1,
			FirstAsked:      now,
			LastAsked:       now,
			Status:          models.StatusPending,
			AuditTrail: []models.AuditEntry{{
				Action:          models.ActionFlaggedForReview,
				Timestamp:       now,
				ConfidenceScore: score,
				FrequencyCount:  1,
			}},
		}
		t.questions[id] = q
	}
	freqCopy := *freq
	qCopy := copyQuestion(q)
	t.mu.Unlock()

	if err := t.persist(ctx, qCopy, &freqCopy); err != nil {
		return id, true, fmt.Errorf("failed to persist escalation for %s: %w", id, err)
	}

	if exists {
		logger.Info("Low-confidence question repeated",
			zap.String("question_id", id),
			zap.Int("frequency", qCopy.FrequencyCount),
			zap.Float64("score", score),
		)
	} else {
		logger.Info("Question flagged for expert review",
			zap.String("question_id", id),
			zap.String("language", language),
			zap.Float64("score", score),
		)
	}

	return id, true, nil
}

// Pending returns up to limit questions awaiting review, most-asked first,
// ties broken by earliest first-asked time.
func (t *Tracker) Pending(limit int) []models.FlaggedQuestion {
	t.mu.RLock()
	pending := make([]models.FlaggedQuestion, 0)
	for _, q := range t.questions {
		if q.Status == models.StatusPending {
			pending = append(pending, *copyQuestion(q))
		}
	}
	t.mu.RUnlock()

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].FrequencyCount != pending[j].FrequencyCount {
			return pending[i].FrequencyCount > pending[j].FrequencyCount
		}
		if !pending[i].FirstAsked.Equal(pending[j].FirstAsked) {
			return pending[i].FirstAsked.Before(pending[j].FirstAsked)
		}
		return pending[i].ID < pending[j].ID
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending
}

func (t *Tracker) GetByID(id string) (*models.FlaggedQuestion, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	q, ok := t.questions[id]
	if !ok {
		return nil, false
	}
	return copyQuestion(q), true
}

// SubmitExpertReview attaches an expert answer to a pending question and
// approves it. Returns false when the id is unknown. Field validation is the
// caller's job; the ledger only checks existence.
func (t *Tracker) SubmitExpertReview(ctx context.Context, id, answer string, sources []string, credentials, confidenceLevel, notes string) (bool, error) {
	shard := &t.shards[shardIndex(id)]
	shard.Lock()
	defer shard.Unlock()

	now := time.Now()

	t.mu.Lock()
	q, ok := t.questions[id]
	if !ok {
		t.mu.Unlock()
		return false, nil
	}

	q.ExpertAnswer = answer
	q.ExpertSources = append([]string(nil), sources...)
	q.ExpertCredentials = credentials
	q.ReviewDate = &now
	q.Status = models.StatusApproved
	q.AuditTrail = append(q.AuditTrail, models.AuditEntry{
		Action:            models.ActionExpertReview,
		Timestamp:         now,
		ExpertCredentials: credentials,
		ConfidenceLevel:   confidenceLevel,
		Notes:             notes,
	})
	qCopy := copyQuestion(q)
	t.mu.Unlock()

	if err := t.persist(ctx, qCopy, nil); err != nil {
		return true, fmt.Errorf("failed to persist expert review for %s: %w", id, err)
	}

	logger.Info("Expert review recorded",
		zap.String("question_id", id),
		zap.String("credentials", credentials),
	)

	return true, nil
}

// AppendAudit adds an entry to a question's audit trail under its identity
// lock, keeping per-identity audit ordering intact.
func (t *Tracker) AppendAudit(ctx context.Context, id string, entry models.AuditEntry) error {
	shard := &t.shards[shardIndex(id)]
	shard.Lock()
	defer shard.Unlock()

	t.mu.Lock()
	q, ok := t.questions[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown question id %s", id)
	}
	q.AuditTrail = append(q.AuditTrail, entry)
	qCopy := copyQuestion(q)
	t.mu.Unlock()

	return t.persist(ctx, qCopy, nil)
}

// Approved returns every approved question, for integration scans.
func (t *Tracker) Approved() []models.FlaggedQuestion {
	t.mu.RLock()
	defer t.mu.RUnlock()

	approved := make([]models.FlaggedQuestion, 0)
	for _, q := range t.questions {
		if q.Status == models.StatusApproved {
			approved = append(approved, *copyQuestion(q))
		}
	}
	return approved
}

type Stats struct {
	TotalQuestions   int             `json:"total_questions"`
	PendingQuestions int             `json:"pending_questions"`
	ReviewedCount    int             `json:"reviewed_questions"`
	TopFrequent      []FrequentEntry `json:"top_frequent_questions"`
}

type FrequentEntry struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Frequency int    `json:"frequency"`
	Status    string `json:"status"`
}

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	all := make([]*models.FlaggedQuestion, 0, len(t.questions))
	for _, q := range t.questions {
		all = append(all, q)
	}

	stats := Stats{TotalQuestions: len(all)}
	for _, q := range all {
		switch q.Status {
		case models.StatusPending:
			stats.PendingQuestions++
		case models.StatusApproved:
			stats.ReviewedCount++
		}
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].FrequencyCount > all[j].FrequencyCount
	})
	for i := 0; i < len(all) && i < 5; i++ {
		question := all[i].Question
		if len(question) > 100 {
			question = question[:100] + "..."
		}
		stats.TopFrequent = append(stats.TopFrequent, FrequentEntry{
			ID:        all[i].ID,
			Question:  question,
			Frequency: all[i].FrequencyCount,
			Status:    string(all[i].Status),
		})
	}
	t.mu.RUnlock()

	return stats
}

func (t *Tracker) persist(ctx context.Context, q *models.FlaggedQuestion, freq *models.FrequencyRecord) error {
	return retry.Do(ctx, t.retryCfg, func() error {
		if freq != nil {
			if err := t.store.SaveFrequencyRecord(freq); err != nil {
				return err
			}
		}
		return t.store.SaveFlaggedQuestion(q)
	})
}

func copyQuestion(q *models.FlaggedQuestion) *models.FlaggedQuestion {
	c := *q
	c.ExpertSources = append([]string(nil), q.ExpertSources...)
	c.AuditTrail = append([]models.AuditEntry(nil), q.AuditTrail...)
	if q.ReviewDate != nil {
		d := *q.ReviewDate
		c.ReviewDate = &d
	}
	return &c
}

func shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
