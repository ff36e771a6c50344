package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/greencard-rag/backend/internal/storage/models"
)

type memStore struct {
	mu        sync.Mutex
	questions map[string]models.FlaggedQuestion
	records   map[string]models.FrequencyRecord
	failSaves bool
}

func newMemStore() *memStore {
	return &memStore{
		questions: make(map[string]models.FlaggedQuestion),
		records:   make(map[string]models.FrequencyRecord),
	}
}

func (s *memStore) SaveFlaggedQuestion(q *models.FlaggedQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves {
		return errors.New("disk full")
	}
	s.questions[q.ID] = *q
	return nil
}

func (s *memStore) SaveFrequencyRecord(r *models.FrequencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves {
		return errors.New("disk full")
	}
	s.records[r.QuestionHash] = *r
	return nil
}

func (s *memStore) ListFlaggedQuestions() ([]models.FlaggedQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FlaggedQuestion, 0, len(s.questions))
	for _, q := range s.questions {
		out = append(out, q)
	}
	return out, nil
}

func (s *memStore) ListFrequencyRecords() ([]models.FrequencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FrequencyRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func newTestTracker(t *testing.T, threshold float64) (*Tracker, *memStore) {
	t.Helper()
	store := newMemStore()
	tracker, err := NewTracker(store, threshold)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tracker, store
}

func TestIdentityNormalization(t *testing.T) {
	if Identity("What is EB-2?", "en") != Identity("  what is eb-2?  ", "en") {
		t.Error("identity should ignore case and surrounding whitespace")
	}
	if Identity("What is EB-2?", "en") == Identity("What is EB-2?", "zh") {
		t.Error("identity must differ across languages")
	}
	if Identity("What is EB-2?", "en") == Identity("What is EB-3?", "en") {
		t.Error("different questions must have different identities")
	}
}

func TestTrackAboveThresholdIsNoop(t *testing.T) {
	tracker, store := newTestTracker(t, 0.7)

	id, flagged, err := tracker.Track(context.Background(), "What is EB-2?", "en", 0.9)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if flagged || id != "" {
		t.Errorf("Track above threshold returned (%q, %v), want no-op", id, flagged)
	}
	if len(store.questions) != 0 || len(store.records) != 0 {
		t.Error("no-op track must not persist anything")
	}
}

func TestTrackDeduplicatesAndAverages(t *testing.T) {
	tracker, _ := newTestTracker(t, 0.7)
	ctx := context.Background()

	id1, flagged, err := tracker.Track(ctx, "What is EB-2?", "en", 0.5)
	if err != nil || !flagged || id1 == "" {
		t.Fatalf("first track: id=%q flagged=%v err=%v", id1, flagged, err)
	}

	// Same identity despite different casing.
	id2, _, err := tracker.Track(ctx, "what is eb-2?", "en", 0.6)
	if err != nil {
		t.Fatalf("second track: %v", err)
	}
	if id1 != id2 {
		t.Errorf("same identity produced different ids: %q vs %q", id1, id2)
	}

	q, ok := tracker.GetByID(id1)
	if !ok {
		t.Fatal("flagged question not found")
	}
	if q.FrequencyCount != 2 {
		t.Errorf("frequency count = %d, want 2", q.FrequencyCount)
	}
	if q.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", q.Status)
	}

	hash := Identity("What is EB-2?", "en")
	records, _ := tracker.store.ListFrequencyRecords()
	var found *models.FrequencyRecord
	for i := range records {
		if records[i].QuestionHash == hash {
			found = &records[i]
		}
	}
	if found == nil {
		t.Fatal("frequency record not persisted")
	}
	if found.FrequencyCount != 2 {
		t.Errorf("persisted frequency = %d, want 2", found.FrequencyCount)
	}
	if math.Abs(found.AverageConfidence-0.55) > 1e-9 {
		t.Errorf("running average = %f, want 0.55", found.AverageConfidence)
	}
}

func TestAuditTrailOrdering(t *testing.T) {
	tracker, _ := newTestTracker(t, 0.7)
	ctx := context.Background()

	id, _, _ := tracker.Track(ctx, "How long does naturalization take?", "en", 0.3)
	tracker.Track(ctx, "How long does naturalization take?", "en", 0.4)
	tracker.Track(ctx, "How long does naturalization take?", "en", 0.5)

	q, _ := tracker.GetByID(id)
	if len(q.AuditTrail) != 3 {
		t.Fatalf("audit trail length = %d, want 3", len(q.AuditTrail))
	}
	if q.AuditTrail[0].Action != models.ActionFlaggedForReview {
		t.Errorf("first action = %s, want %s", q.AuditTrail[0].Action, models.ActionFlaggedForReview)
	}
	for i := 1; i < len(q.AuditTrail); i++ {
		if q.AuditTrail[i].Action != models.ActionRepeatedQuestion {
			t.Errorf("action[%d] = %s, want %s", i, q.AuditTrail[i].Action, models.ActionRepeatedQuestion)
		}
		if q.AuditTrail[i].Timestamp.Before(q.AuditTrail[i-1].Timestamp) {
			t.Error("audit timestamps must be non-decreasing")
		}
	}
	if q.AuditTrail[2].FrequencyCount != 3 {
		t.Errorf("last audit frequency = %d, want 3", q.AuditTrail[2].FrequencyCount)
	}
}

func TestPendingOrdering(t *testing.T) {
	tracker, _ := newTestTracker(t, 0.7)
	ctx := context.Background()

	track := func(question string, times int) {
		for i := 0; i < times; i++ {
			if _, _, err := tracker.Track(ctx, question, "en", 0.4); err != nil {
				t.Fatalf("Track(%q): %v", question, err)
			}
		}
		time.Sleep(2 * time.Millisecond)
	}

	// A first asked earliest with frequency 3; C before B, both frequency 5.
	track("question A", 3)
	track("question C", 5)
	track("question B", 5)

	pending := tracker.Pending(10)
	if len(pending) != 3 {
		t.Fatalf("pending length = %d, want 3", len(pending))
	}
	if pending[0].Question != "question C" || pending[1].Question != "question B" || pending[2].Question != "question A" {
		t.Errorf("pending order = [%s, %s, %s], want [question C, question B, question A]",
			pending[0].Question, pending[1].Question, pending[2].Question)
	}

	limited := tracker.Pending(2)
	if len(limited) != 2 {
		t.Errorf("Pending(2) returned %d entries", len(limited))
	}
}

func TestGetByIDUnknown(t *testing.T) {
	tracker, _ := newTestTracker(t, 0.7)
	if _, ok := tracker.GetByID("q_missing"); ok {
		t.Error("GetByID on unknown id should report not found")
	}
}

func TestSubmitExpertReview(t *testing.T) {
	tracker, _ := newTestTracker(t, 0.7)
	ctx := context.Background()

	ok, err := tracker.SubmitExpertReview(ctx, "q_missing", "answer", []string{"http://uscis.gov/a"}, "Attorney", "high", "")
	if err != nil {
		t.Fatalf("SubmitExpertReview: %v", err)
	}
	if ok {
		t.Error("review of unknown id should fail")
	}

	id, _, _ := tracker.Track(ctx, "What is EB-2?", "en", 0.5)
	ok, err = tracker.SubmitExpertReview(ctx, id, "EB-2 is an employment-based visa category.", []string{"http://uscis.gov/eb2"}, "Immigration Attorney", "high", "verified")
	if err != nil || !ok {
		t.Fatalf("SubmitExpertReview: ok=%v err=%v", ok, err)
	}

	q, _ := tracker.GetByID(id)
	if q.Status != models.StatusApproved {
		t.Errorf("status = %s, want approved", q.Status)
	}
	if q.ExpertAnswer == "" || len(q.ExpertSources) != 1 || q.ExpertCredentials == "" {
		t.Error("expert fields not set")
	}
	if q.ReviewDate == nil {
		t.Error("review date not set")
	}

	last := q.AuditTrail[len(q.AuditTrail)-1]
	if last.Action != models.ActionExpertReview {
		t.Errorf("last audit action = %s, want %s", last.Action, models.ActionExpertReview)
	}
	if last.ConfidenceLevel != "high" || last.Notes != "verified" {
		t.Error("audit entry missing review details")
	}

	if len(tracker.Pending(10)) != 0 {
		t.Error("approved question must leave the pending queue")
	}
}

func TestTrackConcurrentSameIdentity(t *testing.T) {
	tracker, _ := newTestTracker(t, 0.7)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			tracker.Track(ctx, "Concurrent question?", "en", 0.5)
		}()
	}
	wg.Wait()

	id := QuestionID("Concurrent question?", "en")
	q, ok := tracker.GetByID(id)
	if !ok {
		t.Fatal("question not tracked")
	}
	if q.FrequencyCount != workers {
		t.Errorf("frequency count = %d, want %d (lost increments)", q.FrequencyCount, workers)
	}
	if len(q.AuditTrail) != workers {
		t.Errorf("audit trail length = %d, want %d", len(q.AuditTrail), workers)
	}
}

func TestTrackSurfacesStorageFailure(t *testing.T) {
	store := newMemStore()
	tracker, err := NewTracker(store, 0.7)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	store.failSaves = true

	id, flagged, err := tracker.Track(context.Background(), "What is EB-2?", "en", 0.5)
	if err == nil {
		t.Fatal("Track with failing store must surface an error")
	}
	if !flagged || id == "" {
		t.Error("escalation decision should still be reported alongside the error")
	}
}

func TestTrackerReloadsFromStore(t *testing.T) {
	store := newMemStore()
	tracker, _ := NewTracker(store, 0.7)
	ctx := context.Background()

	id, _, _ := tracker.Track(ctx, "What is EB-2?", "en", 0.5)
	tracker.Track(ctx, "What is EB-2?", "en", 0.6)

	reloaded, err := NewTracker(store, 0.7)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	q, ok := reloaded.GetByID(id)
	if !ok {
		t.Fatal("question lost across reload")
	}
	if q.FrequencyCount != 2 {
		t.Errorf("reloaded frequency = %d, want 2", q.FrequencyCount)
	}
	if len(q.AuditTrail) != 2 {
		t.Errorf("reloaded audit trail length = %d, want 2", len(q.AuditTrail))
	}
}

func TestStats(t *testing.T) {
	tracker, _ := newTestTracker(t, 0.7)
	ctx := context.Background()

	tracker.Track(ctx, "q one", "en", 0.5)
	tracker.Track(ctx, "q one", "en", 0.5)
	id, _, _ := tracker.Track(ctx, "q two", "en", 0.4)
	tracker.SubmitExpertReview(ctx, id, "answer text here", []string{"http://uscis.gov/x"}, "Attorney", "medium", "")

	stats := tracker.Stats()
	if stats.TotalQuestions != 2 {
		t.Errorf("total = %d, want 2", stats.TotalQuestions)
	}
	if stats.PendingQuestions != 1 {
		t.Errorf("pending = %d, want 1", stats.PendingQuestions)
	}
	if stats.ReviewedCount != 1 {
		t.Errorf("reviewed = %d, want 1", stats.ReviewedCount)
	}
	if len(stats.TopFrequent) != 2 || stats.TopFrequent[0].Question != "q one" {
		t.Error("top frequent should rank q one first")
	}
}
