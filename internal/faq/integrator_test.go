package faq

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/greencard-rag/backend/internal/storage/models"
)

type fakeLedger struct {
	questions map[string]*models.FlaggedQuestion
	audits    map[string][]models.AuditEntry
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		questions: make(map[string]*models.FlaggedQuestion),
		audits:    make(map[string][]models.AuditEntry),
	}
}

func (l *fakeLedger) GetByID(id string) (*models.FlaggedQuestion, bool) {
	q, ok := l.questions[id]
	if !ok {
		return nil, false
	}
	c := *q
	c.AuditTrail = append([]models.AuditEntry(nil), q.AuditTrail...)
	return &c, true
}

func (l *fakeLedger) Approved() []models.FlaggedQuestion {
	var out []models.FlaggedQuestion
	for _, q := range l.questions {
		if q.Status == models.StatusApproved {
			out = append(out, *q)
		}
	}
	return out
}

func (l *fakeLedger) AppendAudit(ctx context.Context, id string, entry models.AuditEntry) error {
	q, ok := l.questions[id]
	if !ok {
		return errors.New("unknown question")
	}
	q.AuditTrail = append(q.AuditTrail, entry)
	l.audits[id] = append(l.audits[id], entry)
	return nil
}

type fakeStore struct {
	entries   map[string]*models.KnowledgeEntry
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*models.KnowledgeEntry)}
}

func (s *fakeStore) InsertKnowledgeEntry(e *models.KnowledgeEntry) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.entries[e.ID] = e
	return nil
}

func (s *fakeStore) GetKnowledgeEntry(id string) (*models.KnowledgeEntry, error) {
	return s.entries[id], nil
}

func (s *fakeStore) CountKnowledgeEntries(category string) (int, error) {
	if category == "" {
		return len(s.entries), nil
	}
	n := 0
	for _, e := range s.entries {
		if e.Category == category {
			n++
		}
	}
	return n, nil
}

type fakeIndexer struct {
	indexed []string
	err     error
}

func (i *fakeIndexer) IndexEntry(ctx context.Context, e *models.KnowledgeEntry) error {
	if i.err != nil {
		return i.err
	}
	i.indexed = append(i.indexed, e.ID)
	return nil
}

func approvedQuestion(id string) *models.FlaggedQuestion {
	reviewDate := time.Now()
	return &models.FlaggedQuestion{
		ID:                id,
		Question:          "What is the EB-2 priority date?",
		Language:          "en",
		ConfidenceScore:   0.45,
		FrequencyCount:    3,
		Status:            models.StatusApproved,
		ExpertAnswer:      "The priority date is the date USCIS receives the labor certification or petition. Check the visa bulletin monthly.",
		ExpertSources:     []string{"https://www.uscis.gov/green-card/green-card-processes-and-procedures/visa-availability-priority-dates"},
		ExpertCredentials: "Immigration Attorney, NY Bar",
		ReviewDate:        &reviewDate,
		AuditTrail: []models.AuditEntry{
			{Action: models.ActionFlaggedForReview, Timestamp: time.Now()},
			{Action: models.ActionExpertReview, Timestamp: time.Now()},
		},
	}
}

func TestIntegrate(t *testing.T) {
	ledger := newFakeLedger()
	store := newFakeStore()
	indexer := &fakeIndexer{}
	ledger.questions["q_abc"] = approvedQuestion("q_abc")

	in := NewIntegrator(ledger, store, indexer)

	entry, err := in.Integrate(context.Background(), "q_abc")
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}

	if entry.ID != "expert_q_abc" {
		t.Errorf("entry id = %s, want expert_q_abc", entry.ID)
	}
	if entry.Category != "expert_reviewed" {
		t.Errorf("category = %s, want expert_reviewed", entry.Category)
	}
	if entry.Answer == "" || entry.ExpertCredentials == "" {
		t.Error("expert fields must carry over")
	}
	if entry.FrequencyCount != 3 {
		t.Errorf("frequency count = %d, want 3", entry.FrequencyCount)
	}
	if len(entry.AuditTrail) != 2 {
		t.Errorf("audit trail length = %d, want provenance copy of 2", len(entry.AuditTrail))
	}

	if _, ok := store.entries["expert_q_abc"]; !ok {
		t.Error("entry not persisted")
	}
	if len(indexer.indexed) != 1 || indexer.indexed[0] != "expert_q_abc" {
		t.Errorf("indexed = %v, want [expert_q_abc]", indexer.indexed)
	}

	audits := ledger.audits["q_abc"]
	if len(audits) != 1 || audits[0].Action != models.ActionIntegratedToFAQ {
		t.Fatalf("audits = %+v, want one integrated_to_faq entry", audits)
	}
	if audits[0].FAQID != "expert_q_abc" {
		t.Errorf("audit faq id = %s", audits[0].FAQID)
	}
}

func TestIntegrateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(q *models.FlaggedQuestion)
		want   error
	}{
		{"not approved", func(q *models.FlaggedQuestion) { q.Status = models.StatusPending }, ErrNotApproved},
		{"rejected", func(q *models.FlaggedQuestion) { q.Status = models.StatusRejected }, ErrNotApproved},
		{"missing answer", func(q *models.FlaggedQuestion) { q.ExpertAnswer = "" }, ErrMissingFields},
		{"missing sources", func(q *models.FlaggedQuestion) { q.ExpertSources = nil }, ErrMissingFields},
		{"missing credentials", func(q *models.FlaggedQuestion) { q.ExpertCredentials = "" }, ErrMissingFields},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger()
			q := approvedQuestion("q_abc")
			tt.mutate(q)
			ledger.questions["q_abc"] = q

			in := NewIntegrator(ledger, newFakeStore(), &fakeIndexer{})
			if _, err := in.Integrate(context.Background(), "q_abc"); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("unknown id", func(t *testing.T) {
		in := NewIntegrator(newFakeLedger(), newFakeStore(), &fakeIndexer{})
		if _, err := in.Integrate(context.Background(), "q_missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestIntegrateIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	store := newFakeStore()
	ledger.questions["q_abc"] = approvedQuestion("q_abc")

	in := NewIntegrator(ledger, store, &fakeIndexer{})
	ctx := context.Background()

	if _, err := in.Integrate(ctx, "q_abc"); err != nil {
		t.Fatalf("first Integrate: %v", err)
	}
	if _, err := in.Integrate(ctx, "q_abc"); !errors.Is(err, ErrAlreadyIntegrated) {
		t.Errorf("second Integrate error = %v, want ErrAlreadyIntegrated", err)
	}
	if len(store.entries) != 1 {
		t.Errorf("entries = %d, want 1", len(store.entries))
	}
	if len(ledger.audits["q_abc"]) != 1 {
		t.Errorf("audit appended %d times, want 1", len(ledger.audits["q_abc"]))
	}
}

func TestIntegrateToleratesIndexFailure(t *testing.T) {
	ledger := newFakeLedger()
	store := newFakeStore()
	indexer := &fakeIndexer{err: errors.New("milvus down")}
	ledger.questions["q_abc"] = approvedQuestion("q_abc")

	in := NewIntegrator(ledger, store, indexer)

	entry, err := in.Integrate(context.Background(), "q_abc")
	if err != nil {
		t.Fatalf("index failure must not fail integration: %v", err)
	}
	if _, ok := store.entries[entry.ID]; !ok {
		t.Error("entry must still be persisted")
	}
}

func TestPendingIntegrations(t *testing.T) {
	ledger := newFakeLedger()
	store := newFakeStore()
	ledger.questions["q_a"] = approvedQuestion("q_a")
	ledger.questions["q_b"] = approvedQuestion("q_b")

	pending := &models.FlaggedQuestion{ID: "q_c", Status: models.StatusPending}
	ledger.questions["q_c"] = pending

	in := NewIntegrator(ledger, store, &fakeIndexer{})

	if got := in.PendingIntegrations(); len(got) != 2 {
		t.Errorf("pending integrations = %d, want 2", len(got))
	}

	if _, err := in.Integrate(context.Background(), "q_a"); err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	got := in.PendingIntegrations()
	if len(got) != 1 || got[0].ID != "q_b" {
		t.Errorf("pending after integrate = %+v, want just q_b", got)
	}
}

func TestValidate(t *testing.T) {
	ledger := newFakeLedger()
	in := NewIntegrator(ledger, newFakeStore(), &fakeIndexer{})

	if _, err := in.Validate("q_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	t.Run("clean", func(t *testing.T) {
		ledger.questions["q_ok"] = approvedQuestion("q_ok")
		result, err := in.Validate("q_ok")
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if !result.Valid || len(result.Errors) != 0 || len(result.Warnings) != 0 {
			t.Errorf("result = %+v, want valid with no errors or warnings", result)
		}
	})

	t.Run("missing fields are errors", func(t *testing.T) {
		q := approvedQuestion("q_bad")
		q.ExpertAnswer = ""
		q.ExpertSources = nil
		ledger.questions["q_bad"] = q

		result, err := in.Validate("q_bad")
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if result.Valid {
			t.Error("missing answer and sources must invalidate")
		}
		if len(result.Errors) != 2 {
			t.Errorf("errors = %v, want missing answer and missing sources", result.Errors)
		}
	})

	t.Run("warnings stay advisory", func(t *testing.T) {
		q := approvedQuestion("q_warn")
		q.ExpertAnswer = "Too short."
		q.ExpertSources = []string{"https://some-blog.example.com/immigration-tips"}
		q.ExpertCredentials = ""
		q.FrequencyCount = 1
		ledger.questions["q_warn"] = q

		result, err := in.Validate("q_warn")
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if !result.Valid {
			t.Error("warnings alone must not invalidate")
		}
		// missing credentials, short answer, unofficial source, no
		// immigration terms, asked only once
		if len(result.Warnings) != 5 {
			t.Errorf("warnings = %v, want 5", result.Warnings)
		}
		if len(result.Suggestions) != 1 {
			t.Errorf("suggestions = %v, want official-source suggestion", result.Suggestions)
		}
	})

	t.Run("off-topic answer warns", func(t *testing.T) {
		q := approvedQuestion("q_topic")
		q.ExpertAnswer = strings.Repeat("The weather in Boston is generally pleasant in spring. ", 3)
		ledger.questions["q_topic"] = q

		result, _ := in.Validate("q_topic")
		if !containsWarning(result.Warnings, "immigration terms") {
			t.Errorf("warnings = %v, want a no-immigration-terms warning", result.Warnings)
		}
	})

	t.Run("long answer", func(t *testing.T) {
		q := approvedQuestion("q_long")
		q.ExpertAnswer = strings.Repeat("a", 2001)
		ledger.questions["q_long"] = q

		result, _ := in.Validate("q_long")
		if !containsWarning(result.Warnings, "longer than 2000") {
			t.Errorf("warnings = %v, want an overlong-answer warning", result.Warnings)
		}
	})
}

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestIntegrationStats(t *testing.T) {
	ledger := newFakeLedger()
	store := newFakeStore()
	store.entries["faq_general1"] = &models.KnowledgeEntry{ID: "faq_general1", Category: "general"}
	store.entries["faq_general2"] = &models.KnowledgeEntry{ID: "faq_general2", Category: "general"}
	store.entries["faq_general3"] = &models.KnowledgeEntry{ID: "faq_general3", Category: "general"}
	ledger.questions["q_a"] = approvedQuestion("q_a")
	ledger.questions["q_b"] = approvedQuestion("q_b")

	in := NewIntegrator(ledger, store, &fakeIndexer{})

	if _, err := in.Integrate(context.Background(), "q_a"); err != nil {
		t.Fatalf("Integrate: %v", err)
	}

	stats, err := in.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalEntries != 4 {
		t.Errorf("total entries = %d, want 4", stats.TotalEntries)
	}
	if stats.ExpertReviewed != 1 {
		t.Errorf("expert reviewed = %d, want 1", stats.ExpertReviewed)
	}
	if stats.PendingIntegrations != 1 {
		t.Errorf("pending integrations = %d, want 1", stats.PendingIntegrations)
	}
	if stats.IntegrationRate != 0.25 {
		t.Errorf("integration rate = %f, want 0.25", stats.IntegrationRate)
	}
}

func TestIsOfficialSource(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"https://www.uscis.gov/green-card", true},
		{"https://travel.state.gov/visa-bulletin", true},
		{"https://uscis.gov", true},
		{"https://notuscis.gov/page", false},
		{"https://uscis.gov.evil.com/page", false},
		{"not a url", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isOfficialSource(tt.source); got != tt.want {
			t.Errorf("isOfficialSource(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}
