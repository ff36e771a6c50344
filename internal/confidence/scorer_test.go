package confidence

import (
	"math"
	"strings"
	"testing"

	"github.com/greencard-rag/backend/internal/storage/models"
	"github.com/greencard-rag/backend/pkg/config"
)

func defaultConfig() config.ConfidenceConfig {
	return config.ConfidenceConfig{
		Threshold:     0.7,
		ContextWeight: 0.4,
		SourceWeight:  0.3,
		LengthWeight:  0.2,
		TermsWeight:   0.1,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScoreEmptyInputs(t *testing.T) {
	s := NewScorer(defaultConfig())

	m := s.Score("", "", "", "en")
	if m.ContextRelevance != 0 {
		t.Errorf("empty question: context relevance = %f, want 0", m.ContextRelevance)
	}
	if m.SourceQuality != 0 {
		t.Errorf("empty context: source quality = %f, want 0", m.SourceQuality)
	}
	if m.ResponseLength != 0 {
		t.Errorf("empty answer: response length = %d, want 0", m.ResponseLength)
	}
	if m.ContainsDomainTerms {
		t.Error("empty answer should not contain domain terms")
	}
}

func TestScoreBounds(t *testing.T) {
	s := NewScorer(defaultConfig())

	long := strings.Repeat("USCIS green card visa petition form immigration ", 50)
	m := s.Score(long, long, long, "en")
	if m.Score < 0 || m.Score > 1 {
		t.Errorf("score %f out of [0,1]", m.Score)
	}
	if m.ContextRelevance < 0 || m.ContextRelevance > 1 {
		t.Errorf("context relevance %f out of [0,1]", m.ContextRelevance)
	}
	if m.SourceQuality < 0 || m.SourceQuality > 1 {
		t.Errorf("source quality %f out of [0,1]", m.SourceQuality)
	}
}

func TestScoreDeterministic(t *testing.T) {
	s := NewScorer(defaultConfig())

	a := s.Score("What is a green card?", "A green card grants permanent residence.", "Q: What is a green card? A: proof of permanent residence", "en")
	b := s.Score("What is a green card?", "A green card grants permanent residence.", "Q: What is a green card? A: proof of permanent residence", "en")
	if a != b {
		t.Errorf("scoring is not deterministic: %+v vs %+v", a, b)
	}
}

func TestContextRelevance(t *testing.T) {
	s := NewScorer(defaultConfig())

	tests := []struct {
		name     string
		question string
		context  string
		language string
		min, max float64
	}{
		{"no overlap", "cats and dogs", "quantum physics lecture notes", "en", 0, 0.1},
		{"full overlap with term boost", "green card processing", "green card processing takes months", "en", 0.9, 1.0},
		{"empty context", "green card", "", "en", 0, 0},
		{"chinese full overlap", "绿卡", "绿卡 申请 流程", "zh", 1.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.contextRelevance(tt.question, tt.context, tt.language)
			if got < tt.min || got > tt.max {
				t.Errorf("contextRelevance = %f, want in [%f, %f]", got, tt.min, tt.max)
			}
		})
	}
}

func TestSourceQuality(t *testing.T) {
	s := NewScorer(defaultConfig())

	tests := []struct {
		name    string
		context string
		want    float64
	}{
		{"empty", "", 0},
		{"plain short", "short answer", 0.5},
		{"long context", strings.Repeat("a", 201), 0.7},
		{"structured list", "1. File the petition", 0.6},
		{"official terms", "USCIS Form I-485", 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.sourceQuality(tt.context)
			if !almostEqual(got, tt.want) {
				t.Errorf("sourceQuality(%q) = %f, want %f", tt.context, got, tt.want)
			}
		})
	}
}

func TestSourceQualityClamped(t *testing.T) {
	s := NewScorer(defaultConfig())

	context := strings.Repeat("USCIS Form Department of State immigration law 1. ", 20)
	if got := s.sourceQuality(context); got != 1.0 {
		t.Errorf("sourceQuality = %f, want clamp to 1.0", got)
	}
}

func TestScoreWeightedSum(t *testing.T) {
	s := NewScorer(defaultConfig())

	// Chinese path uses the regexp tokenizer, making factor values exact:
	// relevance clamps to 1.0, quality is the 0.5 base, the answer contains
	// a domain term.
	answer := "您需要提交绿卡申请"
	m := s.Score("绿卡", answer, "绿卡 申请", "zh")

	want := 1.0*0.4 + 0.5*0.3 + float64(len(answer))/500.0*0.2 + 0.1
	if !almostEqual(m.Score, want) {
		t.Errorf("score = %f, want %f", m.Score, want)
	}
	if !m.ContainsDomainTerms {
		t.Error("answer with 绿卡 should contain domain terms")
	}
}

func TestClassify(t *testing.T) {
	s := NewScorer(defaultConfig())

	tests := []struct {
		score float64
		want  models.ConfidenceLevel
	}{
		{0.95, models.LevelHigh},
		{0.8, models.LevelHigh},
		{0.79, models.LevelMedium},
		{0.6, models.LevelMedium},
		{0.59, models.LevelLow},
		{0.0, models.LevelLow},
	}

	for _, tt := range tests {
		if got := s.Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestShouldEscalate(t *testing.T) {
	for _, threshold := range []float64{0, 0.3, 0.7, 1.0} {
		cfg := defaultConfig()
		cfg.Threshold = threshold
		s := NewScorer(cfg)

		for _, score := range []float64{0, 0.29, 0.3, 0.69, 0.7, 0.99, 1.0} {
			if got, want := s.ShouldEscalate(score), score < threshold; got != want {
				t.Errorf("ShouldEscalate(%f) with threshold %f = %v, want %v", score, threshold, got, want)
			}
		}
	}
}

func TestHasDomainTerm(t *testing.T) {
	tests := []struct {
		text     string
		language string
		want     bool
	}{
		{"You should file a petition with uscis.", "en", true},
		{"The weather is nice today.", "en", false},
		{"需要先申请签证", "zh", true},
		{"今天天气不错", "zh", false},
		{"GREEN CARD holders", "en", true},
	}

	for _, tt := range tests {
		if got := HasDomainTerm(tt.text, tt.language); got != tt.want {
			t.Errorf("HasDomainTerm(%q, %q) = %v, want %v", tt.text, tt.language, got, tt.want)
		}
	}
}
