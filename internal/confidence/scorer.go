// Package confidence computes the trust score attached to every generated
// answer. Scoring is pure: no I/O, no mutable state, safe for concurrent use.
package confidence

import (
	"regexp"
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/greencard-rag/backend/internal/storage/models"
	"github.com/greencard-rag/backend/pkg/config"
)

const lengthNormalizer = 500.0

var (
	wordPattern       = regexp.MustCompile(`[\p{L}\p{N}]+`)
	structuredPattern = regexp.MustCompile(`\d+\.|[A-Z]\.`)
)

type Scorer struct {
	cfg config.ConfidenceConfig
}

func NewScorer(cfg config.ConfidenceConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

func (s *Scorer) Threshold() float64 {
	return s.cfg.Threshold
}

// Score combines four independent factors into a [0,1] trust score for the
// (question, answer, context, language) tuple.
func (s *Scorer) Score(question, answer, contextText, language string) models.ConfidenceMetrics {
	contextRelevance := s.contextRelevance(question, contextText, language)
	sourceQuality := s.sourceQuality(contextText)
	responseLength := len(answer)
	containsTerms := HasDomainTerm(answer, language)

	termsFactor := 0.0
	if containsTerms {
		termsFactor = 1.0
	}

	lengthFactor := float64(responseLength) / lengthNormalizer
	if lengthFactor > 1.0 {
		lengthFactor = 1.0
	}

	score := contextRelevance*s.cfg.ContextWeight +
		sourceQuality*s.cfg.SourceWeight +
		lengthFactor*s.cfg.LengthWeight +
		termsFactor*s.cfg.TermsWeight
	if score > 1.0 {
		score = 1.0
	}

	return models.ConfidenceMetrics{
		Question:            question,
		Language:            language,
		Score:               score,
		ContextRelevance:    contextRelevance,
		SourceQuality:       sourceQuality,
		ResponseLength:      responseLength,
		ContainsDomainTerms: containsTerms,
	}
}

// contextRelevance is the token-overlap ratio between question and context,
// boosted 0.1 per domain term found in the question.
func (s *Scorer) contextRelevance(question, contextText, language string) float64 {
	if question == "" || contextText == "" {
		return 0.0
	}

	questionTokens := tokenSet(question, language)
	if len(questionTokens) == 0 {
		return 0.0
	}
	contextTokens := tokenSet(contextText, language)

	overlap := 0
	for token := range questionTokens {
		if _, ok := contextTokens[token]; ok {
			overlap++
		}
	}
	relevance := float64(overlap) / float64(len(questionTokens))

	questionLower := strings.ToLower(question)
	for _, term := range DomainTerms(language) {
		if strings.Contains(questionLower, strings.ToLower(term)) {
			relevance += 0.1
		}
	}

	if relevance > 1.0 {
		relevance = 1.0
	}
	return relevance
}

// sourceQuality grades the retrieved context itself: length, structure and
// official terminology, on top of a 0.5 base.
func (s *Scorer) sourceQuality(contextText string) float64 {
	if contextText == "" {
		return 0.0
	}

	quality := 0.5

	if len(contextText) > 200 {
		quality += 0.2
	}

	if structuredPattern.MatchString(contextText) {
		quality += 0.1
	}

	contextLower := strings.ToLower(contextText)
	for _, term := range officialTerms {
		if strings.Contains(contextLower, strings.ToLower(term)) {
			quality += 0.1
		}
	}

	if quality > 1.0 {
		quality = 1.0
	}
	return quality
}

func (s *Scorer) Classify(score float64) models.ConfidenceLevel {
	switch {
	case score >= 0.8:
		return models.LevelHigh
	case score >= 0.6:
		return models.LevelMedium
	default:
		return models.LevelLow
	}
}

// ShouldEscalate reports whether an answer at this score must be routed to
// the expert review queue.
func (s *Scorer) ShouldEscalate(score float64) bool {
	return score < s.cfg.Threshold
}

// tokenSet lowercases and tokenizes text. English goes through the prose
// tokenizer; scripts without word spacing fall back to unicode word runs.
func tokenSet(text, language string) map[string]struct{} {
	tokens := make(map[string]struct{})

	if language == "en" {
		doc, err := prose.NewDocument(text,
			prose.WithSegmentation(false),
			prose.WithTagging(false),
			prose.WithExtraction(false),
		)
		if err == nil {
			for _, tok := range doc.Tokens() {
				word := strings.ToLower(strings.TrimSpace(tok.Text))
				if wordPattern.MatchString(word) {
					tokens[word] = struct{}{}
				}
			}
			return tokens
		}
	}

	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		tokens[word] = struct{}{}
	}
	return tokens
}
