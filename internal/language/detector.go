// Package language resolves the language of incoming questions so retrieval
// and generation stay within one language.
package language

import (
	"errors"
	"strings"

	"github.com/abadojack/whatlanggo"
	"go.uber.org/zap"

	"github.com/greencard-rag/backend/pkg/config"
	"github.com/greencard-rag/backend/pkg/logger"
)

var ErrEmptyText = errors.New("cannot detect language of empty text")

// Detector maps free text to one of the supported ISO 639-1 codes,
// falling back to the configured default for anything else.
type Detector struct {
	supported map[string]struct{}
	fallback  string
}

func NewDetector(cfg config.LanguageConfig) *Detector {
	supported := make(map[string]struct{}, len(cfg.Supported))
	for _, code := range cfg.Supported {
		supported[strings.ToLower(code)] = struct{}{}
	}
	return &Detector{supported: supported, fallback: cfg.Fallback}
}

func (d *Detector) Fallback() string {
	return d.fallback
}

func (d *Detector) Supported(code string) bool {
	_, ok := d.supported[strings.ToLower(code)]
	return ok
}

// Detect returns the supported language code for the text. Unsupported and
// undetermined languages resolve to the fallback rather than an error; only
// empty input fails.
func (d *Detector) Detect(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	info := whatlanggo.Detect(text)
	code := isoCode(info.Lang)

	if d.Supported(code) {
		return code, nil
	}

	logger.Debug("Unsupported language, using fallback",
		zap.String("detected", code),
		zap.String("fallback", d.fallback),
	)
	return d.fallback, nil
}

// Resolve validates a caller-supplied language hint, detecting from the text
// when the hint is absent or unsupported.
func (d *Detector) Resolve(hint, text string) (string, error) {
	if hint != "" && d.Supported(hint) {
		return strings.ToLower(hint), nil
	}
	return d.Detect(text)
}

func isoCode(lang whatlanggo.Lang) string {
	// Mandarin maps onto the macrolanguage code used everywhere else in
	// the system.
	if lang == whatlanggo.Cmn {
		return "zh"
	}
	return lang.Iso6391()
}
