package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// HashString returns the hex md5 digest of the input. Identity hashes and
// cache keys are persisted, so the digest must stay stable across releases.
func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// NormalizeQuestion folds a question to its canonical form so that casing and
// surrounding whitespace never produce distinct identities.
func NormalizeQuestion(question string) string {
	return strings.ToLower(strings.TrimSpace(question))
}

// QuestionIdentity is the deduplication key for a (question, language) pair.
func QuestionIdentity(question, language string) string {
	return HashString(NormalizeQuestion(question) + ":" + language)
}
