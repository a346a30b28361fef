package schema

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/veridia/parley/errors"
)

// scriptMarkup matches executable markup that must never appear in turn
// content. Its presence is treated as an injection attempt, not as material
// for best-effort cleanup.
var scriptMarkup = regexp.MustCompile(`(?i)<\s*(script|iframe|object|embed|form|svg|math)\b|javascript\s*:|vbscript\s*:|\bon[a-z]+\s*=|data\s*:\s*text/html`)

// Sanitizer strips disallowed markup from free text while keeping a minimal
// safe tag set. Sanitization is a security boundary: script-like input and
// non-idempotent results fail hard instead of being silently cleaned.
type Sanitizer struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewSanitizer builds the sanitizer with the pipeline's allowed tag set.
func NewSanitizer() *Sanitizer {
	policy := bluemonday.NewPolicy()
	policy.AllowElements("b", "i", "em", "strong")

	return &Sanitizer{
		policy: policy,
		strict: bluemonday.StrictPolicy(),
	}
}

// Content sanitizes a speaker turn's text. Returns ErrSecurityViolation when
// the input carries executable markup or when sanitization is not a fixed
// point (a crafted payload designed to survive one pass).
func (s *Sanitizer) Content(text string) (string, error) {
	if scriptMarkup.MatchString(text) {
		return "", errors.NewSecurityViolation("executable markup in content")
	}

	sanitized := s.policy.Sanitize(text)

	// Idempotence check: a second pass must change nothing. A difference
	// means the first pass uncovered markup that was hidden from it.
	if again := s.policy.Sanitize(sanitized); again != sanitized {
		return "", errors.NewSecurityViolation("sanitization not idempotent, suspected injection")
	}

	return strings.TrimSpace(sanitized), nil
}

// Plain strips all markup. Used for titles and any field where no tags are
// acceptable.
func (s *Sanitizer) Plain(text string) string {
	return strings.TrimSpace(s.strict.Sanitize(text))
}
