// Package policy masks personal identifiers before user text reaches logs.
package policy

import (
	"regexp"
	"strings"
)

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Order matters: cards and SSNs are masked before the looser phone pattern
// can claim their digits.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`(?i)\b(?:mrn|medical record(?: number)?|patient id)[:#\s]*[a-z0-9\-]{4,}\b`), "[REDACTED_RECORD_ID]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks emails, card numbers, SSNs, medical record ids and phone numbers.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// LogPreview redacts input and truncates it to maxRunes for log lines.
func LogPreview(input string, maxRunes int) string {
	out, _ := RedactPII(strings.TrimSpace(input))
	r := []rune(out)
	if maxRunes <= 0 || len(r) <= maxRunes {
		return out
	}
	return string(r[:maxRunes]) + "..."
}
