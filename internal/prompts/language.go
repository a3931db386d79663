package prompts

import "strings"

// DefaultLanguage is the passthrough target: replies in English are never translated.
const DefaultLanguage = "en"

var languageNames = map[string]string{
	"es": "Spanish",
	"hi": "Hindi",
	"fr": "French",
	"de": "German",
	"zh": "Chinese",
	"ja": "Japanese",
	"ru": "Russian",
	"ar": "Arabic",
	"te": "Telugu",
}

// LanguageName resolves a language code to its display name. Unknown codes
// resolve to English with ok=false.
func LanguageName(code string) (name string, ok bool) {
	name, ok = languageNames[normalizeCode(code)]
	if !ok {
		return "English", false
	}
	return name, true
}

// NeedsTranslation reports whether a reply must be translated for code.
// English, its regional variants and unsupported codes pass through.
func NeedsTranslation(code string) bool {
	c := normalizeCode(code)
	if c == "" || c == DefaultLanguage || strings.HasPrefix(c, DefaultLanguage+"-") {
		return false
	}
	_, ok := languageNames[c]
	return ok
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
