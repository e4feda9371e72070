package translate

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	ellipsisRun = regexp.MustCompile(`(?:\.{2,}|…)+`)
)

// Normalize collapses whitespace runs and folds any run of dots or unicode
// ellipses into a single "...".
func Normalize(text string) string {
	text = ellipsisRun.ReplaceAllString(text, "...")
	text = spaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// IsBlank reports whether text has no non-space content.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// SameLanguage compares two language tags case-insensitively. Regions are
// significant: "en" and "en-US" differ.
func SameLanguage(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ShouldTranslate is the eligibility filter in front of the engines. Text is
// rejected when blank, when source and target languages match, when the
// trimmed text is shorter than two characters, or when it carries no letter
// of any script.
func ShouldTranslate(text, fromLang, toLang string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if SameLanguage(fromLang, toLang) {
		return false
	}
	if utf8.RuneCountInString(trimmed) < 2 {
		return false
	}
	return strings.IndexFunc(trimmed, unicode.IsLetter) >= 0
}
