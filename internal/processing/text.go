package processing

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	// Inline XBRL and EDGAR headers leave long runs of separators behind.
	separators = regexp.MustCompile(`[_=\-*]{4,}`)
)

// CleanText decodes HTML entities, drops separator runs and squeezes whitespace.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = strings.ReplaceAll(decoded, "\u00a0", " ")
	decoded = separators.ReplaceAllString(decoded, " ")
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// Truncate shortens text to at most maxChars runes, cutting at the last word
// boundary and appending an ellipsis. maxChars <= 0 disables truncation.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	runes := []rune(text)[:maxChars]
	cut := string(runes)
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "..."
}

// ItemSection returns the narrative starting at the heading of the given item
// ("Item 1.05"), or the whole text when the heading is absent.
func ItemSection(text, item string) string {
	if item == "" {
		return text
	}
	re := regexp.MustCompile(`(?i)item\s+` + regexp.QuoteMeta(item) + `\b`)
	loc := re.FindAllStringIndex(text, -1)
	if len(loc) == 0 {
		return text
	}
	// The first hit is usually the cover page checklist; the last is the body.
	return text[loc[len(loc)-1][0]:]
}
