// Package content turns rendered HTML into ordered, filtered content lines.
package content

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	snippetRunes        = 100
	longTokenRunes      = 50
	maxUnbrokenRunes    = 500
	noiseSymbolRatio    = 0.4
	noiseBracketRatio   = 0.2
	cleanSymbolRatio    = 0.3
	imageMarkerTemplate = "IMAGE[%s]"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	base64Image   = regexp.MustCompile(`^data:image/[a-zA-Z]+;base64,`)
	htmlTag       = regexp.MustCompile(`<[a-zA-Z]+.*?>`)
	scriptPrefix  = regexp.MustCompile(`^(?:!function|window\.\w+|\{"|\[)`)
	jsonKeyValue  = regexp.MustCompile(`"[^"]+"\s*:\s*\S+`)
)

// IsNoise reports whether line looks like markup, script, encoded data or
// JSON rather than human-readable text. Only the first 100 characters are
// inspected.
func IsNoise(line string) bool {
	snippet := strings.TrimSpace(firstRunes(line, snippetRunes))
	n := utf8.RuneCountInString(snippet)

	if n > longTokenRunes && !strings.ContainsFunc(snippet, unicode.IsSpace) {
		return true
	}
	if scriptPrefix.MatchString(snippet) || base64Image.MatchString(snippet) {
		return true
	}
	if ratio(symbolCount(snippet), n) > noiseSymbolRatio {
		return true
	}
	if ratio(bracketCount(snippet), n) > noiseBracketRatio {
		return true
	}
	return htmlTag.MatchString(snippet) || jsonKeyValue.MatchString(snippet)
}

// CleanText collapses whitespace and trims text. It returns "" when the text
// is an unbroken blob longer than 500 characters, an inline base64 image, or
// more than 30% symbols.
func CleanText(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	n := utf8.RuneCountInString(trimmed)
	if n > maxUnbrokenRunes && !strings.ContainsFunc(trimmed, unicode.IsSpace) {
		return ""
	}
	if base64Image.MatchString(trimmed) {
		return ""
	}
	if ratio(symbolCount(trimmed), n) > cleanSymbolRatio {
		return ""
	}
	return whitespaceRun.ReplaceAllString(trimmed, " ")
}

func firstRunes(s string, limit int) string {
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}

// symbolCount counts runes that are neither letters, digits nor whitespace.
func symbolCount(s string) int {
	count := 0
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			count++
		}
	}
	return count
}

func bracketCount(s string) int {
	count := 0
	for _, r := range s {
		switch r {
		case '{', '}', '[', ']':
			count++
		}
	}
	return count
}

func ratio(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
