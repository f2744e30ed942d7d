// Package chunk splits harvested text into bounded, overlapping chunks that
// break only on sentence boundaries.
package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Defaults used when callers do not configure chunking.
const (
	DefaultSize    = 500
	DefaultOverlap = 100
)

// Chunk joins segments with single spaces and greedily packs whole sentences
// into chunks of at most chunkSize characters. Each chunk after the first
// starts with the last overlap characters of the previous one. A sentence
// longer than chunkSize is emitted whole. chunkSize <= 0 disables the bound.
func Chunk(segments []string, chunkSize, overlap int) []string {
	text := join(segments)
	if text == "" {
		return nil
	}
	if chunkSize <= 0 {
		return []string{text}
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}

	var (
		chunks []string
		buf    strings.Builder
		// fresh is true once buf holds a sentence that has not been emitted.
		fresh bool
	)
	for _, sentence := range Sentences(text) {
		next := runeLen(sentence)
		if buf.Len() > 0 {
			next += runeLen(buf.String()) + 1
		}
		if fresh && next > chunkSize {
			closed := strings.TrimSpace(buf.String())
			chunks = append(chunks, closed)
			buf.Reset()
			fresh = false
			if seed := strings.TrimSpace(tail(closed, overlap)); seed != "" {
				buf.WriteString(seed)
			}
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(sentence)
		fresh = true
	}
	if fresh {
		chunks = append(chunks, strings.TrimSpace(buf.String()))
	}
	return chunks
}

// Sentences splits text after '.', '!' or '?' when followed by whitespace.
// Text without a boundary is a single sentence.
func Sentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
		default:
			continue
		}
		if i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func join(segments []string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	total := utf8.RuneCountInString(s)
	if total <= n {
		return s
	}
	skip := total - n
	for i := range s {
		if skip == 0 {
			return s[i:]
		}
		skip--
	}
	return ""
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
