package generation

import (
	"strings"

	"github.com/kalambet/keepsake/internal/storage"
)

// MaxTitleLength is the display limit for titles, in runes.
const MaxTitleLength = 60

const ellipsis = "..."

// Truncate shortens text to maxLen runes plus an ellipsis. It cuts at the last
// space inside the first maxLen runes when that space sits in the back half,
// and at the hard limit otherwise.
func Truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}

	cut := runes[:maxLen]
	lastSpace := -1
	for i := len(cut) - 1; i >= 0; i-- {
		if cut[i] == ' ' {
			lastSpace = i
			break
		}
	}
	if lastSpace >= 0 && float64(lastSpace) >= float64(maxLen)*0.5 {
		return string(cut[:lastSpace]) + ellipsis
	}
	return string(cut) + ellipsis
}

// CleanTitle strips whitespace and one pair of wrapping quotes from a
// generated title and truncates it. The boolean is false when nothing usable
// remains.
func CleanTitle(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = trimQuote(s)
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return Truncate(s, MaxTitleLength), true
}

func trimQuote(s string) string {
	if s != "" && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if s != "" && (s[len(s)-1] == '"' || s[len(s)-1] == '\'') {
		s = s[:len(s)-1]
	}
	return s
}

// FallbackTitle is the default title used when generation yields nothing.
func FallbackTitle(t storage.MemoryType) string {
	switch t {
	case storage.MemoryMoment:
		return "Untitled Moment"
	case storage.MemoryStory:
		return "Untitled Story"
	case storage.MemoryMemento:
		return "Untitled Memento"
	}
	return "Untitled Memory"
}

// Head returns the first n runes of s.
func Head(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
