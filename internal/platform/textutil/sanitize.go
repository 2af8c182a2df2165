package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNoteLength bounds a single operator note after sanitisation.
const MaxNoteLength = 500

var notePolicy = bluemonday.StrictPolicy()

// SanitizeNote strips markup from operator-entered text, collapses whitespace and truncates
// the result to MaxNoteLength runes.
func SanitizeNote(value string) string {
	cleaned := notePolicy.Sanitize(value)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if utf8.RuneCountInString(cleaned) <= MaxNoteLength {
		return cleaned
	}
	runes := []rune(cleaned)
	return string(runes[:MaxNoteLength])
}

// AppendNote adds a line to an existing notes block.
func AppendNote(existing, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return line
	}
	return strings.TrimRight(existing, "\n") + "\n" + line
}
