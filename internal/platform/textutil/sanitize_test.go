package textutil

import (
	"strings"
	"testing"
)

func TestSanitizeNote(t *testing.T) {
	t.Run("strips markup", func(t *testing.T) {
		got := SanitizeNote(`damaged <script>alert(1)</script><b>screen</b>`)
		if strings.Contains(got, "<") || strings.Contains(got, "alert") {
			t.Fatalf("expected markup removed, got %q", got)
		}
		if !strings.Contains(got, "screen") {
			t.Fatalf("expected text preserved, got %q", got)
		}
	})

	t.Run("collapses whitespace", func(t *testing.T) {
		if got := SanitizeNote("  customer \n\t request "); got != "customer request" {
			t.Fatalf("unexpected result %q", got)
		}
	})

	t.Run("truncates long notes", func(t *testing.T) {
		got := SanitizeNote(strings.Repeat("a", MaxNoteLength+20))
		if len(got) != MaxNoteLength {
			t.Fatalf("expected %d runes, got %d", MaxNoteLength, len(got))
		}
	})
}

func TestAppendNote(t *testing.T) {
	if got := AppendNote("", "first"); got != "first" {
		t.Fatalf("unexpected %q", got)
	}
	if got := AppendNote("first\n", "second"); got != "first\nsecond" {
		t.Fatalf("unexpected %q", got)
	}
	if got := AppendNote("first", "  "); got != "first" {
		t.Fatalf("expected blank line ignored, got %q", got)
	}
}
