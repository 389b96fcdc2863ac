package generation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kalambet/keepsake/internal/storage"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"fits", "short title", 60, "short title"},
		{"exact length", "abcde", 5, "abcde"},
		{"cuts at word boundary", "the quick brown fox jumps", 12, "the quick..."},
		{"no space hard cut", "abcdefghijklmnop", 10, "abcdefghij..."},
		{"space too early", "ab cdefghijklmnop", 10, "ab cdefghi..."},
		{"space exactly at half", "abcde fghijk", 10, "abcde..."},
		{"counts runes", "héllo wörld ünïcode", 12, "héllo wörld..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.maxLen); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncate_LengthBound(t *testing.T) {
	inputs := []string{
		strings.Repeat("word ", 40),
		strings.Repeat("x", 200),
		"A very long title about a day at the beach with friends and family and a dog",
	}
	for _, in := range inputs {
		out := Truncate(in, MaxTitleLength)
		if n := utf8.RuneCountInString(out); n > MaxTitleLength+len(ellipsis) {
			t.Errorf("Truncate output has %d runes, limit %d", n, MaxTitleLength+len(ellipsis))
		}
		if !strings.HasSuffix(out, ellipsis) {
			t.Errorf("Truncate(%q) = %q, missing ellipsis", in, out)
		}
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{`"Sunset at the Pier"`, "Sunset at the Pier", true},
		{`  'Morning Run'  `, "Morning Run", true},
		{`"Half quoted`, "Half quoted", true},
		{`""`, "", false},
		{`  " "  `, "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := CleanTitle(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("CleanTitle(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestCleanTitle_Truncates(t *testing.T) {
	long := `"` + strings.Repeat("memory ", 20) + `"`
	got, ok := CleanTitle(long)
	if !ok {
		t.Fatal("expected a title")
	}
	if utf8.RuneCountInString(got) > MaxTitleLength+3 {
		t.Errorf("title too long: %q", got)
	}
}

func TestFallbackTitle(t *testing.T) {
	want := map[storage.MemoryType]string{
		storage.MemoryMoment:  "Untitled Moment",
		storage.MemoryStory:   "Untitled Story",
		storage.MemoryMemento: "Untitled Memento",
	}
	for typ, title := range want {
		if got := FallbackTitle(typ); got != title {
			t.Errorf("FallbackTitle(%s) = %q, want %q", typ, got, title)
		}
	}
}

func TestTitlePromptsCapInput(t *testing.T) {
	long := strings.Repeat("a", 3000)
	p := MomentTitlePrompt(long)
	if strings.Count(p.User, "a") > 1100 {
		t.Error("title prompt should only include the first 1000 runes of the text")
	}
	if p.MaxTokens != MomentTitleTokens {
		t.Errorf("MaxTokens = %d", p.MaxTokens)
	}
	q := QuickTitlePrompt("went hiking", storage.MemoryMemento)
	if !strings.Contains(q.User, "a special memento or keepsake") {
		t.Errorf("quick title prompt missing type context: %q", q.User)
	}
}
