package budget

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

func TestEstimate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want int
	}{
		{name: "empty", in: "", want: 0},
		{name: "short rounds up to one", in: "ab", want: 1},
		{name: "exact multiple", in: strings.Repeat("x", 40), want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Estimate(tt.in); got != tt.want {
				t.Errorf("Estimate(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncateText(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 2000) + "   "
	got := TruncateText(long, 0)
	if len(got) != DefaultMaxInputChars {
		t.Errorf("default truncation length = %d, want %d", len(got), DefaultMaxInputChars)
	}

	if got := TruncateText("  hello  ", 100); got != "hello" {
		t.Errorf("TruncateText trimmed = %q, want %q", got, "hello")
	}

	if got := TruncateText("abcdef", 3); got != "abc" {
		t.Errorf("TruncateText(abcdef, 3) = %q, want %q", got, "abc")
	}
}

func TestTruncateTextMultiByte(t *testing.T) {
	t.Parallel()

	// 3-byte runes: a budget that is not a multiple of 3 must still cut on
	// a rune boundary and count characters, not bytes.
	text := strings.Repeat("世界", 1000)
	got := TruncateText(text, 0)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated text is not valid UTF-8: %q", got[:12])
	}
	if n := utf8.RuneCountInString(got); n != DefaultMaxInputChars {
		t.Errorf("truncated to %d runes, want %d", n, DefaultMaxInputChars)
	}

	if got := TruncateText("世界世界", 3); got != "世界世" {
		t.Errorf("TruncateText multi-byte = %q, want %q", got, "世界世")
	}
}

func TestTrimHistoryDropsOldestFirst(t *testing.T) {
	t.Parallel()

	fixed := []*schema.Message{schema.SystemMessage(strings.Repeat("s", 400))}
	history := []*schema.Message{
		schema.UserMessage(strings.Repeat("a", 400)),
		schema.AssistantMessage(strings.Repeat("b", 400), nil),
		schema.UserMessage(strings.Repeat("c", 400)),
	}

	// Budget fits fixed plus roughly one history message.
	trimmed := TrimHistory(fixed, history, 250)
	if len(trimmed) >= len(history) && EstimateMessages(fixed)+EstimateMessages(history) > 250 {
		t.Fatalf("expected history to shrink, got %d of %d messages", len(trimmed), len(history))
	}
	if len(trimmed) > 0 {
		// Newest message survives trimming.
		if trimmed[len(trimmed)-1].Content != history[len(history)-1].Content {
			t.Error("newest history message was dropped")
		}
	}
}

func TestTrimHistoryReturnsEmptyWhenFixedExceedsBudget(t *testing.T) {
	t.Parallel()

	fixed := []*schema.Message{schema.SystemMessage(strings.Repeat("s", 10000))}
	history := []*schema.Message{schema.UserMessage("hi")}

	trimmed := TrimHistory(fixed, history, 100)
	if len(trimmed) != 0 {
		t.Errorf("expected empty history, got %d messages", len(trimmed))
	}
}
