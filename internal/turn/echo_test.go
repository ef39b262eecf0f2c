package turn

import "testing"

func TestIsEcho(t *testing.T) {
	t.Parallel()

	output := "The capital of France is Paris, a city on the Seine."

	tests := []struct {
		name     string
		fragment string
		want     bool
	}{
		{"exact substring", "capital of France", true},
		{"substring with different punctuation", "Capital of france!", true},
		{"full output", "the capital of france is paris a city on the seine", true},
		{"high word overlap", "Paris is the capital", true},
		{"genuine barge-in", "wait stop talking", false},
		{"unrelated question", "what about Germany", false},
		{"empty fragment", "", true},
		{"whitespace fragment", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsEcho(tt.fragment, output); got != tt.want {
				t.Errorf("IsEcho(%q) = %v, want %v", tt.fragment, got, tt.want)
			}
		})
	}
}

func TestIsEchoEmptyOutput(t *testing.T) {
	t.Parallel()

	if IsEcho("hello", "") {
		t.Error("fragment against empty output classified as echo")
	}
}

// Short common words shared with the response are suppressed even when the
// user genuinely said them. That false negative is the accepted cost of the
// heuristic.
func TestIsEchoShortCommonWordLimitation(t *testing.T) {
	t.Parallel()

	if !IsEcho("yes", "yes that is correct") {
		t.Error("short common word not suppressed")
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Hello, there!", "hello there"},
		{"  spaced   out  ", "spaced out"},
		{"What's up?", "what s up"},
		{"", ""},
		{"ALL CAPS", "all caps"},
	}
	for _, tt := range tests {
		if got := normalizeText(tt.in); got != tt.want {
			t.Errorf("normalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
