package turn

import "testing"

func TestPhraseMatcherExact(t *testing.T) {
	t.Parallel()

	m := NewPhraseMatcher(DefaultStopPhrases, 0)

	tests := []struct {
		text string
		want bool
	}{
		{"stop", true},
		{"please stop", true},
		{"wait stop", true},
		{"Stop!", true},
		{"be quiet now", true},
		{"tell me more", false},
		{"", false},
		{"keep going please", false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.text); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

// Speech-to-text often mangles short commands; the fuzzy path catches near
// misses without firing on unrelated words.
func TestPhraseMatcherFuzzy(t *testing.T) {
	t.Parallel()

	m := NewPhraseMatcher([]string{"wait stop"}, 0.85)

	if !m.Match("weight stop") {
		t.Error("near miss 'weight stop' not matched")
	}
	if m.Match("great work") {
		t.Error("unrelated text matched")
	}
}

func TestPhraseMatcherEmptyPhrases(t *testing.T) {
	t.Parallel()

	m := NewPhraseMatcher(nil, 0)
	if m.Match("stop") {
		t.Error("matcher with no phrases matched")
	}

	m = NewPhraseMatcher([]string{"", "  "}, 0)
	if m.Match("anything at all") {
		t.Error("matcher built from blank phrases matched")
	}
}

func TestPhraseMatcherLongerThanText(t *testing.T) {
	t.Parallel()

	m := NewPhraseMatcher([]string{"that's enough"}, 0)
	if m.Match("enough") {
		t.Error("single word matched a two-word phrase window")
	}
	if !m.Match("okay that's enough already") {
		t.Error("phrase inside longer text not matched")
	}
}
