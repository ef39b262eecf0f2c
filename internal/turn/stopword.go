package turn

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultStopPhrases are the built-in voice commands that cancel the
// current response.
var DefaultStopPhrases = []string{"stop", "wait stop", "be quiet", "that's enough"}

// DefaultStopSimilarity is the Jaro-Winkler score a transcript window must
// reach to count as a stop phrase.
const DefaultStopSimilarity = 0.85

// PhraseMatcher detects stop phrases in final transcripts. Speech-to-text
// output rarely matches a command verbatim ("weight stop", "bequiet"), so
// exact containment is backed by fuzzy Jaro-Winkler comparison against
// every window of the transcript with the same word count as the phrase.
type PhraseMatcher struct {
	phrases   [][]string
	threshold float64
}

// NewPhraseMatcher builds a matcher. Empty phrases are ignored; a zero
// threshold falls back to [DefaultStopSimilarity].
func NewPhraseMatcher(phrases []string, threshold float64) *PhraseMatcher {
	if threshold <= 0 {
		threshold = DefaultStopSimilarity
	}
	m := &PhraseMatcher{threshold: threshold}
	for _, p := range phrases {
		words := strings.Fields(normalizeText(p))
		if len(words) > 0 {
			m.phrases = append(m.phrases, words)
		}
	}
	return m
}

// Match reports whether text contains any of the configured stop phrases,
// exactly or fuzzily.
func (m *PhraseMatcher) Match(text string) bool {
	words := strings.Fields(normalizeText(text))
	if len(words) == 0 {
		return false
	}
	for _, phrase := range m.phrases {
		if m.matchPhrase(words, phrase) {
			return true
		}
	}
	return false
}

func (m *PhraseMatcher) matchPhrase(words, phrase []string) bool {
	n := len(phrase)
	if n == 0 || n > len(words) {
		return false
	}
	target := strings.Join(phrase, " ")
	for i := 0; i+n <= len(words); i++ {
		window := strings.Join(words[i:i+n], " ")
		if window == target {
			return true
		}
		if matchr.JaroWinkler(window, target, false) >= m.threshold {
			return true
		}
	}
	return false
}
