package turn

import "strings"

// IsEcho reports whether a recognized speech fragment is likely the
// microphone picking up the system's own voice rather than genuine user
// speech. A fragment is classified as echo when its normalized text is a
// substring of the text currently being output, or when most of its words
// appear in that output.
//
// This is an accepted heuristic, not a correct classifier: short common
// words ("yes", "ok") spoken by the user while they also occur in the
// response will be suppressed. Callers must not treat an echo fragment as a
// new utterance or as an interrupt trigger.
func IsEcho(fragment, output string) bool {
	frag := normalizeText(fragment)
	out := normalizeText(output)
	if frag == "" {
		return true
	}
	if out == "" {
		return false
	}
	if strings.Contains(out, frag) {
		return true
	}

	words := strings.Fields(frag)
	if len(words) == 0 {
		return true
	}
	outWords := make(map[string]struct{})
	for _, w := range strings.Fields(out) {
		outWords[w] = struct{}{}
	}
	matched := 0
	for _, w := range words {
		if _, ok := outWords[w]; ok {
			matched++
		}
	}
	return float64(matched)/float64(len(words)) >= 0.75
}

// normalizeText lowercases and strips punctuation so "Hello, there!" and
// "hello there" compare equal.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r >= 0x80:
			// Keep non-ASCII letters untouched.
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
