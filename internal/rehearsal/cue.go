package rehearsal

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultCueWord       = "action"
	defaultCueThreshold  = 0.85
	phoneticCueThreshold = 0.70
)

// CueOption is a functional option for configuring a [CueDetector].
type CueOption func(*CueDetector)

// WithCueWord overrides the trigger word. Default: "action".
func WithCueWord(word string) CueOption {
	return func(d *CueDetector) {
		d.word = strings.ToLower(strings.TrimSpace(word))
	}
}

// WithCueThreshold sets the minimum Jaro-Winkler score for a token that is
// not a phonetic match of the cue word. Default: 0.85.
func WithCueThreshold(threshold float64) CueOption {
	return func(d *CueDetector) {
		d.fuzzyThreshold = threshold
	}
}

// CueDetector recognizes the director's start cue in recognized speech.
// Recognition is tolerant of transcription noise: a token counts as the cue
// word when its Double Metaphone code matches and the Jaro-Winkler similarity
// clears a relaxed threshold, or — without a phonetic match — when the
// similarity alone clears a stricter one. Safe for concurrent use; the
// detector is read-only after construction.
type CueDetector struct {
	word           string
	primary        string
	secondary      string
	fuzzyThreshold float64
}

// NewCueDetector returns a detector for the given options. The default cue
// is "action".
func NewCueDetector(opts ...CueOption) *CueDetector {
	d := &CueDetector{
		word:           defaultCueWord,
		fuzzyThreshold: defaultCueThreshold,
	}
	for _, o := range opts {
		o(d)
	}
	d.primary, d.secondary = matchr.DoubleMetaphone(d.word)
	return d
}

// Match reports whether the spoken text contains the cue word.
func (d *CueDetector) Match(text string) bool {
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?;:'\"")
		if token == "" {
			continue
		}
		if token == d.word {
			return true
		}

		score := matchr.JaroWinkler(token, d.word, false)
		p, s := matchr.DoubleMetaphone(token)
		phonetic := (d.primary != "" && (p == d.primary || s == d.primary)) ||
			(d.secondary != "" && (p == d.secondary || s == d.secondary))

		if phonetic && score >= phoneticCueThreshold {
			return true
		}
		if score >= d.fuzzyThreshold {
			return true
		}
	}
	return false
}
