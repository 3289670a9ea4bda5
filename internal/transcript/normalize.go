// Package transcript implements dialogue-line scoring for rehearsals.
//
// A live speech-to-text transcript is compared against the expected line of
// dialogue on normalized word tokens. Matching is set-based: word order and
// punctuation do not affect the result, which lets the scorer tolerate the
// segmentation quirks of streaming recognizers while still distinguishing
// "forgot words" (low word-match rate) from "said too much" (low accuracy).
package transcript

import (
	"regexp"
	"strings"
)

// nonWord matches every rune that is not a word character, whitespace, or an
// apostrophe. Apostrophes are kept so contractions ("don't") survive intact.
var nonWord = regexp.MustCompile(`[^\w\s']+`)

// Normalize converts raw text into a sequence of comparable word tokens:
// lowercased, stripped of punctuation except apostrophes, split on whitespace
// runs. Empty tokens are dropped, so empty or whitespace-only input yields an
// empty slice. Normalize is pure and deterministic.
func Normalize(text string) []string {
	cleaned := nonWord.ReplaceAllString(strings.ToLower(text), "")
	return strings.Fields(cleaned)
}
