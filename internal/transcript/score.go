package transcript

import (
	"math"
	"time"
)

// Metrics is the result of scoring one spoken attempt at a dialogue line.
// It is immutable once produced; one value per completed attempt.
//
// The word counts (ExpectedWords, SpokenWords, MatchedWords) are raw token
// counts before deduplication, while MissedWords and ExtraWords list each
// distinct word once, in first-occurrence order.
type Metrics struct {
	// Accuracy is 0–100. Extra words the actor ad-libbed count against it:
	// matched / (expected + extra).
	Accuracy int `json:"accuracy"`

	// WordMatchRate is 0–100 and measures pure recall of the expected line:
	// matched / expected. Rambling does not lower it.
	WordMatchRate int `json:"wordMatchRate"`

	ExpectedWords int `json:"expectedWords"`
	SpokenWords   int `json:"spokenWords"`
	MatchedWords  int `json:"matchedWords"`

	MissedWords []string `json:"missedWords"`
	ExtraWords  []string `json:"extraWords"`

	// Elapsed is the time from the start of listening to the end of the
	// attempt. Serialized as milliseconds.
	Elapsed time.Duration `json:"-"`

	ElapsedMillis int64 `json:"timeTaken"`
}

// Score compares an expected dialogue line against what was actually spoken
// and produces a Metrics value. Matching is set-membership on normalized
// tokens; word order is ignored. Score never fails: empty or unusable input
// degrades to zero-valued metrics.
func Score(expected, spoken string, elapsed time.Duration) Metrics {
	expectedTokens := Normalize(expected)
	spokenTokens := Normalize(spoken)

	expectedSet := tokenSet(expectedTokens)
	spokenSet := tokenSet(spokenTokens)

	var matched int
	var missed []string
	for _, w := range expectedTokens {
		if _, ok := spokenSet[w]; ok {
			matched++
		} else {
			missed = append(missed, w)
		}
	}

	var extra []string
	for _, w := range spokenTokens {
		if _, ok := expectedSet[w]; !ok {
			extra = append(extra, w)
		}
	}

	var wordMatchRate int
	if len(expectedTokens) > 0 {
		wordMatchRate = roundPercent(matched, len(expectedTokens))
	}

	// The denominator counts every extra occurrence, not distinct extras, so
	// repeating an off-script word keeps lowering the score.
	var accuracy int
	if total := len(expectedTokens) + len(extra); total > 0 {
		accuracy = roundPercent(matched, total)
	}

	return Metrics{
		Accuracy:      accuracy,
		WordMatchRate: wordMatchRate,
		ExpectedWords: len(expectedTokens),
		SpokenWords:   len(spokenTokens),
		MatchedWords:  matched,
		MissedWords:   dedupe(missed),
		ExtraWords:    dedupe(extra),
		Elapsed:       elapsed,
		ElapsedMillis: elapsed.Milliseconds(),
	}
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// roundPercent returns round(100 * n / d). d must be > 0.
func roundPercent(n, d int) int {
	return int(math.Round(100 * float64(n) / float64(d)))
}

// dedupe keeps the first occurrence of each word, preserving order.
// Returns an empty (non-nil) slice for empty input so JSON renders [].
func dedupe(words []string) []string {
	out := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
