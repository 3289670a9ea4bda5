package rehearsal_test

import (
	"testing"

	"github.com/offbook/offbook/internal/rehearsal"
)

func TestCueDetectorMatch(t *testing.T) {
	t.Parallel()

	d := rehearsal.NewCueDetector()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"exact word", "action", true},
		{"uppercase", "ACTION", true},
		{"embedded in phrase", "quiet on set and action", true},
		{"trailing punctuation", "and... action!", true},
		{"unrelated speech", "is everyone ready", false},
		{"different cue", "cut", false},
		{"empty", "", false},
		{"whitespace only", "   ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := d.Match(tt.text); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestCueDetectorCustomWord(t *testing.T) {
	t.Parallel()

	d := rehearsal.NewCueDetector(rehearsal.WithCueWord("rolling"))
	if !d.Match("cameras rolling") {
		t.Error("custom cue word not recognized")
	}
	if d.Match("action") {
		t.Error("default cue word still recognized after override")
	}
}
