package script

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dialoguePattern matches "CHARACTER NAME: dialogue" or "CHARACTER NAME"
// followed by the dialogue on the next line. Character names are runs of
// uppercase letters and spaces starting at column zero.
var dialoguePattern = regexp.MustCompile(`(?m)^([A-Z][A-Z ]+)(?::|\n)[ \t]*(.+)$`)

var spaceRun = regexp.MustCompile(`\s+`)

// Parse extracts the dialogue structure from raw script text.
//
// Every match of the dialogue pattern becomes a [Line] with a dense 1-based
// order; per-character line counts are tallied into the [Character] roster
// with all assignments starting as unassigned. When the text yields no
// dialogue at all, the script keeps its raw text, gets two placeholder
// characters, and stays in [StatusUploaded] so the user can fix the upload.
func Parse(title, raw string) *Script {
	now := time.Now().UTC()
	s := &Script{
		ID:        NewID("script"),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		RawText:   raw,
	}

	counts := make(map[string]int)
	var names []string
	order := 1
	for _, m := range dialoguePattern.FindAllStringSubmatch(raw, -1) {
		name := strings.TrimSpace(m[1])
		text := strings.TrimSpace(m[2])
		if text == "" {
			continue
		}
		if counts[name] == 0 {
			names = append(names, name)
		}
		counts[name]++
		s.Lines = append(s.Lines, Line{
			ID:            "line-" + strconv.Itoa(order),
			CharacterID:   characterID(name),
			CharacterName: name,
			Text:          text,
			Kind:          LineDialogue,
			Order:         order,
		})
		order++
	}

	if len(s.Lines) == 0 {
		s.Status = StatusUploaded
		s.Characters = []Character{
			{ID: "char-1", Name: "CHARACTER 1", Assignment: AssignedUnassigned},
			{ID: "char-2", Name: "CHARACTER 2", Assignment: AssignedUnassigned},
		}
		return s
	}

	s.Status = StatusParsed
	for _, name := range names {
		s.Characters = append(s.Characters, Character{
			ID:         characterID(name),
			Name:       name,
			Assignment: AssignedUnassigned,
			LineCount:  counts[name],
		})
	}
	return s
}

// characterID derives a stable character ID from the name ("JOHN DOE" →
// "char-john-doe").
func characterID(name string) string {
	slug := spaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return "char-" + slug
}
