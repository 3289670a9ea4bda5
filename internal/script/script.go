// Package script provides the script data model, the plain-text dialogue
// parser, and persistent storage for uploaded scripts.
//
// A [Script] is the unit a user rehearses: the raw uploaded text plus the
// parsed [Line] sequence and the [Character] roster with user/AI role
// assignments. The primary abstraction is the [Store] interface with an
// in-memory implementation ([MemoryStore], copy-on-write updates) and a
// PostgreSQL implementation ([PostgresStore], JSONB sub-documents).
package script

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Assignment states who performs a character's lines during rehearsal.
type Assignment string

const (
	AssignedUser       Assignment = "user"
	AssignedAI         Assignment = "ai"
	AssignedUnassigned Assignment = "unassigned"
)

// IsValid reports whether a is a recognised assignment.
func (a Assignment) IsValid() bool {
	switch a {
	case AssignedUser, AssignedAI, AssignedUnassigned:
		return true
	}
	return false
}

// LineKind classifies a script line.
type LineKind string

const (
	LineDialogue      LineKind = "dialogue"
	LineAction        LineKind = "action"
	LineHeading       LineKind = "heading"
	LineParenthetical LineKind = "parenthetical"
)

// Status tracks how far a script has progressed toward being rehearsable.
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusParsed   Status = "parsed"
	StatusAssigned Status = "assigned"
	StatusReady    Status = "ready"
)

// Character is a role in the script and its rehearsal assignment.
type Character struct {
	ID string `json:"id"`

	// Name is the character's name as it appears in the script (e.g., "MACBETH").
	Name string `json:"name"`

	// Assignment states whether the user, the AI scene partner, or nobody
	// performs this character. Multiple or zero user-assigned characters are
	// structurally permitted; [Script.ReadyForRehearsal] reports the
	// recommended setup without enforcing it.
	Assignment Assignment `json:"assignedTo"`

	// LineCount is the number of dialogue lines belonging to this character.
	LineCount int `json:"lineCount"`

	// VoiceID optionally pins a synthesis voice. When empty, a deterministic
	// voice is derived from the character name.
	VoiceID string `json:"voiceId,omitempty"`
}

// Line is one playable unit of the script.
type Line struct {
	ID            string   `json:"id"`
	CharacterID   string   `json:"characterId"`
	CharacterName string   `json:"characterName"`
	Text          string   `json:"text"`
	Kind          LineKind `json:"type"`

	// Order is 1-based and dense; it defines the playback sequence.
	Order int `json:"order"`
}

// Script is an uploaded script with its parsed structure.
type Script struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	RawText    string      `json:"rawText"`
	Status     Status      `json:"status"`
	Characters []Character `json:"characters"`
	Lines      []Line      `json:"lines"`
}

// ErrNotFound is returned by stores when no script has the requested ID.
var ErrNotFound = errors.New("script: not found")

// Validate checks the structural invariants of a script record.
func (s *Script) Validate() error {
	if s.ID == "" {
		return errors.New("script: ID must not be empty")
	}
	if s.Title == "" {
		return errors.New("script: title must not be empty")
	}
	for i, l := range s.Lines {
		if l.Order != i+1 {
			return fmt.Errorf("script: line %q has order %d, want %d", l.ID, l.Order, i+1)
		}
	}
	for _, c := range s.Characters {
		if !c.Assignment.IsValid() {
			return fmt.Errorf("script: character %q has invalid assignment %q", c.Name, c.Assignment)
		}
	}
	return nil
}

// UserCharacter returns the first character assigned to the user, or nil.
func (s *Script) UserCharacter() *Character {
	return s.firstAssigned(AssignedUser)
}

// AICharacter returns the first character assigned to the AI, or nil.
func (s *Script) AICharacter() *Character {
	return s.firstAssigned(AssignedAI)
}

func (s *Script) firstAssigned(a Assignment) *Character {
	for i := range s.Characters {
		if s.Characters[i].Assignment == a {
			c := s.Characters[i]
			return &c
		}
	}
	return nil
}

// CharacterByID returns the character with the given ID, or nil.
func (s *Script) CharacterByID(id string) *Character {
	for i := range s.Characters {
		if s.Characters[i].ID == id {
			c := s.Characters[i]
			return &c
		}
	}
	return nil
}

// ReadyForRehearsal reports whether the recommended rehearsal setup is in
// place: at least one line, exactly one user-assigned character, and at least
// one AI-assigned character. It is advisory; callers may rehearse anyway.
func (s *Script) ReadyForRehearsal() bool {
	if len(s.Lines) == 0 {
		return false
	}
	var users, ais int
	for _, c := range s.Characters {
		switch c.Assignment {
		case AssignedUser:
			users++
		case AssignedAI:
			ais++
		}
	}
	return users == 1 && ais >= 1
}

// Clone returns a deep copy of the script. Stores hand out and accept clones
// so no caller ever holds a reference into shared store state.
func (s *Script) Clone() *Script {
	cp := *s
	cp.Characters = append([]Character(nil), s.Characters...)
	cp.Lines = append([]Line(nil), s.Lines...)
	return &cp
}

// NewID returns a random 16-byte hex identifier with the given prefix.
func NewID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("script: read random: %v", err))
	}
	return prefix + "-" + hex.EncodeToString(b)
}
