// internal/models/story.go
package models

import (
	"fmt"
	"strings"
	"time"
)

// StoryFormat is how an input file is played.
type StoryFormat string

const (
	// FormatCompiledJSON is a compiled Ink story consumed by the narrative engine.
	FormatCompiledJSON StoryFormat = "compiled-json"
	// FormatInkSource needs the external compiler before it can be played.
	FormatInkSource StoryFormat = "ink-source"
	// FormatPlainText is played by the built-in fallback interpreter.
	FormatPlainText StoryFormat = "plain-text"
)

// Passage is one unit of displayable text together with its tags.
type Passage struct {
	Text string   `json:"text"`
	Tags []string `json:"tags,omitempty"`
}

// StoryState is what the presenter shows for the current turn.
type StoryState struct {
	Text        string   `json:"text"`
	Choices     []string `json:"choices"`
	CanContinue bool     `json:"can_continue"`
	Tags        []string `json:"tags,omitempty"`
}

// IsTerminal reports a state with nothing left to produce or choose.
func (s StoryState) IsTerminal() bool {
	return len(s.Choices) == 0 && !s.CanContinue
}

// SaveFormatVersion is written into every SaveRecord.
const SaveFormatVersion = "1"

// SaveRecord is the content of a save file.
type SaveRecord struct {
	Version    string    `json:"version"`
	SavedAt    time.Time `json:"savedAt"`
	Story      string    `json:"story"` // compiled story source, opaque
	State      string    `json:"state"` // engine-serialized state, opaque
	SourcePath string    `json:"sourcePath,omitempty"`
}

// PlainChoice is an extracted `* [label] -> target` line.
type PlainChoice struct {
	Text   string `json:"text"`
	Target string `json:"target"`
}

// Section is one named part of a plain-text story.
type Section struct {
	Name string `json:"name"`
	// Content keeps every non-empty line in file order; Narrative and Choices are derived from it.
	Content   []string      `json:"content"`
	Narrative []string      `json:"narrative"`
	Choices   []PlainChoice `json:"choices"`
}

// PlainTextStory is built once from a source file and never mutated afterwards.
type PlainTextStory struct {
	Sections map[string]*Section `json:"sections"`
	Order    []string            `json:"order"`
}

// Section looks up a section by name.
func (s *PlainTextStory) Section(name string) (*Section, bool) {
	if s == nil || s.Sections == nil {
		return nil, false
	}
	sec, ok := s.Sections[name]
	return sec, ok
}

// Format writes the story back in source form. Parsing the result yields the
// same sections.
func (s *PlainTextStory) Format() string {
	var b strings.Builder
	for i, name := range s.Order {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "=== %s ===\n", name)
		for _, line := range s.Sections[name].Content {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}
