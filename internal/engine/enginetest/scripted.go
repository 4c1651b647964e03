// Package enginetest provides an in-memory engine.Story for tests. Its
// "compiled source" is a JSON script of knots, so save/restore round trips can
// be exercised without an external runtime.
package enginetest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Corphon/calligrapher/internal/engine"
)

// Line is one text unit.
type Line struct {
	Text string   `json:"text"`
	Tags []string `json:"tags,omitempty"`
}

// Choice leads to another knot.
type Choice struct {
	Label  string `json:"label"`
	Target string `json:"target"`
}

// Knot is a block of lines followed by choices.
type Knot struct {
	Lines   []Line   `json:"lines"`
	Choices []Choice `json:"choices,omitempty"`
}

// Script maps knot names to knots; play starts at "start".
type Script map[string]Knot

// Compile returns the JSON form of s, the source the Loader accepts.
func (s Script) Compile() string {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return string(b)
}

type position struct {
	Knot string   `json:"knot"`
	Line int      `json:"line"`
	Tags []string `json:"tags,omitempty"`
}

// Story implements engine.Story over a Script.
type Story struct {
	script Script
	pos    position
	Closed bool
}

// New starts a story at the "start" knot.
func New(script Script) *Story {
	return &Story{script: script, pos: position{Knot: "start"}}
}

// Loader parses Script JSON.
var Loader = engine.LoaderFunc(func(_ context.Context, compiled string) (engine.Story, error) {
	var script Script
	if err := json.Unmarshal([]byte(compiled), &script); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if _, ok := script["start"]; !ok {
		return nil, fmt.Errorf("script has no start knot")
	}
	return New(script), nil
})

func (s *Story) knot() Knot { return s.script[s.pos.Knot] }

func (s *Story) CanContinue() bool {
	return s.pos.Line < len(s.knot().Lines)
}

func (s *Story) Continue() (string, error) {
	if !s.CanContinue() {
		return "", fmt.Errorf("cannot continue")
	}
	line := s.knot().Lines[s.pos.Line]
	s.pos.Line++
	s.pos.Tags = append([]string(nil), line.Tags...)
	return line.Text, nil
}

func (s *Story) CurrentChoices() []string {
	if s.CanContinue() {
		return nil
	}
	var labels []string
	for _, c := range s.knot().Choices {
		labels = append(labels, c.Label)
	}
	return labels
}

func (s *Story) ChooseChoiceIndex(index int) error {
	choices := s.knot().Choices
	if s.CanContinue() || index < 0 || index >= len(choices) {
		return fmt.Errorf("choice %d out of range", index)
	}
	target := choices[index].Target
	if _, ok := s.script[target]; !ok {
		return fmt.Errorf("unknown knot %q", target)
	}
	s.pos = position{Knot: target}
	return nil
}

func (s *Story) CurrentTags() []string {
	return append([]string(nil), s.pos.Tags...)
}

func (s *Story) SaveState() (string, error) {
	b, err := json.Marshal(s.pos)
	return string(b), err
}

func (s *Story) LoadState(state string) error {
	var pos position
	if err := json.Unmarshal([]byte(state), &pos); err != nil {
		return fmt.Errorf("parse state: %w", err)
	}
	if _, ok := s.script[pos.Knot]; !ok {
		return fmt.Errorf("unknown knot %q", pos.Knot)
	}
	s.pos = pos
	return nil
}

func (s *Story) Close() error {
	s.Closed = true
	return nil
}
