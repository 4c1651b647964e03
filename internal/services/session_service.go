// internal/services/session_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Corphon/calligrapher/internal/engine"
	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/models"
	"github.com/Corphon/calligrapher/internal/utils"
)

// DriverState is the play-loop phase of a session.
type DriverState int

const (
	DriverIdle DriverState = iota
	DriverAdvancing
	DriverAwaitingChoice
)

func (s DriverState) String() string {
	switch s {
	case DriverAdvancing:
		return "advancing"
	case DriverAwaitingChoice:
		return "awaiting-choice"
	default:
		return "idle"
	}
}

// SessionService drives one engine story. It owns the story handle and is
// the only component that touches it.
type SessionService struct {
	loader engine.Loader

	mu       sync.Mutex
	story    engine.Story
	source   string
	state    DriverState
	lastText string
	lastTags []string
	choices  []string

	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// NewSessionService creates an idle driver over loader.
func NewSessionService(loader engine.Loader) *SessionService {
	return &SessionService{
		loader:  loader,
		logger:  utils.GetLogger(),
		metrics: utils.GetMetricsCollector(),
	}
}

// Load instantiates the compiled story and moves to Advancing. A previously
// loaded story is closed first.
func (s *SessionService) Load(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, source)
}

func (s *SessionService) loadLocked(ctx context.Context, source string) error {
	if s.loader == nil {
		return apperrors.NewEngineUnavailableError("no narrative engine configured", nil)
	}
	story, err := s.loader.Load(ctx, source)
	if err != nil {
		if apperrors.TypeOf(err) != "" {
			return err
		}
		return apperrors.NewProcessingError("load story", err)
	}

	s.closeLocked()
	s.story = story
	s.source = source
	s.state = DriverAdvancing
	s.lastText, s.lastTags, s.choices = "", nil, nil
	s.metrics.SessionOpened()
	return nil
}

// Resume loads source and applies a serialized engine state.
func (s *SessionService) Resume(ctx context.Context, source, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx, source); err != nil {
		return err
	}
	if err := s.story.LoadState(state); err != nil {
		s.closeLocked()
		return apperrors.NewProcessingError("apply saved state", err)
	}
	return nil
}

// Advance continues the story until it needs a choice or ends, returning the
// produced text units with their tags.
func (s *SessionService) Advance() ([]models.Passage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.story == nil {
		return nil, apperrors.NewValidationError("no story loaded", nil)
	}
	if s.state == DriverAwaitingChoice {
		return nil, nil
	}
	if s.state == DriverIdle {
		return nil, apperrors.NewValidationError("story has ended", nil)
	}

	var passages []models.Passage
	for s.story.CanContinue() {
		text, err := s.story.Continue()
		if err != nil {
			return passages, apperrors.NewProcessingError("continue story", err)
		}
		p := models.Passage{Text: strings.TrimRight(text, "\n"), Tags: s.story.CurrentTags()}
		passages = append(passages, p)
		s.lastText, s.lastTags = p.Text, p.Tags
		s.metrics.RecordTurn()
	}

	s.choices = s.story.CurrentChoices()
	if len(s.choices) > 0 {
		s.state = DriverAwaitingChoice
	} else {
		s.state = DriverIdle
		s.logger.Debug("story reached its end", nil)
	}
	return passages, nil
}

// Choose applies a choice; valid only while awaiting one.
func (s *SessionService) Choose(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.story == nil || s.state != DriverAwaitingChoice {
		return apperrors.NewValidationError("no choice is pending", nil)
	}
	if index < 0 || index >= len(s.choices) {
		return apperrors.NewValidationError(
			fmt.Sprintf("choice %d out of range [0,%d)", index, len(s.choices)), nil)
	}
	if err := s.story.ChooseChoiceIndex(index); err != nil {
		return apperrors.NewProcessingError("choose", err)
	}
	s.metrics.RecordChoice("story")
	s.state = DriverAdvancing
	s.choices = nil
	return nil
}

// StoryState snapshots what the presenter needs.
func (s *SessionService) StoryState() models.StoryState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := models.StoryState{
		Text:    s.lastText,
		Choices: append([]string(nil), s.choices...),
		Tags:    append([]string(nil), s.lastTags...),
	}
	if s.story != nil {
		st.CanContinue = s.story.CanContinue()
	}
	return st
}

// SaveState serializes the engine state of the active story.
func (s *SessionService) SaveState() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.story == nil {
		return "", apperrors.NewValidationError("no active story to save", nil)
	}
	return s.story.SaveState()
}

func (s *SessionService) State() DriverState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether an engine story is loaded.
func (s *SessionService) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.story != nil
}

// Ended reports a loaded story that has nothing left to produce or choose.
func (s *SessionService) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.story != nil && s.state == DriverIdle
}

// Source returns the compiled story the session was loaded from.
func (s *SessionService) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Close releases the engine handle.
func (s *SessionService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *SessionService) closeLocked() error {
	if s.story == nil {
		return nil
	}
	err := s.story.Close()
	s.story = nil
	s.state = DriverIdle
	s.choices = nil
	s.metrics.SessionClosed()
	return err
}
