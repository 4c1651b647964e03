// internal/services/plaintext_service.go
package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/models"
	"github.com/Corphon/calligrapher/internal/ui"
	"github.com/Corphon/calligrapher/internal/utils"
)

// StartSection is where every plain-text playthrough begins.
const StartSection = "start"

// Targets that end a playthrough without naming a section.
var endTargets = map[string]bool{"END": true, "DONE": true}

var sectionMarker = regexp.MustCompile(`^===\s*(.*?)\s*===$`)

// ParseSectionMarker returns the section name of a `=== name ===` line.
func ParseSectionMarker(line string) (string, bool) {
	m := sectionMarker.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// ParseChoiceLine extracts the label and target of a `* [label] -> target` line.
func ParseChoiceLine(line string) (models.PlainChoice, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "*") {
		return models.PlainChoice{}, false
	}
	arrow := strings.LastIndex(line, "->")
	if arrow < 0 {
		return models.PlainChoice{}, false
	}
	target := strings.TrimSpace(line[arrow+2:])
	if target == "" || strings.ContainsAny(target, " \t") {
		return models.PlainChoice{}, false
	}

	text := strings.TrimLeft(line[:arrow], "* \t")
	text = strings.NewReplacer("[", "", "]", "").Replace(text)
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		text = target
	}
	return models.PlainChoice{Text: text, Target: target}, true
}

// ParsePlainText builds the section map. Lines before the first section
// marker are ignored.
func ParsePlainText(r io.Reader) (*models.PlainTextStory, error) {
	story := &models.PlainTextStory{Sections: make(map[string]*models.Section)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current *models.Section
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if name, ok := ParseSectionMarker(line); ok {
			if _, dup := story.Sections[name]; dup {
				return nil, apperrors.NewValidationError(
					fmt.Sprintf("line %d: section %q defined twice", lineNo, name), nil)
			}
			current = &models.Section{Name: name}
			story.Sections[name] = current
			story.Order = append(story.Order, name)
			continue
		}
		if current == nil {
			continue
		}

		current.Content = append(current.Content, line)
		if choice, ok := ParseChoiceLine(line); ok {
			current.Choices = append(current.Choices, choice)
		} else {
			current.Narrative = append(current.Narrative, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.NewProcessingError("read plain-text story", err)
	}
	return story, nil
}

// LoadPlainTextFile parses the story at path.
func LoadPlainTextFile(path string) (*models.PlainTextStory, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewFileNotFoundError(path, err)
		}
		return nil, apperrors.NewProcessingError("open plain-text story", err)
	}
	defer f.Close()
	return ParsePlainText(f)
}

// ValidatePlainText reports a missing start section and every choice whose
// target is unknown.
func ValidatePlainText(story *models.PlainTextStory) error {
	var errs []error
	if _, ok := story.Section(StartSection); !ok {
		errs = append(errs, apperrors.NewUnresolvedTargetError("", StartSection))
	}
	for _, name := range story.Order {
		for _, choice := range story.Sections[name].Choices {
			if endTargets[choice.Target] {
				continue
			}
			if _, ok := story.Section(choice.Target); !ok {
				errs = append(errs, apperrors.NewUnresolvedTargetError(name, choice.Target))
			}
		}
	}
	return errors.Join(errs...)
}

// TextSink receives displayable text.
type TextSink interface {
	ShowText(text string, tags []string)
}

// ChoicePicker returns a choice index or one of the ui sentinels.
type ChoicePicker interface {
	Choose(choices []string, opts ui.MenuOptions) (int, error)
}

// PlainTextCursor walks a plain-text story one section at a time.
type PlainTextCursor struct {
	story   *models.PlainTextStory
	current string

	// Visited records section names in play order.
	Visited []string
}

// NewPlainTextCursor creates a cursor at the start of story.
func NewPlainTextCursor(story *models.PlainTextStory) *PlainTextCursor {
	return &PlainTextCursor{story: story}
}

// Start enters the start section.
func (c *PlainTextCursor) Start() (*models.Section, error) {
	c.current, c.Visited = "", nil
	return c.Enter(StartSection)
}

// Enter moves to target. END and DONE return a nil section; an unknown
// target returns UnresolvedSectionTarget and leaves the cursor in place.
func (c *PlainTextCursor) Enter(target string) (*models.Section, error) {
	if endTargets[target] {
		c.current = target
		return nil, nil
	}
	section, ok := c.story.Section(target)
	if !ok {
		return nil, apperrors.NewUnresolvedTargetError(c.current, target)
	}
	c.current = target
	c.Visited = append(c.Visited, target)
	return section, nil
}

// Follow takes choice index of the current section.
func (c *PlainTextCursor) Follow(index int) (*models.Section, error) {
	section, ok := c.story.Section(c.current)
	if !ok {
		return nil, apperrors.NewValidationError("no section is active", nil)
	}
	if index < 0 || index >= len(section.Choices) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("choice %d out of range [0,%d)", index, len(section.Choices)), nil)
	}
	return c.Enter(section.Choices[index].Target)
}

// Current returns the active section name.
func (c *PlainTextCursor) Current() string { return c.current }

// ChoiceLabels returns the display text of a section's choices.
func ChoiceLabels(section *models.Section) []string {
	if section == nil {
		return nil
	}
	labels := make([]string, len(section.Choices))
	for i, choice := range section.Choices {
		labels[i] = choice.Text
	}
	return labels
}

// PlainTextPlayer runs the fallback read-print-choose loop.
type PlainTextPlayer struct {
	cursor  *PlainTextCursor
	out     TextSink
	picker  ChoicePicker
	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// NewPlainTextPlayer creates a terminal player for story.
func NewPlainTextPlayer(story *models.PlainTextStory, out TextSink, picker ChoicePicker) *PlainTextPlayer {
	return &PlainTextPlayer{
		cursor:  NewPlainTextCursor(story),
		out:     out,
		picker:  picker,
		logger:  utils.GetLogger(),
		metrics: utils.GetMetricsCollector(),
	}
}

// Visited returns the sections entered so far.
func (p *PlainTextPlayer) Visited() []string { return p.cursor.Visited }

// Play starts at the start section and returns nil on a terminal section or
// Quit. An unknown section stops the playthrough with UnresolvedSectionTarget.
func (p *PlainTextPlayer) Play(ctx context.Context) error {
	section, err := p.cursor.Start()
	for {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if section == nil {
			return nil
		}

		for _, line := range section.Narrative {
			p.out.ShowText(line, nil)
			p.metrics.RecordTurn()
		}
		if len(section.Choices) == 0 {
			p.logger.Debug("terminal section reached", map[string]interface{}{"section": section.Name})
			return nil
		}

		idx, chooseErr := p.picker.Choose(ChoiceLabels(section), ui.MenuOptions{})
		if chooseErr != nil {
			return chooseErr
		}
		if idx == ui.ChoiceQuit {
			p.metrics.RecordChoice("quit")
			return nil
		}
		p.metrics.RecordChoice("story")
		section, err = p.cursor.Follow(idx)
	}
}
