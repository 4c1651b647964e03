// internal/ui/terminal.go
package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/Corphon/calligrapher/internal/models"
)

// Menu sentinels returned by Choose for entries outside the story's choices.
const (
	ChoiceQuit = -1
	ChoiceSave = -2
)

const (
	labelSave = "Save game"
	labelQuit = "Quit"
)

// MenuOptions controls the extra menu entries.
type MenuOptions struct {
	// AllowSave adds "Save game" (only during engine play with saving enabled).
	AllowSave bool
}

// MenuLabels returns the full menu: story choices, then Save game, then Quit.
func MenuLabels(choices []string, opts MenuOptions) []string {
	labels := make([]string, 0, len(choices)+2)
	labels = append(labels, choices...)
	if opts.AllowSave {
		labels = append(labels, labelSave)
	}
	return append(labels, labelQuit)
}

// ResolveSelection maps a 0-based menu position to a choice index or sentinel.
func ResolveSelection(position, choiceCount int, opts MenuOptions) (int, bool) {
	total := choiceCount + 1
	if opts.AllowSave {
		total++
	}
	switch {
	case position < 0 || position >= total:
		return 0, false
	case position < choiceCount:
		return position, true
	case opts.AllowSave && position == choiceCount:
		return ChoiceSave, true
	default:
		return ChoiceQuit, true
	}
}

// Terminal renders story text and menus and reads the player's answers.
type Terminal struct {
	in     *bufio.Reader
	out    io.Writer
	theme  Theme
	silent bool

	markdown *glamour.TermRenderer
}

// NewTerminal creates a presenter over in and out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:    bufio.NewReader(in),
		out:   out,
		theme: DefaultTheme(lipgloss.NewRenderer(out)),
	}
}

// SetSilent suppresses notices; story text and menus are still shown.
func (t *Terminal) SetSilent(silent bool) { t.silent = silent }

// EnableMarkdown renders plain narrative through glamour (used for .md adventures).
func (t *Terminal) EnableMarkdown() error {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
	if err != nil {
		return fmt.Errorf("markdown renderer: %w", err)
	}
	t.markdown = r
	return nil
}

// ShowText renders one text unit with the style chosen by its tags.
func (t *Terminal) ShowText(text string, tags []string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	style := StyleFor(tags)
	if style == StylePlain && t.markdown != nil {
		if rendered, err := t.markdown.Render(text); err == nil {
			fmt.Fprint(t.out, strings.TrimRight(rendered, "\n")+"\n")
			return
		}
	}
	fmt.Fprintln(t.out, t.theme.Render(style, text))
}

// ShowPassage is ShowText for a models.Passage.
func (t *Terminal) ShowPassage(p models.Passage) {
	t.ShowText(p.Text, p.Tags)
}

// Notice prints a dim informational line unless silent.
func (t *Terminal) Notice(format string, args ...interface{}) {
	if t.silent {
		return
	}
	fmt.Fprintln(t.out, t.theme.Meta.Render(fmt.Sprintf(format, args...)))
}

// Warn prints a warning line; warnings are shown even when silent.
func (t *Terminal) Warn(format string, args ...interface{}) {
	fmt.Fprintln(t.out, t.theme.Warning.Render("warning: "+fmt.Sprintf(format, args...)))
}

// Choose shows the menu and returns a story choice index, ChoiceSave or
// ChoiceQuit. End of input counts as Quit.
func (t *Terminal) Choose(choices []string, opts MenuOptions) (int, error) {
	labels := MenuLabels(choices, opts)

	fmt.Fprintln(t.out)
	for i, label := range labels {
		fmt.Fprintln(t.out, t.theme.Menu.Render(fmt.Sprintf("%d) %s", i+1, label)))
	}

	for {
		fmt.Fprint(t.out, "> ")
		line, err := t.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return ChoiceQuit, fmt.Errorf("read selection: %w", err)
		}
		answer := strings.TrimSpace(line)
		if answer == "" && errors.Is(err, io.EOF) {
			fmt.Fprintln(t.out)
			return ChoiceQuit, nil
		}

		switch strings.ToLower(answer) {
		case "q", "quit":
			return ChoiceQuit, nil
		case "s", "save":
			if opts.AllowSave {
				return ChoiceSave, nil
			}
		}

		if n, convErr := strconv.Atoi(answer); convErr == nil {
			if selection, ok := ResolveSelection(n-1, len(choices), opts); ok {
				return selection, nil
			}
		}
		fmt.Fprintf(t.out, "Please enter a number between 1 and %d.\n", len(labels))
		if errors.Is(err, io.EOF) {
			return ChoiceQuit, nil
		}
	}
}

// PromptPath asks for a file path, returning def for an empty answer.
func (t *Terminal) PromptPath(label, def string) (string, error) {
	fmt.Fprintf(t.out, "%s [%s]: ", label, def)
	line, err := t.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read path: %w", err)
	}
	if answer := strings.TrimSpace(line); answer != "" {
		return answer, nil
	}
	return def, nil
}
