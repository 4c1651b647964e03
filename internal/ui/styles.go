// internal/ui/styles.go
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Style is the single presentation rule applied to a text unit.
type Style int

const (
	StylePlain Style = iota
	StyleTitle
	StyleScene
	StyleCombat
	StyleDialog
)

func (s Style) String() string {
	switch s {
	case StyleTitle:
		return "title"
	case StyleScene:
		return "scene"
	case StyleCombat:
		return "combat"
	case StyleDialog:
		return "dialog"
	default:
		return "plain"
	}
}

// tagPriority is checked in order; the first tag present wins.
var tagPriority = []struct {
	tag   string
	style Style
}{
	{"title", StyleTitle},
	{"scene", StyleScene},
	{"combat", StyleCombat},
	{"dialog", StyleDialog},
}

// StyleFor picks the style for a set of tags by exact match.
func StyleFor(tags []string) Style {
	present := make(map[string]bool, len(tags))
	for _, tag := range tags {
		present[strings.TrimSpace(tag)] = true
	}
	for _, rule := range tagPriority {
		if present[rule.tag] {
			return rule.style
		}
	}
	return StylePlain
}

// Theme holds the lipgloss styles for every presentation rule.
type Theme struct {
	Title   lipgloss.Style
	Scene   lipgloss.Style
	Combat  lipgloss.Style
	Dialog  lipgloss.Style
	Plain   lipgloss.Style
	Menu    lipgloss.Style
	Meta    lipgloss.Style
	Warning lipgloss.Style
}

// DefaultTheme is the standard terminal theme. Styles are bound to r so color detection
// follows the writer the terminal prints to.
func DefaultTheme(r *lipgloss.Renderer) Theme {
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	return Theme{
		Title:   r.NewStyle().Bold(true).Underline(true).Foreground(lipgloss.Color("205")),
		Scene:   r.NewStyle().Border(lipgloss.NormalBorder(), true, false).Foreground(lipgloss.Color("63")),
		Combat:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		Dialog:  r.NewStyle().Italic(true).Foreground(lipgloss.Color("229")),
		Plain:   r.NewStyle(),
		Menu:    r.NewStyle().Foreground(lipgloss.Color("39")),
		Meta:    r.NewStyle().Faint(true),
		Warning: r.NewStyle().Foreground(lipgloss.Color("214")),
	}
}

// combatMarker prefixes combat text.
const combatMarker = "⚔ "

// Render applies one style to text.
func (t Theme) Render(style Style, text string) string {
	switch style {
	case StyleTitle:
		return t.Title.Render(strings.ToUpper(text))
	case StyleScene:
		return t.Scene.Render(text)
	case StyleCombat:
		return t.Combat.Render(combatMarker + text)
	case StyleDialog:
		return t.Dialog.Render("“" + strings.Trim(text, "\"“”") + "”")
	default:
		return t.Plain.Render(text)
	}
}
