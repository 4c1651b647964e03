// internal/api/render.go
package api

import (
	"bytes"
	"html"
	"time"

	"github.com/yuin/goldmark"

	"github.com/Corphon/calligrapher/internal/services"
	"github.com/Corphon/calligrapher/internal/ui"
)

// PassageView is a passage ready for the browser.
type PassageView struct {
	Text  string   `json:"text"`
	HTML  string   `json:"html"`
	Style string   `json:"style"`
	Tags  []string `json:"tags,omitempty"`
}

// SessionView is the API form of a preview session.
type SessionView struct {
	ID        string        `json:"id"`
	Path      string        `json:"path"`
	Format    string        `json:"format"`
	Turn      int           `json:"turn"`
	Passages  []PassageView `json:"passages"`
	Choices   []string      `json:"choices"`
	Ended     bool          `json:"ended"`
	Fallback  bool          `json:"fallback,omitempty"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

var markdown = goldmark.New()

// renderText converts passage text to HTML. Passages from markdown stories
// go through goldmark, everything else is escaped into a paragraph.
func renderText(text string, markdownSource bool) string {
	if markdownSource {
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(text), &buf); err == nil {
			return buf.String()
		}
	}
	return "<p>" + html.EscapeString(text) + "</p>\n"
}

func newSessionView(snap *services.PreviewSnapshot) *SessionView {
	if snap == nil {
		return nil
	}
	view := &SessionView{
		ID:        snap.ID,
		Path:      snap.Path,
		Format:    string(snap.Format),
		Turn:      snap.Turn,
		Passages:  make([]PassageView, 0, len(snap.Passages)),
		Choices:   snap.Choices,
		Ended:     snap.Ended,
		Fallback:  snap.Fallback,
		Error:     snap.Error,
		UpdatedAt: snap.UpdatedAt,
	}
	if view.Choices == nil {
		view.Choices = []string{}
	}
	md := services.IsMarkdown(snap.Path)
	for _, p := range snap.Passages {
		view.Passages = append(view.Passages, PassageView{
			Text:  p.Text,
			HTML:  renderText(p.Text, md),
			Style: ui.StyleFor(p.Tags).String(),
			Tags:  p.Tags,
		})
	}
	return view
}
