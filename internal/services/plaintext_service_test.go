package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/models"
	"github.com/Corphon/calligrapher/internal/ui"
)

const forkStory = `=== start ===
You stand at a fork.
* [Go left] -> left
* [Go right] -> right

=== left ===
You find treasure.

=== right ===
A dragon.
`

type recordingSink struct {
	lines []string
}

func (s *recordingSink) ShowText(text string, _ []string) {
	s.lines = append(s.lines, text)
}

type mockPicker struct {
	mock.Mock
}

func (m *mockPicker) Choose(choices []string, opts ui.MenuOptions) (int, error) {
	args := m.Called(choices, opts)
	return args.Int(0), args.Error(1)
}

func mustParse(t *testing.T, src string) *models.PlainTextStory {
	t.Helper()
	story, err := ParsePlainText(strings.NewReader(src))
	require.NoError(t, err)
	return story
}

func TestParsePlainText(t *testing.T) {
	story := mustParse(t, "preamble is ignored\n"+forkStory)

	assert.Equal(t, []string{"start", "left", "right"}, story.Order)
	start, ok := story.Section("start")
	require.True(t, ok)
	assert.Equal(t, []string{"You stand at a fork."}, start.Narrative)
	assert.Equal(t, []models.PlainChoice{
		{Text: "Go left", Target: "left"},
		{Text: "Go right", Target: "right"},
	}, start.Choices)

	left, _ := story.Section("left")
	assert.Empty(t, left.Choices)
}

func TestParseChoiceLine(t *testing.T) {
	cases := []struct {
		line string
		want models.PlainChoice
		ok   bool
	}{
		{"* [Open the door] -> hall", models.PlainChoice{Text: "Open the door", Target: "hall"}, true},
		{"*   Run   away  ->   END", models.PlainChoice{Text: "Run away", Target: "END"}, true},
		{"* -> next", models.PlainChoice{Text: "next", Target: "next"}, true},
		{"* a bullet without arrow", models.PlainChoice{}, false},
		{"plain -> text", models.PlainChoice{}, false},
		{"* [x] -> two words", models.PlainChoice{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseChoiceLine(tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}
}

func TestParseRejectsDuplicateSection(t *testing.T) {
	_, err := ParsePlainText(strings.NewReader("=== a ===\nx\n=== a ===\ny\n"))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestFormatRoundTrip(t *testing.T) {
	sources := []string{
		forkStory,
		"=== start ===\n",
		"=== start ===\n  indented line  \n* bullet narrative\n*[a]->b\n=== b ===\n=== c ===\nend\n",
	}
	for _, src := range sources {
		first := mustParse(t, src)
		second := mustParse(t, first.Format())
		assert.Equal(t, first, second)
		assert.Equal(t, first.Format(), second.Format())
	}
}

func TestValidatePlainText(t *testing.T) {
	assert.NoError(t, ValidatePlainText(mustParse(t, forkStory)))

	err := ValidatePlainText(mustParse(t, "=== intro ===\n* [go] -> nowhere\n* [stop] -> DONE\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"start"`)
	assert.Contains(t, err.Error(), `"nowhere"`)
	assert.NotContains(t, err.Error(), "DONE")
}

func TestPlainTextPlayerFollowsChoice(t *testing.T) {
	sink := &recordingSink{}
	picker := &mockPicker{}
	picker.On("Choose", []string{"Go left", "Go right"}, ui.MenuOptions{}).Return(0, nil).Once()

	player := NewPlainTextPlayer(mustParse(t, forkStory), sink, picker)
	require.NoError(t, player.Play(context.Background()))

	assert.Equal(t, []string{"You stand at a fork.", "You find treasure."}, sink.lines)
	assert.Equal(t, []string{"start", "left"}, player.Visited())
	// left has no choices, so there is exactly one prompt
	picker.AssertNumberOfCalls(t, "Choose", 1)
}

func TestPlainTextPlayerQuit(t *testing.T) {
	sink := &recordingSink{}
	picker := &mockPicker{}
	picker.On("Choose", mock.Anything, mock.Anything).Return(ui.ChoiceQuit, nil)

	player := NewPlainTextPlayer(mustParse(t, forkStory), sink, picker)
	require.NoError(t, player.Play(context.Background()))
	assert.Equal(t, []string{"start"}, player.Visited())
	assert.Equal(t, []string{"You stand at a fork."}, sink.lines)
}

func TestPlainTextPlayerWithTerminalOffersQuit(t *testing.T) {
	var out strings.Builder
	term := ui.NewTerminal(strings.NewReader("2\n"), &out)

	player := NewPlainTextPlayer(mustParse(t, forkStory), term, term)
	require.NoError(t, player.Play(context.Background()))

	assert.Contains(t, out.String(), "1) Go left")
	assert.Contains(t, out.String(), "2) Go right")
	assert.Contains(t, out.String(), "3) Quit")
	assert.NotContains(t, out.String(), "Save game")
	assert.Contains(t, out.String(), "A dragon.")
}

func TestPlainTextPlayerUnresolvedTarget(t *testing.T) {
	sink := &recordingSink{}
	picker := &mockPicker{}
	picker.On("Choose", mock.Anything, mock.Anything).Return(0, nil)

	story := mustParse(t, "=== start ===\nHello.\n* [Onward] -> missing\n")
	err := NewPlainTextPlayer(story, sink, picker).Play(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsUnresolvedTargetError(err))
	assert.Equal(t, []string{"Hello."}, sink.lines)
}

func TestPlainTextPlayerEndTarget(t *testing.T) {
	picker := &mockPicker{}
	picker.On("Choose", mock.Anything, mock.Anything).Return(0, nil)

	story := mustParse(t, "=== start ===\nBye.\n* [Leave] -> END\n")
	player := NewPlainTextPlayer(story, &recordingSink{}, picker)
	require.NoError(t, player.Play(context.Background()))
	assert.Equal(t, []string{"start"}, player.Visited())
}

func TestPlainTextPlayerMissingStart(t *testing.T) {
	story := mustParse(t, "=== intro ===\nHi.\n")
	err := NewPlainTextPlayer(story, &recordingSink{}, &mockPicker{}).Play(context.Background())
	assert.True(t, apperrors.IsUnresolvedTargetError(err))
}

func TestPlainTextCursor(t *testing.T) {
	c := NewPlainTextCursor(mustParse(t, forkStory))

	sec, err := c.Start()
	require.NoError(t, err)
	assert.Equal(t, []string{"Go left", "Go right"}, ChoiceLabels(sec))

	_, err = c.Follow(5)
	assert.True(t, apperrors.IsValidationError(err))

	sec, err = c.Follow(1)
	require.NoError(t, err)
	assert.Equal(t, "right", sec.Name)
	assert.Equal(t, "right", c.Current())
	assert.Equal(t, []string{"start", "right"}, c.Visited)
}
