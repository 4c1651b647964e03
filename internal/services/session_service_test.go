package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/calligrapher/internal/engine"
	"github.com/Corphon/calligrapher/internal/engine/enginetest"
	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/models"
	"github.com/Corphon/calligrapher/internal/storage"
)

var caveScript = enginetest.Script{
	"start": {
		Lines: []enginetest.Line{
			{Text: "The Cave", Tags: []string{"title"}},
			{Text: "Water drips somewhere.", Tags: []string{"scene"}},
		},
		Choices: []enginetest.Choice{
			{Label: "Go deeper", Target: "deep"},
			{Label: "Leave", Target: "outside"},
		},
	},
	"deep": {
		Lines: []enginetest.Line{
			{Text: "A goblin attacks!", Tags: []string{"combat"}},
			{Text: "Who goes there?", Tags: []string{"dialog"}},
		},
		Choices: []enginetest.Choice{{Label: "Fight", Target: "outside"}},
	},
	"outside": {
		Lines: []enginetest.Line{{Text: "Sunlight."}},
	},
}

func texts(passages []models.Passage) []string {
	out := make([]string, len(passages))
	for i, p := range passages {
		out[i] = p.Text
	}
	return out
}

func loadedSession(t *testing.T) *SessionService {
	t.Helper()
	s := NewSessionService(enginetest.Loader)
	require.NoError(t, s.Load(context.Background(), caveScript.Compile()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := NewSessionService(enginetest.Loader)
	assert.Equal(t, DriverIdle, s.State())
	assert.False(t, s.Active())

	require.NoError(t, s.Load(context.Background(), caveScript.Compile()))
	assert.Equal(t, DriverAdvancing, s.State())

	passages, err := s.Advance()
	require.NoError(t, err)
	assert.Equal(t, []string{"The Cave", "Water drips somewhere."}, texts(passages))
	assert.Equal(t, []string{"title"}, passages[0].Tags)
	assert.Equal(t, DriverAwaitingChoice, s.State())

	st := s.StoryState()
	assert.Equal(t, []string{"Go deeper", "Leave"}, st.Choices)
	assert.Equal(t, "Water drips somewhere.", st.Text)
	assert.False(t, st.IsTerminal())

	require.NoError(t, s.Choose(1))
	assert.Equal(t, DriverAdvancing, s.State())

	passages, err = s.Advance()
	require.NoError(t, err)
	assert.Equal(t, []string{"Sunlight."}, texts(passages))
	assert.True(t, s.Ended())
	assert.True(t, s.StoryState().IsTerminal())

	_, err = s.Advance()
	assert.True(t, apperrors.IsValidationError(err))
	require.NoError(t, s.Close())
	assert.False(t, s.Active())
}

func TestSessionChooseValidation(t *testing.T) {
	s := loadedSession(t)

	// still advancing
	assert.True(t, apperrors.IsValidationError(s.Choose(0)))

	_, err := s.Advance()
	require.NoError(t, err)
	assert.True(t, apperrors.IsValidationError(s.Choose(2)))
	assert.True(t, apperrors.IsValidationError(s.Choose(-1)))
	assert.NoError(t, s.Choose(0))
}

func TestSessionWithoutEngine(t *testing.T) {
	err := NewSessionService(nil).Load(context.Background(), "{}")
	assert.True(t, apperrors.IsEngineUnavailableError(err))
}

func TestSessionLoadClosesPrevious(t *testing.T) {
	var stories []*enginetest.Story
	loader := engine.LoaderFunc(func(ctx context.Context, src string) (engine.Story, error) {
		st, err := enginetest.Loader.Load(ctx, src)
		if err == nil {
			stories = append(stories, st.(*enginetest.Story))
		}
		return st, err
	})

	s := NewSessionService(loader)
	require.NoError(t, s.Load(context.Background(), caveScript.Compile()))
	require.NoError(t, s.Load(context.Background(), caveScript.Compile()))
	require.Len(t, stories, 2)
	assert.True(t, stories[0].Closed)
	assert.False(t, stories[1].Closed)

	require.NoError(t, s.Close())
	assert.True(t, stories[1].Closed)
}

func newPersistence(t *testing.T) (*PersistenceService, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	p := NewPersistenceService(fs)
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return p, dir
}

func TestSaveRestoreReproducesNextAdvance(t *testing.T) {
	p, dir := newPersistence(t)

	original := loadedSession(t)
	_, err := original.Advance()
	require.NoError(t, err)
	require.NoError(t, original.Choose(0))

	require.NoError(t, p.Save(original, "cave.ink", "cave.save.json"))

	data, err := os.ReadFile(filepath.Join(dir, "cave.save.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"savedAt": "2026-01-02T03:04:05Z"`)
	assert.Contains(t, string(data), `"version": "1"`)

	restored := NewSessionService(enginetest.Loader)
	t.Cleanup(func() { restored.Close() })
	record, err := p.Restore(context.Background(), restored, "cave.save.json")
	require.NoError(t, err)
	assert.Equal(t, "cave.ink", record.SourcePath)
	assert.Equal(t, DriverAdvancing, restored.State())

	want, err := original.Advance()
	require.NoError(t, err)
	got, err := restored.Advance()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, original.StoryState().Choices, restored.StoryState().Choices)
}

func TestSaveAtChoicePreservesChoiceList(t *testing.T) {
	p, _ := newPersistence(t)

	original := loadedSession(t)
	_, err := original.Advance()
	require.NoError(t, err)
	require.NoError(t, p.Save(original, "", "at-choice.json"))

	restored := NewSessionService(enginetest.Loader)
	t.Cleanup(func() { restored.Close() })
	_, err = p.Restore(context.Background(), restored, "at-choice.json")
	require.NoError(t, err)

	passages, err := restored.Advance()
	require.NoError(t, err)
	assert.Empty(t, passages)
	assert.Equal(t, []string{"Go deeper", "Leave"}, restored.StoryState().Choices)
}

func TestSaveRequiresActiveStory(t *testing.T) {
	p, _ := newPersistence(t)
	err := p.Save(NewSessionService(enginetest.Loader), "", "x.json")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestSaveWriteFailureIsReported(t *testing.T) {
	p, dir := newPersistence(t)
	s := loadedSession(t)

	// a directory in the way of the target file
	target := filepath.Join(dir, "blocked")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "child"), 0755))

	err := p.Save(s, "", "blocked")
	require.Error(t, err)
	assert.True(t, s.Active(), "session continues after a failed save")
}

func TestRestoreInvalidSaveFiles(t *testing.T) {
	p, dir := newPersistence(t)
	write := func(name, content string) string {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
		return name
	}

	cases := map[string]string{
		"garbage.json":    "not json",
		"missing.json":    `{"version":"1","savedAt":"2026-01-02T03:04:05Z","story":"{}"}`,
		"wrongtype.json":  `{"version":"1","savedAt":"2026-01-02T03:04:05Z","story":"{}","state":42}`,
		"badversion.json": `{"version":"9","savedAt":"2026-01-02T03:04:05Z","story":"{}","state":"{}"}`,
		"badtime.json":    `{"version":"1","savedAt":"yesterday","story":"{}","state":"{}"}`,
	}
	for name, content := range cases {
		_, err := p.Restore(context.Background(), NewSessionService(enginetest.Loader), write(name, content))
		assert.True(t, apperrors.IsInvalidSaveFileError(err), name)
		assert.Equal(t, 4, apperrors.ExitCode(err), name)
	}

	_, err := p.Restore(context.Background(), NewSessionService(enginetest.Loader), "absent.json")
	assert.True(t, apperrors.IsFileNotFoundError(err))
}

func TestRestoreFailedOnBadState(t *testing.T) {
	p, dir := newPersistence(t)

	content := `{"version":"1","savedAt":"2026-01-02T03:04:05Z","story":` +
		jsonString(caveScript.Compile()) + `,"state":"{\"knot\":\"nowhere\"}"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(content), 0644))

	s := NewSessionService(enginetest.Loader)
	_, err := p.Restore(context.Background(), s, "bad.json")
	assert.True(t, apperrors.IsRestoreFailedError(err))
	assert.False(t, s.Active())

	content = `{"version":"1","savedAt":"2026-01-02T03:04:05Z","story":"{}","state":"{}"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nostart.json"), []byte(content), 0644))
	_, err = p.Restore(context.Background(), s, "nostart.json")
	assert.True(t, apperrors.IsRestoreFailedError(err))
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
