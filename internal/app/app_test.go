package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Corphon/calligrapher/internal/config"
	"github.com/Corphon/calligrapher/internal/engine/enginetest"
	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/utils"
)

const forkStory = `=== start ===
You stand at a fork.
* [Go left] -> left
* [Go right] -> cellar

=== left ===
You find treasure.
`

var caveScript = enginetest.Script{
	"start": {
		Lines: []enginetest.Line{{Text: "The Cave", Tags: []string{"title"}}},
		Choices: []enginetest.Choice{
			{Label: "Go deeper", Target: "deep"},
			{Label: "Leave", Target: "outside"},
		},
	},
	"deep": {
		Lines:   []enginetest.Line{{Text: "A goblin attacks!", Tags: []string{"combat"}}},
		Choices: []enginetest.Choice{{Label: "Fight", Target: "outside"}},
	},
	"outside": {
		Lines: []enginetest.Line{{Text: "Sunlight."}},
	},
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		CompilerPath:   filepath.Join(dir, "no-inklecate"),
		CompileTimeout: time.Second,
		WatchInterval:  20 * time.Millisecond,
		SaveDir:        dir,
		ToolDir:        dir,
		HomeDir:        dir,
	}
}

func newTestApp(t *testing.T, input string, opts Options) (*App, *bytes.Buffer) {
	t.Helper()
	return newTestAppWithConfig(t, testConfig(t), input, opts)
}

func newTestAppWithConfig(t *testing.T, cfg *config.Config, input string, opts Options) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts.In = strings.NewReader(input)
	opts.Out = &out
	a, err := InitServices(cfg, opts)
	require.NoError(t, err)
	a.SetLoader(enginetest.Loader)
	return a, &out
}

func writeStory(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunPlainText(t *testing.T) {
	path := writeStory(t, "fork.txt", forkStory)
	a, out := newTestApp(t, "1\n", Options{})

	require.NoError(t, a.Run(context.Background(), path))
	assert.Contains(t, out.String(), "You stand at a fork.")
	assert.Contains(t, out.String(), "3) Quit")
	assert.NotContains(t, out.String(), "Save game")
	assert.Contains(t, out.String(), "You find treasure.")
}

func TestRunPlainTextUnresolvedTargetIsReported(t *testing.T) {
	path := writeStory(t, "fork.txt", forkStory)
	a, out := newTestApp(t, "2\n", Options{})

	require.NoError(t, a.Run(context.Background(), path))
	assert.Contains(t, out.String(), `"cellar"`)
}

func TestRunRejectsUnsupportedAndMissingFiles(t *testing.T) {
	a, _ := newTestApp(t, "", Options{})

	err := a.Run(context.Background(), "notes.pdf")
	assert.True(t, apperrors.IsUnsupportedFormatError(err))
	assert.Equal(t, 0, apperrors.ExitCode(err))

	err = a.Run(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, apperrors.IsFileNotFoundError(err))
	assert.Equal(t, 2, apperrors.ExitCode(err))
}

func TestRunInkFallsBackToPlainText(t *testing.T) {
	path := writeStory(t, "fork.ink", forkStory)
	a, out := newTestApp(t, "1\n", Options{})

	require.NoError(t, a.Run(context.Background(), path))
	assert.Contains(t, out.String(), "playing as plain text")
	assert.Contains(t, out.String(), "You find treasure.")
}

func TestSaveAndReplay(t *testing.T) {
	story := writeStory(t, "cave.json", caveScript.Compile())
	savePath := filepath.Join(t.TempDir(), "cave.save.json")

	a, out := newTestApp(t, "3\n"+savePath+"\n4\n", Options{})
	require.NoError(t, a.Run(context.Background(), story))
	assert.Contains(t, out.String(), "3) Save game")
	assert.Contains(t, out.String(), "Saved to "+savePath)
	require.FileExists(t, savePath)

	b, replayOut := newTestApp(t, "1\n1\n", Options{})
	require.NoError(t, b.Replay(context.Background(), savePath))
	assert.Contains(t, replayOut.String(), "Restored session")
	assert.Contains(t, replayOut.String(), "A goblin attacks!")
	assert.Contains(t, replayOut.String(), "Sunlight.")
	assert.Contains(t, replayOut.String(), "THE END")
}

func TestNoSaveHidesSaveEntry(t *testing.T) {
	story := writeStory(t, "cave.json", caveScript.Compile())
	a, out := newTestApp(t, "3\n", Options{NoSave: true})

	require.NoError(t, a.Run(context.Background(), story))
	assert.NotContains(t, out.String(), "Save game")
	assert.Contains(t, out.String(), "3) Quit")
}

func TestReplayInvalidSaveFile(t *testing.T) {
	bad := writeStory(t, "bad.save.json", `{"version":"1"}`)
	a, _ := newTestApp(t, "", Options{})

	err := a.Replay(context.Background(), bad)
	assert.True(t, apperrors.IsInvalidSaveFileError(err))
	assert.Equal(t, 4, apperrors.ExitCode(err))
}

func TestAutoplayIsDeterministicWithSeed(t *testing.T) {
	story := writeStory(t, "cave.json", caveScript.Compile())

	play := func() string {
		a, out := newTestApp(t, "", Options{Auto: true, Seed: 7, HasSeed: true})
		require.NoError(t, a.Run(context.Background(), story))
		return out.String()
	}
	first := play()
	assert.Contains(t, first, "Sunlight.")
	assert.Contains(t, first, "> ")
	assert.NotContains(t, first, "Save game")
	assert.Equal(t, first, play())
}

func TestCompileWithoutCompiler(t *testing.T) {
	path := writeStory(t, "fork.ink", forkStory)
	a, _ := newTestApp(t, "", Options{})

	err := a.Compile(context.Background(), path)
	assert.True(t, apperrors.IsCompilerNotFoundError(err))
	assert.Equal(t, 3, apperrors.ExitCode(err))
}

// brokenCompilerConfig points at an inklecate that always rejects its input.
func brokenCompilerConfig(t *testing.T) *config.Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compiler is a shell script")
	}
	cfg := testConfig(t)
	cfg.CompilerPath = filepath.Join(cfg.ToolDir, "inklecate")
	script := "#!/bin/sh\necho \"ERROR: line 2: unexpected divert\" >&2\nexit 1\n"
	require.NoError(t, os.WriteFile(cfg.CompilerPath, []byte(script), 0755))
	return cfg
}

func TestRunInkFallsBackWhenCompilationFails(t *testing.T) {
	path := writeStory(t, "fork.ink", forkStory)
	a, out := newTestAppWithConfig(t, brokenCompilerConfig(t), "1\n", Options{})

	require.NoError(t, a.Run(context.Background(), path))
	assert.Contains(t, out.String(), "playing as plain text")
	assert.Contains(t, out.String(), "You find treasure.")
}

func TestCompileReportsCompilationFailure(t *testing.T) {
	path := writeStory(t, "fork.ink", forkStory)
	a, _ := newTestAppWithConfig(t, brokenCompilerConfig(t), "", Options{})

	err := a.Compile(context.Background(), path)
	require.Error(t, err)
	assert.True(t, apperrors.IsCompilationFailedError(err))
	assert.Equal(t, 3, apperrors.ExitCode(err))
	assert.Contains(t, apperrors.UserMessage(err, true), "unexpected divert")
	assert.NoFileExists(t, strings.TrimSuffix(path, ".ink")+".json")
}

func TestWatchRejectsCompiledStories(t *testing.T) {
	path := writeStory(t, "cave.json", caveScript.Compile())
	a, _ := newTestApp(t, "", Options{})

	err := a.Watch(context.Background(), path)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestWatchRevalidatesPlainText(t *testing.T) {
	path := writeStory(t, "fork.txt", forkStory)
	a, out := newTestApp(t, "", Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Watch(ctx, path))
	assert.Contains(t, out.String(), "Watching "+path)
	assert.Contains(t, out.String(), `"cellar"`)
}

func TestWaitForChangeLogsUnreadableFile(t *testing.T) {
	a, _ := newTestApp(t, "", Options{})
	core, logs := observer.New(zap.DebugLevel)
	a.logger = utils.NewLogger(zap.New(core))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.False(t, a.waitForChange(ctx, filepath.Join(t.TempDir(), "gone.txt")))
	assert.NotEmpty(t, logs.FilterMessage("watch: initial hash failed").All())
}

func TestServeRejectsMissingTarget(t *testing.T) {
	a, _ := newTestApp(t, "", Options{})
	err := a.Serve(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.True(t, apperrors.IsFileNotFoundError(err))
}
