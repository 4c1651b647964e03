package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/calligrapher/internal/app"
	"github.com/Corphon/calligrapher/internal/config"
)

func runCLI(t *testing.T, input string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	c := &cli{
		stdin:  strings.NewReader(input),
		stdout: &stdout,
		stderr: &stderr,
		newApp: app.InitServices,
	}
	code := c.execute(context.Background(), args)
	return code, stdout.String(), stderr.String()
}

func TestVersionFlag(t *testing.T) {
	code, out, _ := runCLI(t, "", "-V")
	assert.Equal(t, 0, code)
	assert.Equal(t, "calligrapher "+version+"\n", out)
}

func TestDefaultCommandIsRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fork.txt")
	require.NoError(t, os.WriteFile(path, []byte("=== start ===\nHello.\n* [Bye] -> END\n"), 0644))

	code, out, _ := runCLI(t, "1\n", path)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Hello.")
	assert.Contains(t, out, "1) Bye")
}

func TestExitCodes(t *testing.T) {
	code, out, _ := runCLI(t, "", "run", "story.pdf")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "warning:")

	code, out, _ = runCLI(t, "", "run", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, 2, code)
	assert.Contains(t, out, "error:")

	bad := filepath.Join(t.TempDir(), "bad.save.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0644))
	code, _, _ = runCLI(t, "", "replay", bad)
	assert.Equal(t, 4, code)

	code, _, errOut := runCLI(t, "", "run")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "error:")
}

func TestInterruptedWatchExits130(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fork.txt")
	require.NoError(t, os.WriteFile(path, []byte("=== start ===\nHello.\n* [Bye] -> END\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	var stdout bytes.Buffer
	c := &cli{stdin: strings.NewReader(""), stdout: &stdout, stderr: &bytes.Buffer{}, newApp: app.InitServices}
	assert.Equal(t, exitInterrupted, c.execute(ctx, []string{"watch", path}))
	assert.Contains(t, stdout.String(), "Watching")
}

func TestFlagsReachOptions(t *testing.T) {
	var got app.Options
	c := &cli{
		stdin:  strings.NewReader(""),
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		newApp: func(cfg *config.Config, opts app.Options) (*app.App, error) {
			got = opts
			return app.InitServices(cfg, opts)
		},
	}
	c.execute(context.Background(), []string{"run", "-vv", "-s", "--no-save", "--seed", "9", "-o", "out.json", "story.pdf"})

	assert.Equal(t, 2, got.Verbose)
	assert.True(t, got.Silent)
	assert.True(t, got.NoSave)
	assert.True(t, got.HasSeed)
	assert.Equal(t, int64(9), got.Seed)
	assert.Equal(t, "out.json", got.Output)
}
