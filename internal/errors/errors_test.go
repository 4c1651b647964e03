package errors

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{NewUnsupportedFormatError("a.pdf", []string{".json"}), 0},
		{NewFileNotFoundError("a.json", os.ErrNotExist), 2},
		{NewCompilerNotFoundError(nil), 3},
		{NewCompilationFailedError("a.ink", errors.New("exit 1"), "line 3: bad"), 3},
		{NewCompilerTimeoutError("a.ink", nil), 3},
		{NewInvalidSaveFileError("s.json", nil), 4},
		{NewRestoreFailedError("s.json", nil), 4},
		{NewValidationError("bad", nil), 1},
		{errors.New("plain"), 1},
		{fmt.Errorf("wrapped: %w", NewFileNotFoundError("x", nil)), 2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExitCode(tc.err), "%v", tc.err)
	}
}

func TestIsCompileFallback(t *testing.T) {
	assert.True(t, IsCompileFallback(NewCompilerNotFoundError(nil)))
	assert.True(t, IsCompileFallback(NewCompilationFailedError("a.ink", nil, "")))
	assert.True(t, IsCompileFallback(NewCompilerTimeoutError("a.ink", nil)))
	assert.True(t, IsCompileFallback(NewEngineUnavailableError("no engine", nil)))
	assert.False(t, IsCompileFallback(NewFileNotFoundError("a.ink", nil)))
	assert.False(t, IsCompileFallback(nil))
}

func TestUserMessage(t *testing.T) {
	err := NewCompilationFailedError("a.ink", errors.New("exit status 1"), "ERROR: line 3")
	assert.Equal(t, "compilation of a.ink failed", UserMessage(err, false))
	assert.Equal(t, "compilation of a.ink failed: exit status 1\nERROR: line 3", UserMessage(err, true))

	assert.Equal(t, "boom", UserMessage(errors.New("boom"), true))
}

func TestWrapErrorKeepsType(t *testing.T) {
	inner := NewInvalidSaveFileError("s.json", nil)
	wrapped := WrapError(inner, "replay", ErrorTypeError)
	assert.True(t, IsInvalidSaveFileError(wrapped))
	assert.Equal(t, "replay: invalid save file: s.json", UserMessage(wrapped, false))

	plain := WrapError(errors.New("disk"), "save", ErrorTypeError)
	assert.Equal(t, ErrorTypeError, TypeOf(plain))
	assert.Nil(t, WrapError(nil, "x", ErrorTypeError))
}

func TestCodes(t *testing.T) {
	assert.Equal(t, "UNRESOLVED_SECTION_TARGET", NewUnresolvedTargetError("start", "cellar").Code)
	assert.Equal(t, "NOT_FOUND", NewNotFoundError("session", "x").Code)
	assert.Equal(t, `section "start" points to unknown section "cellar"`, NewUnresolvedTargetError("start", "cellar").Message)
}
