// internal/services/compiler_service.go
package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/utils"
)

// utf8BOM is stripped from compiler output; inklecate writes one on some platforms.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CompilerBinaryName is the executable name for goos.
func CompilerBinaryName(goos string) string {
	if goos == "windows" {
		return "inklecate.exe"
	}
	return "inklecate"
}

// DefaultSearchPaths lists compiler candidates in lookup order: bundled next
// to the tool, then system locations, then user-local locations.
func DefaultSearchPaths(toolDir, homeDir, goos string) []string {
	bin := CompilerBinaryName(goos)
	var paths []string

	if toolDir != "" {
		paths = append(paths,
			filepath.Join(toolDir, bin),
			filepath.Join(toolDir, "inklecate", bin),
		)
	}

	if goos == "windows" {
		paths = append(paths, filepath.Join(`C:\Program Files`, "inklecate", bin))
	} else {
		paths = append(paths,
			filepath.Join("/usr/local/bin", bin),
			filepath.Join("/usr/bin", bin),
			filepath.Join("/opt/inklecate", bin),
		)
	}

	if homeDir != "" {
		paths = append(paths,
			filepath.Join(homeDir, ".local", "bin", bin),
			filepath.Join(homeDir, "bin", bin),
			filepath.Join(homeDir, ".calligrapher", "bin", bin),
		)
	}
	return paths
}

// LocateCompiler returns the first candidate for which exists reports true.
func LocateCompiler(paths []string, exists func(string) bool) (string, bool) {
	for _, p := range paths {
		if p != "" && exists(p) {
			return p, true
		}
	}
	return "", false
}

// regularFileExists is the default probe used by LocateCompiler.
func regularFileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// DefaultOutputPath replaces the input extension with .json.
func DefaultOutputPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".json"
}

// CompilerService drives the external inklecate executable.
type CompilerService struct {
	// ExplicitPath is tried before SearchPaths.
	ExplicitPath string
	SearchPaths  []string
	Timeout      time.Duration

	// Verbose forwards compiler output to Diagnostics while it is captured.
	Verbose     bool
	Diagnostics io.Writer

	GOOS   string
	Exists func(string) bool

	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// NewCompilerService creates a compiler adapter.
func NewCompilerService(explicitPath string, searchPaths []string, timeout time.Duration) *CompilerService {
	return &CompilerService{
		ExplicitPath: explicitPath,
		SearchPaths:  searchPaths,
		Timeout:      timeout,
		Diagnostics:  os.Stderr,
		GOOS:         runtime.GOOS,
		Exists:       regularFileExists,
		logger:       utils.GetLogger(),
		metrics:      utils.GetMetricsCollector(),
	}
}

// Candidates returns the compiler lookup order.
func (s *CompilerService) Candidates() []string {
	if s.ExplicitPath == "" {
		return s.SearchPaths
	}
	return append([]string{s.ExplicitPath}, s.SearchPaths...)
}

// Compile turns an .ink file into compiled JSON at output (or the default
// output path) and returns the path written.
func (s *CompilerService) Compile(ctx context.Context, input, output string) (string, error) {
	start := time.Now()
	written, err := s.compile(ctx, input, output)
	if !apperrors.IsFileNotFoundError(err) && !apperrors.IsUnsupportedFormatError(err) {
		s.metrics.RecordCompile(time.Since(start), err)
	}
	return written, err
}

func (s *CompilerService) compile(ctx context.Context, input, output string) (string, error) {
	// input checks come before any compiler lookup
	if _, err := os.Stat(input); err != nil {
		return "", apperrors.NewFileNotFoundError(input, err)
	}
	if !strings.EqualFold(filepath.Ext(input), ".ink") {
		return "", apperrors.NewUnsupportedFormatError(input, []string{".ink"})
	}
	if output == "" {
		output = DefaultOutputPath(input)
	}

	candidates := s.Candidates()
	exists := s.Exists
	if exists == nil {
		exists = regularFileExists
	}
	compiler, ok := LocateCompiler(candidates, exists)
	if !ok {
		s.logger.Debug("compiler lookup failed", map[string]interface{}{"searched": candidates})
		return "", apperrors.NewCompilerNotFoundError(candidates)
	}
	s.ensureExecutable(compiler)

	runCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var captured bytes.Buffer
	var sink io.Writer = &captured
	if s.Verbose && s.Diagnostics != nil {
		sink = io.MultiWriter(&captured, s.Diagnostics)
	}

	cmd := exec.CommandContext(runCtx, compiler, "-o", output, input)
	cmd.Stdout = sink
	cmd.Stderr = sink
	cmd.WaitDelay = 2 * time.Second

	s.logger.Info("compiling story", map[string]interface{}{
		"compiler": compiler,
		"input":    input,
		"output":   output,
	})

	if err := cmd.Run(); err != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return "", apperrors.NewCompilerTimeoutError(input, err)
		case ctx.Err() != nil:
			return "", apperrors.NewProcessingError("compilation cancelled", ctx.Err())
		default:
			return "", apperrors.NewCompilationFailedError(input, err, captured.String())
		}
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return "", apperrors.NewCompilationFailedError(input, err, captured.String())
	}
	if bytes.HasPrefix(data, utf8BOM) {
		data = data[len(utf8BOM):]
		if err := os.WriteFile(output, data, 0644); err != nil {
			return "", apperrors.NewProcessingError("strip byte order mark", err)
		}
	}
	s.checkOutput(output, data)

	return output, nil
}

// ensureExecutable sets the execute bits on non-Windows hosts.
func (s *CompilerService) ensureExecutable(path string) {
	if s.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode()&0111 == 0111 {
		return
	}
	if err := os.Chmod(path, info.Mode()|0111); err != nil {
		s.logger.Debug("chmod compiler failed", map[string]interface{}{"path": path, "error": err.Error()})
	}
}

func (s *CompilerService) checkOutput(output string, data []byte) {
	if !gjson.ValidBytes(data) {
		s.logger.Warn("compiled output is not valid JSON", map[string]interface{}{"output": output})
		return
	}
	if !gjson.GetBytes(data, "inkVersion").Exists() {
		s.logger.Warn("compiled output has no inkVersion field", map[string]interface{}{"output": output})
	}
}
