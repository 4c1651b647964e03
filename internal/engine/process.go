// internal/engine/process.go
package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/utils"
)

// ProcessLoader starts an external runtime (for example a node script wrapping
// inkjs) and talks to it with one JSON object per line on stdin/stdout.
type ProcessLoader struct {
	Name string
	Args []string
	// Env is appended to the current environment.
	Env []string

	Seed    int64
	HasSeed bool

	Logger *utils.Logger
}

// NewProcessLoader splits command on whitespace; an empty command yields a
// loader that always reports the engine as unavailable.
func NewProcessLoader(command string, logger *utils.Logger) *ProcessLoader {
	if logger == nil {
		logger = utils.GetLogger()
	}
	l := &ProcessLoader{Logger: logger}
	fields := strings.Fields(command)
	if len(fields) > 0 {
		l.Name = fields[0]
		l.Args = fields[1:]
	}
	return l
}

// WithSeed forwards a random seed to the runtime on load.
func (l *ProcessLoader) WithSeed(seed int64) *ProcessLoader {
	l.Seed = seed
	l.HasSeed = true
	return l
}

type request struct {
	Op     string `json:"op"`
	Source string `json:"source,omitempty"`
	Index  *int   `json:"index,omitempty"`
	State  string `json:"state,omitempty"`
	Seed   *int64 `json:"seed,omitempty"`
}

type status struct {
	CanContinue bool     `json:"canContinue"`
	Choices     []string `json:"choices"`
	Tags        []string `json:"tags"`
}

type response struct {
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	Text   string  `json:"text,omitempty"`
	State  string  `json:"state,omitempty"`
	Status *status `json:"status,omitempty"`
}

// Load starts one runtime process per story instance.
func (l *ProcessLoader) Load(ctx context.Context, compiled string) (Story, error) {
	if l.Name == "" {
		return nil, apperrors.NewEngineUnavailableError(
			"no narrative engine configured (set CALLIGRAPHER_ENGINE)", nil)
	}

	cmd := exec.CommandContext(ctx, l.Name, l.Args...)
	cmd.Env = append(os.Environ(), l.Env...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewEngineUnavailableError(
				fmt.Sprintf("narrative engine %q not found", l.Name), err)
		}
		return nil, apperrors.NewEngineUnavailableError("could not start narrative engine", err)
	}

	p := &processStory{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		stderr: stderr,
		logger: l.Logger,
	}

	req := request{Op: "load", Source: compiled}
	if l.HasSeed {
		seed := l.Seed
		req.Seed = &seed
	}
	if _, err := p.call(req); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("engine load: %w", err)
	}

	l.Logger.Debug("narrative engine started", map[string]interface{}{
		"command": l.Name,
		"pid":     cmd.Process.Pid,
	})
	return p, nil
}

type processStory struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *lockedBuffer
	logger *utils.Logger

	status    status
	closeOnce sync.Once
	closeErr  error
}

func (p *processStory) call(req request) (*response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	payload = append(payload, '\n')
	if _, err := p.stdin.Write(payload); err != nil {
		return nil, fmt.Errorf("write %s request: %w%s", req.Op, err, p.stderrSuffix())
	}

	line, err := p.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w%s", req.Op, err, p.stderrSuffix())
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", req.Op, err)
	}
	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = "unknown engine error"
		}
		return nil, fmt.Errorf("%s: %s", req.Op, msg)
	}
	if resp.Status != nil {
		p.status = *resp.Status
	}
	return &resp, nil
}

func (p *processStory) stderrSuffix() string {
	if p.stderr == nil {
		return ""
	}
	text := strings.TrimSpace(p.stderr.String())
	if text == "" {
		return ""
	}
	return " (engine stderr: " + text + ")"
}

// lockedBuffer collects the runtime's stderr; os/exec writes to it from its
// own goroutine while requests may read it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (p *processStory) CanContinue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.CanContinue
}

func (p *processStory) Continue() (string, error) {
	resp, err := p.call(request{Op: "continue"})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (p *processStory) CurrentChoices() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.status.Choices...)
}

func (p *processStory) ChooseChoiceIndex(index int) error {
	_, err := p.call(request{Op: "choose", Index: &index})
	return err
}

func (p *processStory) CurrentTags() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.status.Tags...)
}

func (p *processStory) SaveState() (string, error) {
	resp, err := p.call(request{Op: "save"})
	if err != nil {
		return "", err
	}
	return resp.State, nil
}

func (p *processStory) LoadState(state string) error {
	_, err := p.call(request{Op: "restore", State: state})
	return err
}

// Close ends the runtime by closing its stdin; a runtime that does not exit
// within two seconds is killed.
func (p *processStory) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()
		select {
		case err := <-done:
			p.closeErr = err
		case <-time.After(2 * time.Second):
			_ = p.cmd.Process.Kill()
			<-done
			p.logger.Warn("narrative engine did not exit, killed", nil)
		}
	})
	return p.closeErr
}
