// internal/services/preview_service.go
package services

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/calligrapher/internal/engine"
	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/models"
	"github.com/Corphon/calligrapher/internal/storage"
	"github.com/Corphon/calligrapher/internal/utils"
)

// PreviewSnapshot is what the preview server returns after every step.
type PreviewSnapshot struct {
	ID       string             `json:"id"`
	Path     string             `json:"path"`
	Format   models.StoryFormat `json:"format"`
	Turn     int                `json:"turn"`
	Passages []models.Passage   `json:"passages"`
	Choices  []string           `json:"choices"`
	Ended    bool               `json:"ended"`
	// Fallback is set when an .ink story is played by the plain-text interpreter.
	Fallback  bool      `json:"fallback,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type previewSession struct {
	id     string
	path   string
	format models.StoryFormat

	engine *SessionService
	cursor *PlainTextCursor

	turn     int
	passages []models.Passage
	choices  []string
	ended    bool
	fallback bool
	lastErr  string
	updated  time.Time
}

func (ps *previewSession) snapshot() *PreviewSnapshot {
	return &PreviewSnapshot{
		ID:        ps.id,
		Path:      ps.path,
		Format:    ps.format,
		Turn:      ps.turn,
		Passages:  append([]models.Passage(nil), ps.passages...),
		Choices:   append([]string(nil), ps.choices...),
		Ended:     ps.ended,
		Fallback:  ps.fallback,
		Error:     ps.lastErr,
		UpdatedAt: ps.updated,
	}
}

func (ps *previewSession) close() {
	if ps.engine != nil {
		ps.engine.Close()
		ps.engine = nil
	}
	ps.cursor = nil
}

// PreviewService runs step-wise playthroughs for the preview server. Each
// session is driven by HTTP requests instead of a terminal loop.
type PreviewService struct {
	compiler *CompilerService
	loader   engine.Loader
	cache    *storage.FileCacheService
	locks    *LockManager

	mu       sync.RWMutex
	sessions map[string]*previewSession
	workDir  string

	newID   func() string
	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// NewPreviewService creates a preview service; nil cache and locks get defaults.
func NewPreviewService(compiler *CompilerService, loader engine.Loader, cache *storage.FileCacheService, locks *LockManager) *PreviewService {
	if cache == nil {
		cache = storage.NewFileCacheService(32, 5*time.Minute)
	}
	if locks == nil {
		locks = NewLockManager(0)
	}
	return &PreviewService{
		compiler: compiler,
		loader:   loader,
		cache:    cache,
		locks:    locks,
		sessions: make(map[string]*previewSession),
		newID:    uuid.NewString,
		logger:   utils.GetLogger(),
		metrics:  utils.GetMetricsCollector(),
	}
}

// Start opens a playthrough of path and returns its first step.
func (s *PreviewService) Start(ctx context.Context, path string) (*PreviewSnapshot, error) {
	format, err := ClassifyFile(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, apperrors.NewFileNotFoundError(path, err)
	}

	ps := &previewSession{id: s.newID(), path: path, format: format}
	if err := s.open(ctx, ps); err != nil {
		ps.close()
		return nil, err
	}

	s.mu.Lock()
	s.sessions[ps.id] = ps
	s.mu.Unlock()

	s.logger.Info("preview session started", map[string]interface{}{"id": ps.id, "path": path, "format": string(format)})
	return ps.snapshot(), nil
}

func (s *PreviewService) open(ctx context.Context, ps *previewSession) error {
	ps.turn, ps.lastErr, ps.fallback = 0, "", false
	ps.close()

	switch ps.format {
	case models.FormatPlainText:
		return s.openPlainText(ps)
	case models.FormatCompiledJSON:
		data, err := os.ReadFile(ps.path)
		if err != nil {
			return apperrors.NewFileNotFoundError(ps.path, err)
		}
		return s.openEngine(ctx, ps, string(bytes.TrimPrefix(data, utf8BOM)))
	default:
		source, err := s.compileSource(ctx, ps)
		if err == nil {
			err = s.openEngine(ctx, ps, source)
		}
		if apperrors.IsCompileFallback(err) {
			s.logger.Warn("preview falls back to plain text", map[string]interface{}{"path": ps.path, "reason": err.Error()})
			ps.fallback = true
			return s.openPlainText(ps)
		}
		return err
	}
}

func (s *PreviewService) compileSource(ctx context.Context, ps *previewSession) (string, error) {
	if s.compiler == nil {
		return "", apperrors.NewCompilerNotFoundError(nil)
	}
	dir, err := s.ensureWorkDir()
	if err != nil {
		return "", err
	}
	out, err := s.compiler.Compile(ctx, ps.path, filepath.Join(dir, ps.id+".json"))
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return "", apperrors.NewProcessingError("read compiled story", err)
	}
	return string(data), nil
}

func (s *PreviewService) ensureWorkDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workDir != "" {
		return s.workDir, nil
	}
	dir, err := os.MkdirTemp("", "calligrapher-preview-*")
	if err != nil {
		return "", apperrors.NewProcessingError("create preview work dir", err)
	}
	s.workDir = dir
	return dir, nil
}

func (s *PreviewService) openPlainText(ps *previewSession) error {
	value, err := s.cache.GetOrLoad(ps.path, func(p string) (interface{}, error) {
		return LoadPlainTextFile(p)
	})
	if err != nil {
		if apperrors.TypeOf(err) == "" {
			return apperrors.NewFileNotFoundError(ps.path, err)
		}
		return err
	}

	ps.cursor = NewPlainTextCursor(value.(*models.PlainTextStory))
	section, err := ps.cursor.Start()
	if err != nil {
		return err
	}
	s.applySection(ps, section)
	return nil
}

func (s *PreviewService) openEngine(ctx context.Context, ps *previewSession, source string) error {
	session := NewSessionService(s.loader)
	if err := session.Load(ctx, source); err != nil {
		return err
	}
	ps.engine = session
	return s.advanceEngine(ps)
}

func (s *PreviewService) applySection(ps *previewSession, section *models.Section) {
	ps.updated = time.Now()
	if section == nil {
		ps.passages, ps.choices, ps.ended = nil, nil, true
		return
	}
	ps.passages = make([]models.Passage, 0, len(section.Narrative))
	for _, line := range section.Narrative {
		ps.passages = append(ps.passages, models.Passage{Text: line})
		s.metrics.RecordTurn()
	}
	ps.choices = ChoiceLabels(section)
	ps.ended = len(ps.choices) == 0
}

func (s *PreviewService) advanceEngine(ps *previewSession) error {
	passages, err := ps.engine.Advance()
	if err != nil {
		return err
	}
	ps.passages = passages
	ps.choices = ps.engine.StoryState().Choices
	ps.ended = ps.engine.Ended()
	ps.updated = time.Now()
	return nil
}

func (s *PreviewService) lookup(id string) (*previewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("session", id)
	}
	return ps, nil
}

// Get returns the latest step of a session.
func (s *PreviewService) Get(id string) (*PreviewSnapshot, error) {
	ps, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	var snap *PreviewSnapshot
	err = s.locks.ExecuteWithLock(id, func() error {
		snap = ps.snapshot()
		return nil
	})
	return snap, err
}

// Choose applies a story choice. An unresolved plain-text target ends the
// session and is returned in the snapshot as well as the error.
func (s *PreviewService) Choose(ctx context.Context, id string, index int) (*PreviewSnapshot, error) {
	ps, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	var snap *PreviewSnapshot
	err = s.locks.ExecuteWithLock(id, func() error {
		defer func() { snap = ps.snapshot() }()

		if ps.ended {
			return apperrors.NewValidationError("story has ended", nil)
		}
		if ps.cursor != nil {
			section, err := ps.cursor.Follow(index)
			if err != nil {
				if apperrors.IsUnresolvedTargetError(err) {
					ps.ended, ps.choices, ps.lastErr = true, nil, err.Error()
				}
				return err
			}
			s.metrics.RecordChoice("story")
			ps.turn++
			s.applySection(ps, section)
			return nil
		}
		if err := ps.engine.Choose(index); err != nil {
			return err
		}
		ps.turn++
		return s.advanceEngine(ps)
	})
	return snap, err
}

// Close ends a session and releases its engine.
func (s *PreviewService) Close(id string) error {
	s.mu.Lock()
	ps, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return apperrors.NewNotFoundError("session", id)
	}

	s.locks.ExecuteWithLock(id, func() error {
		ps.close()
		return nil
	})
	s.locks.Forget(id)
	return nil
}

// List returns snapshots of all sessions ordered by id.
func (s *PreviewService) List() []*PreviewSnapshot {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*PreviewSnapshot, 0, len(ids))
	for _, id := range ids {
		if snap, err := s.Get(id); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

// Reload restarts every session playing path, after the file changed.
func (s *PreviewService) Reload(ctx context.Context, path string) []string {
	s.cache.Invalidate(path)

	s.mu.RLock()
	var targets []*previewSession
	for _, ps := range s.sessions {
		if sameFile(ps.path, path) {
			targets = append(targets, ps)
		}
	}
	s.mu.RUnlock()

	ids := make([]string, 0, len(targets))
	for _, ps := range targets {
		s.locks.ExecuteWithLock(ps.id, func() error {
			if err := s.open(ctx, ps); err != nil {
				ps.ended, ps.choices, ps.lastErr = true, nil, err.Error()
				s.logger.Warn("preview reload failed", map[string]interface{}{"id": ps.id, "error": err.Error()})
			}
			return nil
		})
		ids = append(ids, ps.id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown closes every session and removes compiled artifacts.
func (s *PreviewService) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*previewSession)
	workDir := s.workDir
	s.workDir = ""
	s.mu.Unlock()

	for _, ps := range sessions {
		ps.close()
	}
	if workDir != "" {
		os.RemoveAll(workDir)
	}
	s.locks.Stop()
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}
