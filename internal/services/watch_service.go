// internal/services/watch_service.go
package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Corphon/calligrapher/internal/utils"
)

// HashFile returns the xxhash digest of a file's content.
func HashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return h.Sum64(), nil
}

// WatchService polls one file and calls OnChange once per distinct content
// change. Changes made within one interval are seen as one.
type WatchService struct {
	Path     string
	Interval time.Duration
	OnChange func(ctx context.Context) error

	lastHash uint64
	primed   bool

	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// NewWatchService creates a poller for path.
func NewWatchService(path string, interval time.Duration, onChange func(ctx context.Context) error) *WatchService {
	if interval <= 0 {
		interval = time.Second
	}
	return &WatchService{
		Path:     path,
		Interval: interval,
		OnChange: onChange,
		logger:   utils.GetLogger(),
		metrics:  utils.GetMetricsCollector(),
	}
}

// Prime records the current content as the baseline without triggering.
func (w *WatchService) Prime() error {
	h, err := HashFile(w.Path)
	if err != nil {
		return err
	}
	w.lastHash, w.primed = h, true
	return nil
}

// Check polls once. It reports whether a change was seen; the error is the
// OnChange error for that change.
func (w *WatchService) Check(ctx context.Context) (bool, error) {
	h, err := HashFile(w.Path)
	if err != nil {
		// editors often replace the file; try again next tick
		w.logger.Debug("watch: file unavailable", map[string]interface{}{"path": w.Path, "error": err.Error()})
		return false, nil
	}
	if !w.primed {
		w.lastHash, w.primed = h, true
		return false, nil
	}
	if h == w.lastHash {
		return false, nil
	}

	w.lastHash = h
	w.metrics.RecordRecompile()
	w.logger.Info("watch: change detected", map[string]interface{}{"path": w.Path})
	if w.OnChange == nil {
		return true, nil
	}
	return true, w.OnChange(ctx)
}

// Run polls until ctx is cancelled. OnChange failures are logged and
// watching continues.
func (w *WatchService) Run(ctx context.Context) error {
	if !w.primed {
		if err := w.Prime(); err != nil {
			w.logger.Debug("watch: initial hash failed", map[string]interface{}{"error": err.Error()})
		}
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				w.logger.Warn("watch: change handler failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
