// internal/app/app.go
package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Corphon/calligrapher/internal/api"
	"github.com/Corphon/calligrapher/internal/config"
	"github.com/Corphon/calligrapher/internal/di"
	"github.com/Corphon/calligrapher/internal/engine"
	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/models"
	"github.com/Corphon/calligrapher/internal/scripting"
	"github.com/Corphon/calligrapher/internal/services"
	"github.com/Corphon/calligrapher/internal/storage"
	"github.com/Corphon/calligrapher/internal/ui"
	"github.com/Corphon/calligrapher/internal/utils"
)

// Options are the per-invocation flags shared by every command.
type Options struct {
	Verbose int
	Silent  bool
	Output  string
	Watch   bool
	NoSave  bool

	Seed    int64
	HasSeed bool
	Auto    bool
	Script  string

	// Addr overrides the preview server address.
	Addr string

	In  io.Reader
	Out io.Writer
}

// App wires the services for one CLI invocation.
type App struct {
	cfg  *config.Config
	opts Options

	term        *ui.Terminal
	compiler    *services.CompilerService
	persistence *services.PersistenceService
	loader      engine.Loader
	container   *di.Container

	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// InitServices creates every service in dependency order and registers it in the container.
func InitServices(cfg *config.Config, opts Options) (*App, error) {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	a := &App{
		cfg:       cfg,
		opts:      opts,
		term:      ui.NewTerminal(opts.In, opts.Out),
		container: di.NewContainer(),
		logger:    utils.GetLogger(),
		metrics:   utils.GetMetricsCollector(),
	}
	a.term.SetSilent(opts.Silent)

	a.compiler = services.NewCompilerService(
		cfg.CompilerPath,
		services.DefaultSearchPaths(cfg.ToolDir, cfg.HomeDir, runtime.GOOS),
		cfg.CompileTimeout,
	)
	a.compiler.Verbose = opts.Verbose > 0

	loader := engine.NewProcessLoader(cfg.EngineCommand, a.logger)
	if opts.HasSeed {
		loader.WithSeed(opts.Seed)
	}
	a.loader = loader

	fs, err := storage.NewFileStorage(".")
	if err != nil {
		return nil, apperrors.NewProcessingError("initialize storage", err)
	}
	a.persistence = services.NewPersistenceService(fs)

	a.container.Register(di.ServiceConfig, cfg)
	a.container.Register(di.ServiceCompiler, a.compiler)
	a.container.Register(di.ServiceEngine, a.loader)
	a.container.Register(di.ServicePersistence, a.persistence)
	a.container.Register(di.ServiceMetrics, a.metrics)

	a.logger.Debug("services initialized", map[string]interface{}{"services": a.container.GetNames()})
	return a, nil
}

// SetLoader replaces the narrative engine (tests use the in-memory one).
func (a *App) SetLoader(loader engine.Loader) {
	a.loader = loader
	a.container.Register(di.ServiceEngine, loader)
}

// Compiler exposes the compiler service for tests and the preview server.
func (a *App) Compiler() *services.CompilerService { return a.compiler }

// Container returns the service registry.
func (a *App) Container() *di.Container { return a.container }

// Terminal returns the presenter.
func (a *App) Terminal() *ui.Terminal { return a.term }

// Report prints err the way the CLI shows it: unsupported formats as a
// warning, everything else as an error. Verbose mode adds the full chain.
func (a *App) Report(err error) {
	if err == nil {
		return
	}
	msg := apperrors.UserMessage(err, a.opts.Verbose > 0)
	if apperrors.IsUnsupportedFormatError(err) {
		a.term.Warn("%s", msg)
		return
	}
	fmt.Fprintln(a.opts.Out, "error: "+msg)
}

// Run plays path, choosing the strategy from its extension. With Watch set
// the story is replayed after each change; watching and playing never overlap.
func (a *App) Run(ctx context.Context, path string) error {
	for {
		err := a.runOnce(ctx, path)
		if err != nil || !a.opts.Watch {
			return err
		}
		a.term.Notice("Waiting for changes to %s (Ctrl+C to stop)", path)
		if !a.waitForChange(ctx, path) {
			return nil
		}
		a.term.Notice("Change detected, restarting %s", filepath.Base(path))
	}
}

func (a *App) runOnce(ctx context.Context, path string) error {
	format, err := services.ClassifyFile(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return apperrors.NewFileNotFoundError(path, err)
	}

	switch format {
	case models.FormatCompiledJSON:
		data, err := os.ReadFile(path)
		if err != nil {
			return apperrors.NewProcessingError("read compiled story", err)
		}
		return a.playEngine(ctx, string(bytes.TrimPrefix(data, []byte("\uFEFF"))), path)

	case models.FormatInkSource:
		source, cleanup, err := a.compileForRun(ctx, path)
		if err == nil {
			defer cleanup()
			err = a.playEngine(ctx, source, path)
		}
		if apperrors.IsCompileFallback(err) {
			a.term.Warn("%s; playing as plain text", apperrors.UserMessage(err, a.opts.Verbose > 0))
			return a.playPlainText(ctx, path)
		}
		return err

	default:
		return a.playPlainText(ctx, path)
	}
}

// compileForRun compiles into a temporary directory so run leaves no artifacts.
func (a *App) compileForRun(ctx context.Context, path string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "calligrapher-run-*")
	if err != nil {
		return "", nil, apperrors.NewProcessingError("create work dir", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	out, err := a.compiler.Compile(ctx, path, filepath.Join(dir, "story.json"))
	if err != nil {
		cleanup()
		return "", nil, err
	}
	data, err := os.ReadFile(out)
	if err != nil {
		cleanup()
		return "", nil, apperrors.NewProcessingError("read compiled story", err)
	}
	return string(data), cleanup, nil
}

func (a *App) playPlainText(ctx context.Context, path string) error {
	story, err := services.LoadPlainTextFile(path)
	if err != nil {
		return err
	}
	if services.IsMarkdown(path) {
		if err := a.term.EnableMarkdown(); err != nil {
			a.logger.Warn("markdown rendering disabled", map[string]interface{}{"error": err.Error()})
		}
	}

	picker, err := a.picker()
	if err != nil {
		return err
	}
	err = services.NewPlainTextPlayer(story, a.term, picker).Play(ctx)
	if apperrors.IsUnresolvedTargetError(err) {
		// authoring error: reported, the playthrough ends cleanly
		a.Report(err)
		return nil
	}
	return err
}

func (a *App) playEngine(ctx context.Context, source, storyPath string) error {
	session := services.NewSessionService(a.loader)
	defer session.Close()

	if err := session.Load(ctx, source); err != nil {
		return err
	}
	return a.drive(ctx, session, storyPath)
}

// Replay restores a save file and continues play from it.
func (a *App) Replay(ctx context.Context, savePath string) error {
	session := services.NewSessionService(a.loader)
	defer session.Close()

	record, err := a.persistence.Restore(ctx, session, savePath)
	if err != nil {
		return err
	}
	a.term.Notice("Restored session saved %s", record.SavedAt.Local().Format(time.RFC1123))

	storyPath := record.SourcePath
	if storyPath == "" {
		storyPath = savePath
	}
	return a.drive(ctx, session, storyPath)
}

// drive is the engine play loop: advance, show, ask, apply.
func (a *App) drive(ctx context.Context, session *services.SessionService, storyPath string) error {
	picker, err := a.picker()
	if err != nil {
		return err
	}
	observer, _ := picker.(services.TagObserver)
	opts := ui.MenuOptions{AllowSave: !a.opts.NoSave && !a.autoplay()}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		passages, err := session.Advance()
		if err != nil {
			return err
		}
		for _, p := range passages {
			a.term.ShowPassage(p)
			if observer != nil {
				observer.ObserveTags(p.Tags)
			}
		}
		if session.Ended() {
			a.term.Notice("THE END")
			return nil
		}

		idx, err := picker.Choose(session.StoryState().Choices, opts)
		if err != nil {
			return err
		}
		switch idx {
		case ui.ChoiceQuit:
			a.metrics.RecordChoice("quit")
			return nil
		case ui.ChoiceSave:
			a.metrics.RecordChoice("save")
			a.saveInteractive(session, storyPath)
		default:
			if err := session.Choose(idx); err != nil {
				a.term.Warn("%s", apperrors.UserMessage(err, a.opts.Verbose > 0))
			}
		}
	}
}

// saveInteractive asks for a destination and saves. Failures are shown and
// play continues.
func (a *App) saveInteractive(session *services.SessionService, storyPath string) {
	def := a.cfg.DefaultSavePath(storyPath)
	dest, err := a.term.PromptPath("Save to", def)
	if err != nil {
		a.term.Warn("%s", err.Error())
		return
	}
	if err := a.persistence.Save(session, storyPath, dest); err != nil {
		a.term.Warn("save failed: %s", apperrors.UserMessage(err, a.opts.Verbose > 0))
		return
	}
	a.term.Notice("Saved to %s", dest)
}

func (a *App) autoplay() bool {
	return a.opts.Auto || a.opts.Script != ""
}

// picker returns the terminal, or an automatic picker that announces its
// decisions on the terminal.
func (a *App) picker() (services.ChoicePicker, error) {
	var auto services.ChoicePicker
	switch {
	case a.opts.Script != "":
		p, err := scripting.NewLuaPicker(a.opts.Script)
		if err != nil {
			return nil, err
		}
		auto = p
	case a.opts.Auto:
		seed := a.opts.Seed
		if !a.opts.HasSeed {
			seed = time.Now().UnixNano()
		}
		auto = services.NewRandomPicker(seed)
	default:
		return a.term, nil
	}
	return services.AnnouncingPicker{
		Picker:   auto,
		Announce: func(label string) { a.term.Notice("> %s", label) },
	}, nil
}

// Compile compiles an .ink file; every compiler failure is fatal here.
func (a *App) Compile(ctx context.Context, path string) error {
	if err := a.compileOnce(ctx, path); err != nil {
		return err
	}
	if a.opts.Watch {
		return a.watch(ctx, path, false)
	}
	return nil
}

func (a *App) compileOnce(ctx context.Context, path string) error {
	start := time.Now()
	out, err := a.compiler.Compile(ctx, path, a.opts.Output)
	if err != nil {
		return err
	}
	a.term.Notice("Compiled %s -> %s (%s)", path, out, time.Since(start).Round(time.Millisecond))
	return nil
}

// Watch builds path once and again whenever its content changes: .ink files
// are recompiled, plain-text stories are re-validated.
func (a *App) Watch(ctx context.Context, path string) error {
	return a.watch(ctx, path, true)
}

func (a *App) watch(ctx context.Context, path string, initial bool) error {
	format, err := services.ClassifyFile(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return apperrors.NewFileNotFoundError(path, err)
	}

	var rebuild func(ctx context.Context) error
	switch format {
	case models.FormatInkSource:
		rebuild = func(ctx context.Context) error {
			if err := a.compileOnce(ctx, path); err != nil {
				a.Report(err)
			}
			return nil
		}
	case models.FormatPlainText:
		rebuild = func(context.Context) error {
			a.validatePlainText(path)
			return nil
		}
	default:
		return apperrors.NewValidationError("watch needs an .ink or plain-text story, got "+path, nil)
	}

	w := services.NewWatchService(path, a.cfg.WatchInterval, rebuild)
	if err := w.Prime(); err != nil {
		return apperrors.NewFileNotFoundError(path, err)
	}
	if initial {
		rebuild(ctx)
	}

	a.term.Notice("Watching %s every %s (Ctrl+C to stop)", path, a.cfg.WatchInterval)
	return w.Run(ctx)
}

func (a *App) validatePlainText(path string) {
	story, err := services.LoadPlainTextFile(path)
	if err == nil {
		err = services.ValidatePlainText(story)
	}
	if err != nil {
		a.Report(err)
		return
	}
	a.term.Notice("%s: %d sections, all targets resolve", filepath.Base(path), len(story.Order))
}

// waitForChange blocks until path changes or ctx ends; false means ctx ended.
func (a *App) waitForChange(ctx context.Context, path string) bool {
	changed := make(chan struct{}, 1)
	w := services.NewWatchService(path, a.cfg.WatchInterval, func(context.Context) error {
		select {
		case changed <- struct{}{}:
		default:
		}
		return nil
	})
	if err := w.Prime(); err != nil {
		a.logger.Debug("watch: initial hash failed", map[string]interface{}{"path": path, "error": err.Error()})
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.Run(watchCtx)

	select {
	case <-changed:
		return true
	case <-ctx.Done():
		return false
	}
}

// Serve runs the preview server. target is a directory whose stories may be
// opened, or a single story file; with Watch set that file is polled and
// its sessions restart on every change.
func (a *App) Serve(ctx context.Context, target string) error {
	if target == "" {
		target = "."
	}
	info, err := os.Stat(target)
	if err != nil {
		return apperrors.NewFileNotFoundError(target, err)
	}

	root, watched := target, ""
	if !info.IsDir() {
		if _, err := services.ClassifyFile(target); err != nil {
			return err
		}
		root, watched = filepath.Dir(target), target
	}

	preview := services.NewPreviewService(
		a.compiler,
		a.loader,
		storage.NewFileCacheService(64, 10*time.Minute),
		services.NewLockManager(5*time.Minute),
	)
	a.container.Register(di.ServicePreview, preview)

	srv, err := api.NewServer(a.container, root)
	if err != nil {
		preview.Shutdown()
		return apperrors.NewProcessingError("build preview server", err)
	}

	if watched != "" && a.opts.Watch {
		go srv.WatchFile(ctx, watched, a.cfg.WatchInterval)
	}

	addr := a.opts.Addr
	if addr == "" {
		addr = a.cfg.ServeAddr
	}
	a.term.Notice("Preview server on http://%s (Ctrl+C to stop)", addr)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return apperrors.NewProcessingError("preview server", err)
	}
	return nil
}
