// cmd/calligrapher/commands.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Corphon/calligrapher/internal/app"
	"github.com/Corphon/calligrapher/internal/config"
	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/utils"
)

const exitInterrupted = 130

// cli carries the parsed flags and the streams of one invocation.
type cli struct {
	opts   app.Options
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// newApp is replaced in tests.
	newApp func(cfg *config.Config, opts app.Options) (*app.App, error)
}

func execute(ctx context.Context, args []string) int {
	c := &cli{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr, newApp: app.InitServices}
	return c.execute(ctx, args)
}

func (c *cli) execute(ctx context.Context, args []string) int {
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		// watch and serve return nil once cancelled
		return exitInterrupted
	case err == nil:
		return 0
	case apperrors.TypeOf(err) == "":
		// flag and argument errors from cobra
		fmt.Fprintln(c.stderr, "error: "+err.Error())
		return 1
	default:
		return apperrors.ExitCode(err)
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "calligrapher [command] <file>",
		Short: "Play, compile and watch interactive fiction",
		Long: `calligrapher plays Ink stories in the terminal.

Compiled stories (.json) are played by the narrative engine, Ink sources
(.ink) are compiled first, and plain-text stories (.txt, .md) are played by
the built-in interpreter. Given a file and no command, the story is run.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Run(ctx, args[0])
			})
		},
	}
	root.SetVersionTemplate("calligrapher {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.BoolP("version", "V", false, "print the version and exit")
	flags.CountVarP(&c.opts.Verbose, "verbose", "v", "more output; repeat for debug logs")
	flags.BoolVarP(&c.opts.Silent, "silent", "s", false, "only print story text and errors")
	flags.StringVarP(&c.opts.Output, "output", "o", "", "compiled output path")
	flags.BoolVarP(&c.opts.Watch, "watch", "w", false, "rebuild or replay when the file changes")
	flags.BoolVar(&c.opts.NoSave, "no-save", false, "hide the save option")
	flags.Int64Var(&c.opts.Seed, "seed", 0, "seed for the engine and automatic choices")
	flags.BoolVar(&c.opts.Auto, "auto", false, "pick choices at random instead of prompting")
	flags.StringVar(&c.opts.Script, "script", "", "Lua script that picks choices")

	root.AddCommand(
		c.runCommand(),
		c.compileCommand(),
		c.watchCommand(),
		c.replayCommand(),
		c.serveCommand(),
	)
	return root
}

func (c *cli) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Play a story (.json, .ink, .txt or .md)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Run(ctx, args[0])
			})
		},
	}
}

func (c *cli) compileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <file.ink>",
		Short: "Compile an Ink source with inklecate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Compile(ctx, args[0])
			})
		},
	}
}

func (c *cli) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <file>",
		Short: "Recompile or re-validate a story whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Watch(ctx, args[0])
			})
		},
	}
}

func (c *cli) replayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <save.json>",
		Short: "Restore a saved session and keep playing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Replay(ctx, args[0])
			})
		},
	}
}

func (c *cli) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [dir|file]",
		Short: "Serve a browser preview of stories",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) == 1 {
				target = args[0]
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx, target)
			})
		},
	}
	cmd.Flags().StringVar(&c.opts.Addr, "addr", "", "listen address (default from CALLIGRAPHER_SERVE_ADDR)")
	return cmd
}

// withApp loads configuration, sets up logging and builds the services,
// then runs fn. Errors are reported here; the caller only maps exit codes.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	c.opts.HasSeed = cmd.Flags().Changed("seed")
	c.opts.In = c.stdin
	c.opts.Out = c.stdout

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(c.stderr, "error: "+err.Error())
		return apperrors.NewValidationError("invalid configuration", err)
	}

	if err := utils.InitLogger(utils.LoggerConfig{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: cfg.LogFile,
	}); err != nil {
		fmt.Fprintln(c.stderr, "warning: "+err.Error())
	}
	logger := utils.GetLogger()
	logger.SetVerbosity(c.opts.Verbose, c.opts.Silent)
	defer logger.Sync()

	a, err := c.newApp(cfg, c.opts)
	if err != nil {
		fmt.Fprintln(c.stderr, "error: "+apperrors.UserMessage(err, c.opts.Verbose > 0))
		return err
	}

	err = fn(cmd.Context(), a)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Report(err)
	}
	return err
}
