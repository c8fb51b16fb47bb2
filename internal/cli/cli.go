// Package cli implements the probe command line: ask questions about a data
// file, inspect its schema, and manage the optional session history.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/duckmesh/probe/internal/app"
	"github.com/duckmesh/probe/internal/config"
	"github.com/duckmesh/probe/internal/llm"
	"github.com/duckmesh/probe/internal/observability"
	"github.com/duckmesh/probe/internal/probe"
)

const serviceName = "probe"

type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	// Lookup reads PROBE_* settings. Defaults to the process environment.
	Lookup config.LookupFunc
	// NewClient overrides the configured model client.
	NewClient func(cfg config.Config) (llm.Client, error)
	// StreamDelay is the pause between words of a streamed answer. Zero uses
	// the default and a negative value disables the pause.
	StreamDelay time.Duration
}

// errReported marks failures whose details were already written to stderr.
var errReported = errors.New("reported")

// Run executes one command line and returns the process exit code.
func Run(ctx context.Context, args []string, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}

	root := NewRootCommand(opts)
	root.SetArgs(args)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			_, _ = fmt.Fprint(opts.Stderr, pterm.Error.Sprintln(err.Error()))
		}
		return 1
	}
	return 0
}

func NewRootCommand(opts Options) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "probe",
		Short:         "Ask natural-language questions about tabular data",
		Long:          `probe turns a question about a CSV, Parquet or JSON file into a validated query plan, runs it with DuckDB and answers in plain language.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Write structured logs to stderr")

	env := &environment{opts: opts, verbose: &verbose}
	root.AddCommand(
		newAskCommand(env),
		newSchemaCommand(env),
		newHistoryCommand(env),
		newMigrateCommand(env),
	)
	return root
}

// environment is shared by subcommands. It is resolved lazily so flag parsing
// errors never touch configuration.
type environment struct {
	opts    Options
	verbose *bool
}

func (e *environment) config() (config.Config, error) {
	cfg, err := config.Load(serviceName, e.opts.Lookup)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (e *environment) logger(cfg config.Config) *slog.Logger {
	if e.verbose != nil && *e.verbose {
		return observability.NewLogger(cfg, e.opts.Stderr)
	}
	return observability.DiscardLogger()
}

func (e *environment) openApp(ctx context.Context) (*app.App, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, e.logger(cfg))
}

func (e *environment) asker(a *app.App) (*probe.Asker, error) {
	if e.opts.NewClient == nil {
		return a.NewAsker()
	}
	client, err := e.opts.NewClient(a.Config)
	if err != nil {
		return nil, fmt.Errorf("initialize model client: %w", err)
	}
	return a.NewAskerWithClient(client)
}
