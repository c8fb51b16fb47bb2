package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/duckmesh/probe/internal/probe"
)

const defaultStreamDelay = 50 * time.Millisecond

type askFlags struct {
	printCode            bool
	printOutput          bool
	retries              int
	export               string
	retryMaterialization bool
	stream               bool
}

func newAskCommand(env *environment) *cobra.Command {
	flags := &askFlags{}
	cmd := &cobra.Command{
		Use:   "ask <data> <query>",
		Short: "Answer a question about a data file",
		Long: `ask generates a query plan for the question, validates it against the file's schema,
runs it and prints a plain-language answer. <data> is a local path or s3://bucket/key.

Invalid plans are sent back to the model for correction up to --retries times.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, env, flags, args[0], args[1])
		},
	}
	cmd.Flags().BoolVar(&flags.printCode, "print-code", false, "Print each generated and corrected plan")
	cmd.Flags().BoolVar(&flags.printOutput, "print-output", false, "Print the rendered result table")
	cmd.Flags().IntVar(&flags.retries, "retries", 0, "Maximum correction rounds (default from PROBE_SESSION_MAX_RETRIES)")
	cmd.Flags().StringVar(&flags.export, "export", "", "Write the result table as Parquet to a local path or s3://bucket/key")
	cmd.Flags().BoolVar(&flags.retryMaterialization, "retry-materialization", false, "Send plans that fail while running back for correction")
	cmd.Flags().BoolVar(&flags.stream, "stream", false, "Print the answer word by word")
	return cmd
}

func runAsk(cmd *cobra.Command, env *environment, flags *askFlags, data, query string) error {
	ctx := cmd.Context()
	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()

	a, err := env.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	asker, err := env.asker(a)
	if err != nil {
		return err
	}
	src, err := a.OpenSource(ctx, data, false)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = src.Close() }()

	opts := probe.Options{
		MaxRetries:           a.Config.Session.MaxRetries,
		RetryMaterialization: a.Config.Session.RetryMaterialization || flags.retryMaterialization,
		EmitGeneratedCode:    flags.printCode,
		EmitRenderedTable:    flags.printOutput,
		Output:               stdout,
	}
	if cmd.Flags().Changed("retries") {
		opts.MaxRetries = flags.retries
	}

	result, err := asker.Ask(ctx, src, strings.TrimSpace(query), opts)
	if err != nil {
		reportSessionFailure(stderr, result, err, flags.printCode)
		return errReported
	}

	delay := env.opts.StreamDelay
	if flags.stream && delay == 0 {
		delay = defaultStreamDelay
	}
	if flags.stream {
		streamAnswer(stdout, result.Answer, delay)
	} else {
		_, _ = fmt.Fprintln(stdout, result.Answer)
	}

	if flags.export != "" && result.Table != nil {
		exported, err := a.Exporter.Export(ctx, flags.export, *result.Table)
		if err != nil {
			return fmt.Errorf("export result: %w", err)
		}
		_, _ = fmt.Fprint(stderr, pterm.Success.Sprintfln("Exported %d rows to %s", exported.Rows, exported.Location.String()))
	}
	return nil
}

func reportSessionFailure(w io.Writer, result probe.SessionResult, err error, codeShown bool) {
	switch {
	case errors.Is(err, probe.ErrRetryExhausted):
		_, _ = fmt.Fprint(w, pterm.Error.Sprintfln("No valid plan after %d attempt(s): %v", result.Attempts, err))
	case errors.Is(err, probe.ErrMaterialization):
		_, _ = fmt.Fprint(w, pterm.Error.Sprintfln("The plan was valid but failed to run: %v", err))
	default:
		_, _ = fmt.Fprint(w, pterm.Error.Sprintln(err.Error()))
	}
	if result.Code != "" && !codeShown {
		_, _ = fmt.Fprintf(w, "Last code:\n%s\n", result.Code)
	}
}

// streamAnswer prints text one word at a time, separated by single spaces.
func streamAnswer(w io.Writer, text string, delay time.Duration) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return
	}
	for _, word := range words {
		_, _ = fmt.Fprint(w, word, " ")
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	_, _ = fmt.Fprintln(w)
}
