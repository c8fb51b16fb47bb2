package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/duckmesh/probe/internal/app"
	"github.com/duckmesh/probe/internal/history"
)

const maxQueryWidth = 48

func newHistoryCommand(env *environment) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent ask sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := env.openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if !a.Config.History.Enabled {
				return app.ErrHistoryDisabled
			}

			entries, err := a.History.List(ctx, history.ClampLimit(limit))
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprint(cmd.OutOrStdout(), pterm.Info.Sprintln("No sessions recorded yet."))
				return nil
			}
			rendered, err := renderHistory(entries)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", history.DefaultListLimit, "Number of sessions to show")
	return cmd
}

func renderHistory(entries []history.Entry) (string, error) {
	data := pterm.TableData{{"Finished", "State", "Retries", "Rows", "Duration", "Query", "Session"}}
	for _, entry := range entries {
		rows := "-"
		if entry.Rows != nil {
			rows = strconv.Itoa(*entry.Rows)
		}
		data = append(data, []string{
			entry.FinishedAt.Local().Format(time.DateTime),
			entry.State,
			fmt.Sprintf("%d/%d", entry.Retries, entry.MaxRetries),
			rows,
			entry.Duration().Round(time.Millisecond).String(),
			shorten(entry.Query, maxQueryWidth),
			entry.SessionID.String(),
		})
	}
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", fmt.Errorf("render history: %w", err)
	}
	return rendered, nil
}

func shorten(value string, width int) string {
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	return string(runes[:width-1]) + "…"
}
