package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/duckmesh/probe/internal/app"
	"github.com/duckmesh/probe/internal/migrations"
)

const migrateTimeout = 30 * time.Second

func newMigrateCommand(env *environment) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:       "migrate up|down|status",
		Short:     "Manage the session history schema",
		Long:      `migrate applies or rolls back the history schema in PROBE_HISTORY_DSN. --steps 0 means all pending migrations for up and one for down.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 0 {
				return fmt.Errorf("--steps must be non-negative, got %d", steps)
			}
			cfg, err := env.config()
			if err != nil {
				return err
			}
			if cfg.History.DSN == "" {
				return errors.New("PROBE_HISTORY_DSN is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
			defer cancel()
			db, err := app.OpenHistoryDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			out := cmd.OutOrStdout()
			runner := migrations.NewRunner()
			switch args[0] {
			case "up":
				applied, err := runner.Up(ctx, db, steps)
				if err != nil {
					return fmt.Errorf("migration up failed: %w", err)
				}
				_, _ = fmt.Fprint(out, pterm.Success.Sprintfln("applied %d migration(s)", applied))
			case "down":
				rolledBack, err := runner.Down(ctx, db, steps)
				if err != nil {
					return fmt.Errorf("migration down failed: %w", err)
				}
				_, _ = fmt.Fprint(out, pterm.Success.Sprintfln("rolled back %d migration(s)", rolledBack))
			case "status":
				statuses, err := runner.Status(ctx, db)
				if err != nil {
					return fmt.Errorf("migration status failed: %w", err)
				}
				data := pterm.TableData{{"Version", "Name", "Applied"}}
				for _, status := range statuses {
					data = append(data, []string{fmt.Sprintf("%06d", status.Version), status.Name, fmt.Sprint(status.Applied)})
				}
				rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
				if err != nil {
					return fmt.Errorf("render migration status: %w", err)
				}
				_, _ = fmt.Fprintln(out, rendered)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migration steps")
	return cmd
}
