package cli

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/duckmesh/probe/internal/materialize"
	"github.com/duckmesh/probe/internal/source"
)

func newSchemaCommand(env *environment) *cobra.Command {
	var sampleRows int
	cmd := &cobra.Command{
		Use:   "schema <data>",
		Short: "Show the columns of a data file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := env.openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			src, err := a.OpenSource(ctx, args[0], false)
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			defer func() { _ = src.Close() }()

			out := cmd.OutOrStdout()
			rendered, err := renderSchema(src.Schema())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint(src.Location().String()))
			_, _ = fmt.Fprintln(out, rendered)

			if sampleRows <= 0 {
				return nil
			}
			rows, err := src.Sample(ctx, sampleRows)
			if err != nil {
				return fmt.Errorf("sample source: %w", err)
			}
			_, _ = fmt.Fprintln(out, materialize.Render(sampleTable(src.Schema(), rows), materialize.RenderOptions{
				MaxRows:      a.Config.Session.RenderMaxRows,
				MaxCellWidth: a.Config.Session.RenderMaxCellWidth,
			}))
			return nil
		},
	}
	cmd.Flags().IntVar(&sampleRows, "sample", 1, "Number of sample rows to print")
	return cmd
}

func renderSchema(columns []source.Column) (string, error) {
	data := pterm.TableData{{"Column", "Type", "DuckDB type"}}
	for _, column := range columns {
		data = append(data, []string{column.Name, column.Type.String(), column.DBType})
	}
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", fmt.Errorf("render schema: %w", err)
	}
	return rendered, nil
}

func sampleTable(schema []source.Column, rows [][]any) materialize.Table {
	table := materialize.Table{Rows: rows}
	for _, column := range schema {
		table.Columns = append(table.Columns, materialize.Column{Name: column.Name, Type: column.Type})
	}
	return table
}
