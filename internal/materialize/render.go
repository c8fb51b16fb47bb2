package materialize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

const (
	DefaultMaxRows      = 100
	DefaultMaxCellWidth = 50
	ellipsis            = "…"
)

type RenderOptions struct {
	MaxRows      int
	MaxCellWidth int
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.MaxRows <= 0 {
		o.MaxRows = DefaultMaxRows
	}
	if o.MaxCellWidth <= 0 {
		o.MaxCellWidth = DefaultMaxCellWidth
	}
	return o
}

// Render draws the table as a box with a shape line, a header, a dtype row
// and at most MaxRows rows. Longer tables keep their head and tail around an
// ellipsis row.
func Render(table Table, opts RenderOptions) string {
	opts = opts.withDefaults()
	rowCount, columnCount := table.Shape()

	header := make([]string, columnCount)
	dtypes := make([]string, columnCount)
	for i, column := range table.Columns {
		header[i] = truncate(column.Name, opts.MaxCellWidth)
		dtypes[i] = column.Type.String()
	}

	body := make([][]string, 0, min(rowCount, opts.MaxRows+1))
	appendRow := func(row []any) {
		cells := make([]string, columnCount)
		for i := range cells {
			if i < len(row) {
				cells[i] = truncate(formatValue(row[i]), opts.MaxCellWidth)
			}
		}
		body = append(body, cells)
	}
	if rowCount <= opts.MaxRows {
		for _, row := range table.Rows {
			appendRow(row)
		}
	} else {
		head := (opts.MaxRows + 1) / 2
		tail := opts.MaxRows - head
		for _, row := range table.Rows[:head] {
			appendRow(row)
		}
		gap := make([]string, columnCount)
		for i := range gap {
			gap[i] = ellipsis
		}
		body = append(body, gap)
		for _, row := range table.Rows[rowCount-tail:] {
			appendRow(row)
		}
	}

	widths := make([]int, columnCount)
	for i := range widths {
		widths[i] = max(runewidth.StringWidth(header[i]), runewidth.StringWidth(dtypes[i]), 3)
		for _, cells := range body {
			widths[i] = max(widths[i], runewidth.StringWidth(cells[i]))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "shape: (%d, %d)\n", rowCount, columnCount)
	if columnCount == 0 {
		b.WriteString("┌┐\n└┘")
		return b.String()
	}
	b.WriteString(border("┌", "┬", "┐", "─", widths))
	b.WriteString(line(header, widths))
	b.WriteString(line(repeat("---", columnCount), widths))
	b.WriteString(line(dtypes, widths))
	b.WriteString(border("╞", "╪", "╡", "═", widths))
	for _, cells := range body {
		b.WriteString(line(cells, widths))
	}
	b.WriteString(strings.TrimSuffix(border("└", "┴", "┘", "─", widths), "\n"))
	return b.String()
}

func border(left, join, right, fill string, widths []int) string {
	parts := make([]string, len(widths))
	for i, width := range widths {
		parts[i] = strings.Repeat(fill, width+2)
	}
	return left + strings.Join(parts, join) + right + "\n"
}

func line(cells []string, widths []int) string {
	parts := make([]string, len(widths))
	for i, width := range widths {
		parts[i] = " " + runewidth.FillRight(cells[i], width) + " "
	}
	return "│" + strings.Join(parts, "┆") + "│\n"
}

func repeat(value string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func truncate(value string, width int) string {
	if runewidth.StringWidth(value) <= width {
		return value
	}
	return runewidth.Truncate(value, width, ellipsis)
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(typed)
	case float64:
		return formatFloat(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format(time.DateOnly)
		}
		return typed.Format(time.DateTime)
	default:
		return fmt.Sprint(typed)
	}
}

func formatFloat(value float64) string {
	text := strconv.FormatFloat(value, 'f', 6, 64)
	text = strings.TrimRight(text, "0")
	if strings.HasSuffix(text, ".") {
		text += "0"
	}
	return text
}
