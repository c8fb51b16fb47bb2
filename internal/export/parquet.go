// Package export writes materialized result tables to Parquet, locally or
// to object storage.
package export

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/probe/internal/materialize"
	"github.com/duckmesh/probe/internal/plan"
)

const schemaName = "probe_result"

// WriteParquet encodes table as a single Parquet file. Every column is an
// optional leaf so nulls survive; dates and timestamps are ISO strings.
func WriteParquet(w io.Writer, table materialize.Table) (int64, error) {
	if len(table.Columns) == 0 {
		return 0, fmt.Errorf("table has no columns")
	}

	group := parquet.Group{}
	for _, column := range table.Columns {
		if _, exists := group[column.Name]; exists {
			return 0, fmt.Errorf("duplicate column %q", column.Name)
		}
		group[column.Name] = parquet.Optional(leafFor(column.Type))
	}
	schema := parquet.NewSchema(schemaName, group)

	// Group fields are ordered by name, not by table position.
	position := make(map[string]int, len(table.Columns))
	for i, column := range table.Columns {
		position[column.Name] = i
	}
	fields := schema.Fields()
	order := make([]int, len(fields))
	for i, field := range fields {
		order[i] = position[field.Name()]
	}

	rows := make([]parquet.Row, 0, len(table.Rows))
	for r, values := range table.Rows {
		if len(values) != len(table.Columns) {
			return 0, fmt.Errorf("row %d has %d values, want %d", r, len(values), len(table.Columns))
		}
		row := make(parquet.Row, len(fields))
		for leaf, index := range order {
			value, err := parquetValue(table.Columns[index].Type, values[index])
			if err != nil {
				return 0, fmt.Errorf("row %d column %q: %w", r, table.Columns[index].Name, err)
			}
			if value.IsNull() {
				row[leaf] = value.Level(0, 0, leaf)
			} else {
				row[leaf] = value.Level(0, 1, leaf)
			}
		}
		rows = append(rows, row)
	}

	writer := parquet.NewWriter(w, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return 0, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close parquet writer: %w", err)
	}
	return int64(len(rows)), nil
}

func leafFor(typ plan.Type) parquet.Node {
	switch typ {
	case plan.TypeInt:
		return parquet.Int(64)
	case plan.TypeFloat:
		return parquet.Leaf(parquet.DoubleType)
	case plan.TypeBool:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

func parquetValue(typ plan.Type, value any) (parquet.Value, error) {
	if value == nil {
		return parquet.NullValue(), nil
	}
	switch typ {
	case plan.TypeInt:
		switch v := value.(type) {
		case int64:
			return parquet.Int64Value(v), nil
		case float64:
			if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
				return parquet.Value{}, fmt.Errorf("value %v is not an integer", v)
			}
			return parquet.Int64Value(int64(v)), nil
		}
	case plan.TypeFloat:
		switch v := value.(type) {
		case float64:
			return parquet.DoubleValue(v), nil
		case int64:
			return parquet.DoubleValue(float64(v)), nil
		}
	case plan.TypeBool:
		if v, ok := value.(bool); ok {
			return parquet.BooleanValue(v), nil
		}
	default:
		return parquet.ByteArrayValue([]byte(stringValue(typ, value))), nil
	}
	return parquet.Value{}, fmt.Errorf("unexpected %T for %s column", value, typ)
}

func stringValue(typ plan.Type, value any) string {
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		if typ == plan.TypeDate {
			return v.Format(time.DateOnly)
		}
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}
