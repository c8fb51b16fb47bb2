// Package source opens a tabular file as a read-only DuckDB view named df.
// Local paths and s3:// objects are supported; object store sources are
// copied into a private temp directory for the lifetime of the Source.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/probe/internal/plan"
	"github.com/duckmesh/probe/internal/storage"
)

const ViewName = "df"

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatJSON    Format = "json"
)

type Column struct {
	Name   string
	DBType string
	Type   plan.Type
}

type Options struct {
	// Store serves s3:// locations. Remote sources fail without it.
	Store storage.ObjectStore
	// Bucket, when set, is the only bucket remote sources may name.
	Bucket string
	// Root, when set, confines local sources to this directory.
	Root string
}

type Source struct {
	db       *sql.DB
	location storage.Location
	format   Format
	workDir  string
	columns  []Column
}

type Result struct {
	Columns []string
	Rows    [][]any
}

func Open(ctx context.Context, raw string, opts Options) (*Source, error) {
	location, err := storage.ParseLocation(raw)
	if err != nil {
		return nil, err
	}
	format, err := DetectFormat(location.Ext())
	if err != nil {
		return nil, err
	}

	src := &Source{location: location, format: format}
	localPath := location.Path
	if location.IsRemote() {
		localPath, err = src.fetch(ctx, opts)
		if err != nil {
			_ = src.Close()
			return nil, err
		}
	} else {
		localPath, err = confine(location.Path, opts.Root)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(localPath); err != nil {
			return nil, fmt.Errorf("stat source %q: %w", location.Path, err)
		}
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	src.db = db

	viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM %s(%s)`, quoteIdent(ViewName), readerFunction(format), quoteString(localPath))
	if _, err := db.ExecContext(ctx, viewSQL); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("create view for source %q: %w", location.String(), err)
	}

	columns, err := src.describe(ctx)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	src.columns = columns
	return src, nil
}

func DetectFormat(ext string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "csv", "tsv", "txt":
		return FormatCSV, nil
	case "parquet", "pq":
		return FormatParquet, nil
	case "json", "jsonl", "ndjson":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported source format %q", ext)
	}
}

func readerFunction(format Format) string {
	switch format {
	case FormatParquet:
		return "read_parquet"
	case FormatJSON:
		return "read_json_auto"
	default:
		return "read_csv_auto"
	}
}

func (s *Source) fetch(ctx context.Context, opts Options) (string, error) {
	if opts.Store == nil {
		return "", fmt.Errorf("object store is required for source %q", s.location.String())
	}
	if opts.Bucket != "" && s.location.Bucket != opts.Bucket {
		return "", fmt.Errorf("bucket %q is not allowed", s.location.Bucket)
	}

	workDir, err := os.MkdirTemp("", "probe-source-")
	if err != nil {
		return "", fmt.Errorf("create source temp dir: %w", err)
	}
	s.workDir = workDir

	reader, err := opts.Store.Get(ctx, s.location.Key)
	if err != nil {
		return "", fmt.Errorf("get object %q: %w", s.location.Key, err)
	}
	localPath := filepath.Join(workDir, "source."+s.location.Ext())
	if err := writeFile(localPath, reader); err != nil {
		_ = reader.Close()
		return "", fmt.Errorf("write local source file %q: %w", localPath, err)
	}
	if err := reader.Close(); err != nil {
		return "", fmt.Errorf("close object %q: %w", s.location.Key, err)
	}
	return localPath, nil
}

// confine resolves path and rejects it when it leaves root.
func confine(path, root string) (string, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve source path %q: %w", path, err)
	}
	if strings.TrimSpace(root) == "" {
		return absolute, nil
	}
	absoluteRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve source root %q: %w", root, err)
	}
	rel, err := filepath.Rel(absoluteRoot, absolute)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("source %q is outside %q", path, root)
	}
	return absolute, nil
}

func (s *Source) describe(ctx context.Context) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, "DESCRIBE SELECT * FROM "+quoteIdent(ViewName))
	if err != nil {
		return nil, fmt.Errorf("describe source: %w", err)
	}
	defer func() { _ = rows.Close() }()

	fields, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("describe columns: %w", err)
	}
	if len(fields) < 2 {
		return nil, fmt.Errorf("describe source: unexpected result with %d columns", len(fields))
	}

	columns := make([]Column, 0)
	for rows.Next() {
		values := make([]any, len(fields))
		targets := make([]any, len(fields))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan describe row: %w", err)
		}
		name := fmt.Sprint(normalizeValue(values[0]))
		dbType := fmt.Sprint(normalizeValue(values[1]))
		columns = append(columns, Column{Name: name, DBType: dbType, Type: plan.TypeFromDuckDB(dbType)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate describe rows: %w", err)
	}
	return columns, nil
}

func (s *Source) Location() storage.Location {
	return s.location
}

func (s *Source) Format() Format {
	return s.format
}

// Schema returns the columns of the source in file order.
func (s *Source) Schema() []Column {
	return append([]Column(nil), s.columns...)
}

// Sample returns up to n rows without scanning the whole source.
func (s *Source) Sample(ctx context.Context, n int) ([][]any, error) {
	if n <= 0 {
		n = 1
	}
	result, err := s.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(ViewName), n))
	if err != nil {
		return nil, fmt.Errorf("sample source: %w", err)
	}
	return result.Rows, nil
}

// Query runs a read-only statement against the source view.
func (s *Source) Query(ctx context.Context, statement string) (Result, error) {
	statement = stripTrailingSemicolons(statement)
	if statement == "" {
		return Result{}, fmt.Errorf("sql is required")
	}

	rows, err := s.db.QueryContext(ctx, statement)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return Result{Columns: columns, Rows: resultRows}, nil
}

// Explain binds statement without executing it.
func (s *Source) Explain(ctx context.Context, statement string) error {
	rows, err := s.db.QueryContext(ctx, "EXPLAIN "+stripTrailingSemicolons(statement))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
	}
	return rows.Err()
}

func (s *Source) Close() error {
	var closeErr error
	if s.db != nil {
		closeErr = s.db.Close()
	}
	if s.workDir != "" {
		if err := os.RemoveAll(s.workDir); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
