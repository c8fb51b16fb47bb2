package export

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/duckmesh/probe/internal/materialize"
	"github.com/duckmesh/probe/internal/plan"
	"github.com/duckmesh/probe/internal/source"
	"github.com/duckmesh/probe/internal/storage"
)

func revenueTable() materialize.Table {
	return materialize.Table{
		Columns: []materialize.Column{
			{Name: "product", Type: plan.TypeString},
			{Name: "total_revenue", Type: plan.TypeFloat},
			{Name: "orders", Type: plan.TypeInt},
			{Name: "first_order", Type: plan.TypeDate},
			{Name: "repeat", Type: plan.TypeBool},
		},
		Rows: [][]any{
			{"A", 30.0, int64(2), time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), true},
			{"B", 20.0, int64(1), nil, false},
		},
	}
}

func TestExportLocalRoundTripsThroughSource(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out", "revenue.parquet")
	result, err := NewExporter(nil).Export(context.Background(), dest, revenueTable())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Rows != 2 || result.Bytes == 0 || result.Location.Path != dest {
		t.Fatalf("Export() = %+v", result)
	}

	src, err := source.Open(context.Background(), dest, source.Options{})
	if err != nil {
		t.Fatalf("source.Open() error = %v", err)
	}
	defer func() { _ = src.Close() }()

	got, err := src.Query(context.Background(), `SELECT product, total_revenue, orders, first_order, "repeat" FROM df ORDER BY product`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	want := [][]any{
		{"A", 30.0, int64(2), "2025-01-02", true},
		{"B", 20.0, int64(1), nil, false},
	}
	if !reflect.DeepEqual(got.Rows, want) {
		t.Fatalf("Rows = %#v, want %#v", got.Rows, want)
	}
}

func TestExportRejectsNonParquetDestination(t *testing.T) {
	_, err := NewExporter(nil).Export(context.Background(), filepath.Join(t.TempDir(), "out.csv"), revenueTable())
	if err == nil || !strings.Contains(err.Error(), ".parquet") {
		t.Fatalf("Export() error = %v", err)
	}
}

func TestExportRemoteRequiresConfiguredBucket(t *testing.T) {
	if _, err := NewExporter(nil).Export(context.Background(), "s3://results/a.parquet", revenueTable()); err == nil {
		t.Fatal("Export() expected error without object store")
	}
	store := &memoryStore{bucket: "results"}
	if _, err := NewExporter(store).Export(context.Background(), "s3://other/a.parquet", revenueTable()); err == nil {
		t.Fatal("Export() expected error for foreign bucket")
	}
}

func TestExportUploadsToObjectStore(t *testing.T) {
	store := &memoryStore{bucket: "results"}
	result, err := NewExporter(store).Export(context.Background(), "s3://results/exports/a.parquet", revenueTable())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if store.key != "exports/a.parquet" || store.contentType != parquetContentType {
		t.Fatalf("stored key=%q type=%q", store.key, store.contentType)
	}
	if int64(len(store.body)) != result.Bytes || !bytes.HasPrefix(store.body, []byte("PAR1")) {
		t.Fatalf("stored %d bytes, result %d", len(store.body), result.Bytes)
	}
}

func TestExportSessionUsesPartitionedKey(t *testing.T) {
	store := &memoryStore{bucket: "results"}
	exporter := NewExporter(store)
	exporter.now = func() time.Time { return time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC) }

	result, err := exporter.ExportSession(context.Background(), "6a1f0c2e-4b8d-4e7a-9c3b-1d2e3f4a5b6c", revenueTable())
	if err != nil {
		t.Fatalf("ExportSession() error = %v", err)
	}
	want := "exports/date=2025-03-09/6a1f0c2e-4b8d-4e7a-9c3b-1d2e3f4a5b6c.parquet"
	if store.key != want || result.Location.String() != "s3://results/"+want {
		t.Fatalf("key = %q, location = %s", store.key, result.Location)
	}
}

func TestWriteParquetRejectsMismatchedRows(t *testing.T) {
	table := materialize.Table{
		Columns: []materialize.Column{{Name: "n", Type: plan.TypeInt}},
		Rows:    [][]any{{int64(1), int64(2)}},
	}
	if _, err := WriteParquet(io.Discard, table); err == nil {
		t.Fatal("WriteParquet() expected error for row width mismatch")
	}
	table = materialize.Table{
		Columns: []materialize.Column{{Name: "n", Type: plan.TypeInt}},
		Rows:    [][]any{{1.5}},
	}
	if _, err := WriteParquet(io.Discard, table); err == nil {
		t.Fatal("WriteParquet() expected error for fractional integer")
	}
	if _, err := WriteParquet(io.Discard, materialize.Table{}); err == nil {
		t.Fatal("WriteParquet() expected error for empty schema")
	}
}

func TestWriteParquetKeepsEmptyTables(t *testing.T) {
	var buf bytes.Buffer
	table := materialize.Table{Columns: []materialize.Column{{Name: "customer", Type: plan.TypeString}}}
	rows, err := WriteParquet(&buf, table)
	if err != nil {
		t.Fatalf("WriteParquet() error = %v", err)
	}
	if rows != 0 || buf.Len() == 0 {
		t.Fatalf("rows = %d, bytes = %d", rows, buf.Len())
	}
}

type memoryStore struct {
	bucket      string
	key         string
	contentType string
	body        []byte
}

func (m *memoryStore) Bucket() string { return m.bucket }

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.key, m.contentType, m.body = key, opts.ContentType, data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.body)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{Key: key, Size: int64(len(m.body))}, nil
}
