// Package sourcetest opens small fixture sources for tests.
package sourcetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/duckmesh/probe/internal/source"
)

// SalesCSV is the order table used across tests.
const SalesCSV = `order_id,product,quantity,unit_price
1,A,2,10.0
2,B,1,20.0
3,A,1,10.0
`

// WriteFile writes content to name inside a fresh temp directory.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("os.WriteFile() error = %v", err)
	}
	return path
}

// Open opens a CSV fixture and closes it when the test ends.
func Open(t *testing.T, csv string) *source.Source {
	t.Helper()
	src, err := source.Open(context.Background(), WriteFile(t, "data.csv", csv), source.Options{})
	if err != nil {
		t.Fatalf("source.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })
	return src
}

// OpenSales opens SalesCSV.
func OpenSales(t *testing.T) *source.Source {
	t.Helper()
	return Open(t, SalesCSV)
}
