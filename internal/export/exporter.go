package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/duckmesh/probe/internal/materialize"
	"github.com/duckmesh/probe/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

// BucketStore is an object store bound to one bucket.
type BucketStore interface {
	storage.ObjectStore
	Bucket() string
}

type Result struct {
	Location storage.Location
	Rows     int64
	Bytes    int64
}

type Exporter struct {
	store BucketStore
	now   func() time.Time
}

// NewExporter returns an exporter. store may be nil, in which case only
// local destinations are accepted.
func NewExporter(store BucketStore) *Exporter {
	return &Exporter{store: store, now: time.Now}
}

// Export writes table to dest, a local path or s3://bucket/key.
func (e *Exporter) Export(ctx context.Context, dest string, table materialize.Table) (Result, error) {
	location, err := storage.ParseLocation(dest)
	if err != nil {
		return Result{}, err
	}
	if location.Ext() != "parquet" {
		return Result{}, fmt.Errorf("export destination %q must end in .parquet", dest)
	}
	if location.IsRemote() {
		return e.upload(ctx, location, table)
	}
	return e.writeLocal(location, table)
}

// ExportSession uploads table under the standard export key for sessionID.
func (e *Exporter) ExportSession(ctx context.Context, sessionID string, table materialize.Table) (Result, error) {
	if e.store == nil {
		return Result{}, fmt.Errorf("object store is not configured")
	}
	key, err := storage.BuildExportKey(sessionID, e.now())
	if err != nil {
		return Result{}, fmt.Errorf("build export key: %w", err)
	}
	return e.upload(ctx, storage.Location{Scheme: "s3", Bucket: e.store.Bucket(), Key: key}, table)
}

func (e *Exporter) upload(ctx context.Context, location storage.Location, table materialize.Table) (Result, error) {
	if e.store == nil {
		return Result{}, fmt.Errorf("object store is not configured")
	}
	if location.Bucket != e.store.Bucket() {
		return Result{}, fmt.Errorf("bucket %q is not the configured bucket %q", location.Bucket, e.store.Bucket())
	}

	var buf bytes.Buffer
	rows, err := WriteParquet(&buf, table)
	if err != nil {
		return Result{}, err
	}
	size := int64(buf.Len())
	if _, err := e.store.Put(ctx, location.Key, &buf, size, storage.PutOptions{ContentType: parquetContentType}); err != nil {
		return Result{}, fmt.Errorf("upload export %s: %w", location, err)
	}
	return Result{Location: location, Rows: rows, Bytes: size}, nil
}

func (e *Exporter) writeLocal(location storage.Location, table materialize.Table) (Result, error) {
	if err := os.MkdirAll(filepath.Dir(location.Path), 0o755); err != nil {
		return Result{}, fmt.Errorf("create export directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(location.Path), ".probe-export-*")
	if err != nil {
		return Result{}, fmt.Errorf("create export file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	rows, err := WriteParquet(tmp, table)
	if err != nil {
		_ = tmp.Close()
		return Result{}, err
	}
	info, err := tmp.Stat()
	if err != nil {
		_ = tmp.Close()
		return Result{}, fmt.Errorf("stat export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tmp.Name(), location.Path); err != nil {
		return Result{}, fmt.Errorf("move export into place: %w", err)
	}
	return Result{Location: location, Rows: rows, Bytes: info.Size()}, nil
}
