package storage

import (
	"testing"
	"time"
)

func TestParseLocationLocalPath(t *testing.T) {
	loc, err := ParseLocation("data/./sales.csv")
	if err != nil {
		t.Fatalf("ParseLocation() error = %v", err)
	}
	if loc.IsRemote() {
		t.Fatal("local path reported as remote")
	}
	if loc.Path != "data/sales.csv" {
		t.Fatalf("Path = %q", loc.Path)
	}
	if loc.Ext() != "csv" {
		t.Fatalf("Ext() = %q", loc.Ext())
	}
}

func TestParseLocationS3(t *testing.T) {
	loc, err := ParseLocation("s3://datasets/sales/2024.PARQUET")
	if err != nil {
		t.Fatalf("ParseLocation() error = %v", err)
	}
	if !loc.IsRemote() || loc.Bucket != "datasets" || loc.Key != "sales/2024.PARQUET" {
		t.Fatalf("location = %#v", loc)
	}
	if loc.Ext() != "parquet" {
		t.Fatalf("Ext() = %q", loc.Ext())
	}
	if loc.String() != "s3://datasets/sales/2024.PARQUET" {
		t.Fatalf("String() = %q", loc.String())
	}
}

func TestParseLocationRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"", "ftp://host/file.csv", "s3://datasets/", "s3://../x.csv"} {
		if _, err := ParseLocation(raw); err == nil {
			t.Fatalf("ParseLocation(%q) expected error", raw)
		}
	}
}

func TestBuildExportKey(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 4, 5, 0, 0, time.FixedZone("x", -5*3600))
	key, err := BuildExportKey("4f7c2a8e-1d2b-4c3a-9e8f-0a1b2c3d4e5f", ts)
	if err != nil {
		t.Fatalf("BuildExportKey() error = %v", err)
	}
	want := "exports/date=2026-02-19/4f7c2a8e-1d2b-4c3a-9e8f-0a1b2c3d4e5f.parquet"
	if key != want {
		t.Fatalf("BuildExportKey() = %q, want %q", key, want)
	}
}

func TestBuildExportKeyRejectsInvalidSession(t *testing.T) {
	if _, err := BuildExportKey("../oops", time.Now()); err == nil {
		t.Fatal("expected invalid component error")
	}
}
