package storage

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

const schemeS3 = "s3"

// Location is a parsed data or export location: either a local path or an
// object in a bucket.
type Location struct {
	Scheme string
	Bucket string
	Key    string
	Path   string
}

func (l Location) IsRemote() bool {
	return l.Scheme == schemeS3
}

// Ext returns the lower-cased file extension of the location without the dot.
func (l Location) Ext() string {
	name := l.Path
	if l.IsRemote() {
		name = l.Key
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

func (l Location) String() string {
	if l.IsRemote() {
		return schemeS3 + "://" + l.Bucket + "/" + l.Key
	}
	return l.Path
}

func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("location is required")
	}
	if !strings.Contains(raw, "://") {
		return Location{Path: filepath.Clean(raw)}, nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse location %q: %w", raw, err)
	}
	if parsed.Scheme != schemeS3 {
		return Location{}, fmt.Errorf("unsupported location scheme %q", parsed.Scheme)
	}
	if err := validatePathComponent(parsed.Host, "bucket"); err != nil {
		return Location{}, err
	}
	key := strings.TrimPrefix(parsed.Path, "/")
	if key == "" {
		return Location{}, fmt.Errorf("object key is required in %q", raw)
	}
	return Location{Scheme: schemeS3, Bucket: parsed.Host, Key: key}, nil
}

// BuildExportKey returns the object key for a session result export.
func BuildExportKey(sessionID string, at time.Time) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	ts := at.UTC()
	return path.Join(
		"exports",
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		sessionID+".parquet",
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
