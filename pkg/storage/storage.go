// Package storage persists run artifacts (cleaned tables, reports, raw
// uploads) in a local directory or an S3 bucket.
package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/logflow/tabprep/pkg/errors"
)

// Store reads and writes artifacts by key. Keys are slash separated and
// relative; they never escape the store root.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Location renders a key as a URI for logs and reports.
	Location(key string) string
}

// Config selects and configures a backend.
type Config struct {
	Backend      string // local | s3
	Dir          string
	Bucket       string
	Region       string
	Endpoint     string
	Prefix       string
	UsePathStyle bool

	// Optional static credentials; the default AWS chain is used otherwise.
	AccessKeyID     string
	SecretAccessKey string
}

// Open builds the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.Dir)
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, errors.Newf(errors.CodeConfig, "unknown storage backend %q", cfg.Backend)
	}
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.IsCode(err, errors.CodeNotFound)
}

func notFound(key string) error {
	return errors.New(errors.CodeNotFound, "object not found").WithContext("key", key)
}

// CleanKey normalizes a key and rejects absolute or escaping paths.
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || strings.HasPrefix(key, "/") || strings.Contains("/"+key+"/", "/../") {
		return "", errors.New(errors.CodeStorage, "invalid key").WithContext("key", key)
	}
	return cleaned, nil
}

// UploadKey is where a job's raw input is kept.
func UploadKey(jobID, filename string) string {
	return path.Join("uploads", jobID, safeName(path.Base(filename)))
}

// CleanedKey is where one cleaned sheet of a job is written.
func CleanedKey(jobID, sheet string) string {
	return path.Join("cleaned", jobID, safeName(sheet)+".parquet")
}

// ReportKey is where a job's processing report is written.
func ReportKey(jobID string) string {
	return path.Join("reports", jobID+".json")
}

func safeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || s == "." || s == ".." {
		return "sheet"
	}
	return b.String()
}
