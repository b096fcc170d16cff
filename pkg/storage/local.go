package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/logflow/tabprep/pkg/errors"
)

// Local stores artifacts under a root directory.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New(errors.CodeConfig, "local storage needs a directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "create storage root").WithContext("dir", root)
	}
	return &Local{root: root}, nil
}

func (s *Local) path(key string) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(k)), nil
}

// Put writes to a temporary file and renames it into place, so readers
// never observe a partial artifact.
func (s *Local) Put(ctx context.Context, key string, r io.Reader, _ string) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "create directory").WithContext("key", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return errors.Wrap(err, errors.CodeStorage, "create temp file").WithContext("key", key)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, readerWithContext(ctx, r)); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.CodeStorage, "write artifact").WithContext("key", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "close artifact").WithContext("key", key)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "commit artifact").WithContext("key", key)
	}
	return nil
}

// Get opens an artifact.
func (s *Local) Get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, notFound(key)
		}
		return nil, 0, errors.Wrap(err, errors.CodeStorage, "open artifact").WithContext("key", key)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, errors.Wrap(err, errors.CodeStorage, "stat artifact").WithContext("key", key)
	}
	return f, info.Size(), nil
}

// Exists reports whether a regular file exists at key.
func (s *Local) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	switch {
	case os.IsNotExist(err):
		return false, nil
	case err != nil:
		return false, errors.Wrap(err, errors.CodeStorage, "stat artifact").WithContext("key", key)
	}
	return info.Mode().IsRegular(), nil
}

// Location returns the absolute file path of key.
func (s *Local) Location(key string) string {
	p, err := s.path(key)
	if err != nil {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return "file://" + filepath.ToSlash(abs)
	}
	return p
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
