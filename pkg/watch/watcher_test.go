package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/tabprep/pkg/errors"
	"github.com/logflow/tabprep/pkg/logging"
)

func startWatcher(t *testing.T, path string, opts ...Option) <-chan string {
	t.Helper()
	got := make(chan string, 16)
	opts = append([]Option{WithDebounce(50 * time.Millisecond), WithLogger(logging.Discard())}, opts...)
	w, err := New(func(_ context.Context, p string) error {
		got <- filepath.Base(p)
		return nil
	}, opts...)
	require.NoError(t, err)
	require.NoError(t, w.Add(path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	return got
}

func expectFile(t *testing.T, got <-chan string, name string) {
	t.Helper()
	select {
	case p := <-got:
		assert.Equal(t, name, p)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", name)
	}
}

func expectNothing(t *testing.T, got <-chan string) {
	t.Helper()
	select {
	case p := <-got:
		t.Fatalf("unexpected file %s", p)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchDirectory(t *testing.T) {
	dir := t.TempDir()
	got := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.csv"), []byte("a\n1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "~$book.xlsx"), []byte("lock"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sales.csv"), []byte("a,b\n1,2\n"), 0o644))

	expectFile(t, got, "sales.csv")
	expectNothing(t, got)
}

func TestWatchDebouncesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	got := startWatcher(t, dir, WithDebounce(200*time.Millisecond))

	path := filepath.Join(dir, "burst.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.WriteString("a,b\n")
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	expectFile(t, got, "burst.csv")
	expectNothing(t, got)
}

func TestWatchSingleFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "ledger.txt")
	require.NoError(t, os.WriteFile(target, []byte("a\n1\n"), 0o644))
	got := startWatcher(t, target)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.csv"), []byte("a\n1\n"), 0o644))
	expectNothing(t, got)

	require.NoError(t, os.WriteFile(target, []byte("a\n1\n2\n"), 0o644))
	expectFile(t, got, "ledger.txt")
}

func TestWatchExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.csv"), []byte("a\n1\n"), 0o644))

	got := startWatcher(t, dir, WithExisting(true))
	expectFile(t, got, "old.csv")
}

func TestWatchMissingPath(t *testing.T) {
	w, err := New(func(context.Context, string) error { return nil })
	require.NoError(t, err)
	defer w.Close()

	err = w.Add(filepath.Join(t.TempDir(), "gone"))
	assert.True(t, errors.IsCode(err, errors.CodeFileNotFound))
}

func TestEligible(t *testing.T) {
	w, err := New(nil, WithExtensions([]string{".csv"}))
	require.NoError(t, err)
	defer w.Close()

	assert.True(t, w.eligible("/in/a.CSV"))
	assert.False(t, w.eligible("/in/a.xlsx"))
	assert.False(t, w.eligible("/in/.a.csv"))
}
