// Package watch feeds files dropped into watched directories to a handler,
// typically the job runner.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/logflow/tabprep/pkg/errors"
	"github.com/logflow/tabprep/pkg/ingest"
)

// Handler is called once a changed file has been quiet for the debounce
// interval.
type Handler func(ctx context.Context, path string) error

// Watcher monitors directories (or single files) for new and rewritten
// input files.
type Watcher struct {
	watcher  *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	exts     []string
	existing bool
	logger   *slog.Logger

	mu      sync.Mutex
	dirs    map[string]bool
	targets map[string]bool
	files   map[string]*fileState
	timers  map[string]*time.Timer
	pending []string
	wg      sync.WaitGroup
}

type fileState struct {
	modified   time.Time
	size       int64
	processing bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before it is handled.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithExtensions restricts directory watches to these extensions.
func WithExtensions(exts []string) Option {
	return func(w *Watcher) {
		if len(exts) > 0 {
			w.exts = exts
		}
	}
}

// WithExisting also handles files already present when a directory is
// added.
func WithExisting(on bool) Option {
	return func(w *Watcher) { w.existing = on }
}

// WithLogger sets the watcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher that calls handler for each settled file.
func New(handler Handler, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "create file watcher")
	}
	w := &Watcher{
		watcher:  fsw,
		handler:  handler,
		debounce: 500 * time.Millisecond,
		exts:     ingest.DefaultExtensions,
		logger:   slog.Default(),
		dirs:     make(map[string]bool),
		targets:  make(map[string]bool),
		files:    make(map[string]*fileState),
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add watches a directory, or a single file through its parent directory.
// Existing files are recorded so that only later changes trigger, unless
// WithExisting is set.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeFileNotFound, "resolve path").WithContext("path", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return errors.FileNotFound(abs)
	}

	dir := abs
	var present []string
	w.mu.Lock()
	if info.IsDir() {
		w.dirs[abs] = true
		entries, _ := os.ReadDir(abs)
		for _, e := range entries {
			p := filepath.Join(abs, e.Name())
			if e.Type().IsRegular() && w.eligible(p) {
				present = append(present, p)
			}
		}
	} else {
		dir = filepath.Dir(abs)
		w.targets[abs] = true
		present = []string{abs}
	}
	for _, p := range present {
		if w.existing {
			w.pending = append(w.pending, p)
		} else if st, err := os.Stat(p); err == nil {
			w.files[p] = &fileState{modified: st.ModTime(), size: st.Size()}
		}
	}
	w.mu.Unlock()

	if err := w.watcher.Add(dir); err != nil {
		return errors.Wrap(err, errors.CodeConfig, "watch directory").WithContext("dir", dir)
	}
	w.logger.Info("watching", "path", abs, "existing_files", len(present))
	return nil
}

// eligible reports whether a file in a watched directory should be
// handled. Hidden files and Excel lock files are skipped.
func (w *Watcher) eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	return slices.Contains(w.exts, strings.ToLower(filepath.Ext(base)))
}

func (w *Watcher) watched(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.targets[path] {
		return true
	}
	return w.dirs[filepath.Dir(path)] && w.eligible(path)
}

// Run processes events until ctx is canceled. With WithExisting, files
// found by Add are handled first.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.wg.Wait()
	w.mu.Lock()
	initial := w.pending
	w.pending = nil
	w.mu.Unlock()
	for _, p := range initial {
		w.schedule(ctx, p)
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path, err := filepath.Abs(ev.Name)
			if err != nil || !w.watched(path) {
				continue
			}
			w.schedule(ctx, path)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.handle(ctx, path)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, p)
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return
	}

	w.mu.Lock()
	delete(w.timers, path)
	state, ok := w.files[path]
	if !ok {
		state = &fileState{}
		w.files[path] = state
	}
	if state.processing || (state.modified.Equal(st.ModTime()) && state.size == st.Size()) {
		w.mu.Unlock()
		return
	}
	state.processing = true
	state.modified = st.ModTime()
	state.size = st.Size()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		w.mu.Unlock()
	}()

	w.logger.Info("file changed", "path", path, "size", st.Size())
	if err := w.handler(ctx, path); err != nil {
		w.logger.Error("handle file", "path", path, "error", err)
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	w.stopTimers()
	return w.watcher.Close()
}
