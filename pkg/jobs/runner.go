package jobs

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/logflow/tabprep/internal/pool"
	"github.com/logflow/tabprep/pkg/errors"
	"github.com/logflow/tabprep/pkg/monitor"
	"github.com/logflow/tabprep/pkg/preprocess"
	"github.com/logflow/tabprep/pkg/resilience"
	"github.com/logflow/tabprep/pkg/storage"
	"github.com/logflow/tabprep/pkg/writer"
)

// Request describes one file to process.
type Request struct {
	// Path is the local file to read.
	Path string
	// Name is shown in job listings; defaults to the file name.
	Name string
	// InputKey is the storage key of the uploaded original, if any.
	InputKey string
	// Financial selects the financial-statement path.
	Financial bool
}

// Runner executes requests in the background with bounded concurrency,
// writes their artifacts and keeps the job store current.
type Runner struct {
	pre       *preprocess.Preprocessor
	store     Store
	artifacts storage.Store
	sem       *semaphore.Weighted
	breaker   *resilience.Breaker
	writer    writer.Config
	logger    *slog.Logger
	hooks     []func(*Job)
	wg        sync.WaitGroup
	now       func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithWorkers bounds the number of concurrently processed files.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithWriterConfig sets the Parquet settings for cleaned artifacts.
func WithWriterConfig(cfg writer.Config) Option {
	return func(r *Runner) { r.writer = cfg }
}

// WithBreaker gates Submit on b. Rejected submissions return a
// CodeOverloaded error and create no job.
func WithBreaker(b *resilience.Breaker) Option {
	return func(r *Runner) { r.breaker = b }
}

// WithHook registers fn to receive a copy of the job on every change.
func WithHook(fn func(*Job)) Option {
	return func(r *Runner) { r.hooks = append(r.hooks, fn) }
}

// NewRunner creates a runner. A nil artifact store skips artifact writes.
func NewRunner(pre *preprocess.Preprocessor, store Store, artifacts storage.Store, opts ...Option) *Runner {
	r := &Runner{
		pre:       pre,
		store:     store,
		artifacts: artifacts,
		sem:       semaphore.NewWeighted(2),
		writer:    writer.DefaultConfig(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle tracks a submitted job.
type Handle struct {
	ID string

	done chan struct{}
	res  *preprocess.Result
	job  *Job
}

// Done is closed when the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the job finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (*preprocess.Result, *Job, error) {
	select {
	case <-h.done:
		return h.res, h.job, nil
	case <-ctx.Done():
		return nil, nil, errors.Wrap(ctx.Err(), errors.CodeContextCanceled, "wait for job").WithContext("job_id", h.ID)
	}
}

// Submit records a pending job and starts it in the background. The run
// is detached from ctx cancellation so it outlives the submitting request.
func (r *Runner) Submit(ctx context.Context, req Request) (*Handle, error) {
	if r.breaker != nil {
		if err := r.breaker.Allow(); err != nil {
			r.logger.Warn("job rejected", "file", req.Path, "error", err)
			return nil, err
		}
	}
	name := req.Name
	if name == "" {
		name = filepath.Base(req.Path)
	}
	job := &Job{
		ID:        uuid.NewString(),
		Name:      name,
		State:     StatePending,
		Financial: req.Financial,
		InputKey:  req.InputKey,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.Put(ctx, job); err != nil {
		r.done(err)
		return nil, err
	}
	r.notify(job)

	h := &Handle{ID: job.ID, done: make(chan struct{})}
	runCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(h.done)
		var err error
		h.res, h.job, err = r.execute(runCtx, job, req)
		r.done(err)
	}()
	return h, nil
}

// Wait blocks until every submitted job has finished.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) done(err error) {
	if r.breaker != nil {
		r.breaker.Done(err)
	}
}

// execute runs one job. The returned error is the cause of a failed job.
func (r *Runner) execute(ctx context.Context, job *Job, req Request) (*preprocess.Result, *Job, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.fail(ctx, job, err)
		return nil, job, err
	}
	defer r.sem.Release(1)

	started := r.now().UTC()
	job.State = StateProcessing
	job.StartedAt = &started
	r.save(ctx, job)

	var mu sync.Mutex
	progress := preprocess.WithProgress(func(st monitor.Status) {
		mu.Lock()
		job.Progress = st.Progress
		job.CurrentNode = st.CurrentNode
		snap := job.Clone()
		mu.Unlock()
		r.save(ctx, snap)
	})

	var res *preprocess.Result
	if req.Financial {
		res = r.pre.FinancialFile(ctx, req.Path, preprocess.WithRunID(job.ID), progress)
	} else {
		res = r.pre.ProcessFile(ctx, req.Path, preprocess.WithRunID(job.ID), progress)
	}

	mu.Lock()
	defer mu.Unlock()
	if err := r.writeArtifacts(ctx, job, res); err != nil {
		r.logger.Error("artifact write failed", "job_id", job.ID, "error", err)
		r.fail(ctx, job, err)
		return res, job.Clone(), err
	}
	if !res.OK() {
		err := res.Err()
		if err == nil {
			err = errors.New(errors.CodeStageFailed, res.Error)
		}
		r.fail(ctx, job, err)
		return res, job.Clone(), err
	}

	done := r.now().UTC()
	job.State = StateCompleted
	job.Progress = 100
	job.CurrentNode = ""
	job.CompletedAt = &done
	job.QualityScore = res.Quality.Overall
	job.Rows = res.Metadata.FinalShape.Rows
	job.Columns = res.Metadata.FinalShape.Columns
	job.Warnings = res.Audit.Totals.Warnings
	r.save(ctx, job)
	r.logger.Info("job completed",
		"job_id", job.ID,
		"file", job.Name,
		"quality", job.QualityScore,
		"rows", job.Rows,
	)
	return res, job.Clone(), nil
}

// writeArtifacts stores the JSON report and one Parquet file per sheet
// that produced data.
func (r *Runner) writeArtifacts(ctx context.Context, job *Job, res *preprocess.Result) error {
	if r.artifacts == nil {
		return nil
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := writer.WriteJSON(buf, res); err != nil {
		return err
	}
	key := storage.ReportKey(job.ID)
	if err := r.artifacts.Put(ctx, key, buf, writer.ContentTypeJSON); err != nil {
		return err
	}
	job.ReportKey = key

	sheets := res.SheetNames()
	job.Sheets = sheets
	job.Artifacts = make(map[string]string, len(sheets))
	for _, name := range sheets {
		sr := res
		if s, ok := res.Sheets[name]; ok {
			sr = s
		}
		if sr.Data == nil {
			continue
		}
		cfg := r.writer
		cfg.Metadata = map[string]string{
			"tabprep.job_id": job.ID,
			"tabprep.sheet":  name,
			"tabprep.source": job.Name,
		}
		buf.Reset()
		if err := writer.WriteParquet(buf, sr.Data, sr.Metadata.Signatures, cfg); err != nil {
			return err
		}
		key := storage.CleanedKey(job.ID, name)
		if err := r.artifacts.Put(ctx, key, buf, writer.ContentTypeParquet); err != nil {
			return err
		}
		job.Artifacts[name] = key
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, job *Job, err error) {
	done := r.now().UTC()
	job.State = StateFailed
	job.CompletedAt = &done
	job.CurrentNode = ""
	if err != nil {
		job.Error = err.Error()
	}
	r.save(ctx, job)
	r.logger.Warn("job failed", "job_id", job.ID, "file", job.Name, "error", err)
}

func (r *Runner) save(ctx context.Context, job *Job) {
	if err := r.store.Put(ctx, job); err != nil {
		r.logger.Error("job store write failed", "job_id", job.ID, "error", err)
	}
	r.notify(job)
}

func (r *Runner) notify(job *Job) {
	for _, fn := range r.hooks {
		fn(job.Clone())
	}
}

// Get returns a job from the store.
func (r *Runner) Get(ctx context.Context, id string) (*Job, error) {
	return r.store.Get(ctx, id)
}

// List returns all known jobs, newest first.
func (r *Runner) List(ctx context.Context) ([]*Job, error) {
	return r.store.List(ctx)
}

// Artifacts exposes the artifact store.
func (r *Runner) Artifacts() storage.Store { return r.artifacts }
