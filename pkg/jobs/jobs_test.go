package jobs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/tabprep/pkg/errors"
	"github.com/logflow/tabprep/pkg/logging"
	"github.com/logflow/tabprep/pkg/preprocess"
	"github.com/logflow/tabprep/pkg/resilience"
	"github.com/logflow/tabprep/pkg/storage"
	"github.com/logflow/tabprep/pkg/writer"
)

func writeCSV(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const ordersCSV = "order_id,amount,status\nA-1,$10.50,open\nA-2,$7.25,closed\nA-3,$3.00,open\n"

func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Get(ctx, "missing")
	assert.True(t, errors.IsCode(err, errors.CodeJobNotFound))

	older := &Job{ID: "a", Name: "a.csv", State: StatePending, CreatedAt: base}
	newer := &Job{ID: "b", Name: "b.csv", State: StateCompleted, CreatedAt: base.Add(time.Minute),
		Artifacts: map[string]string{"b": "cleaned/b/b.parquet"}, Sheets: []string{"b"}}
	require.NoError(t, s.Put(ctx, older))
	require.NoError(t, s.Put(ctx, newer))

	got, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	key, ok := got.Artifact("")
	require.True(t, ok)
	assert.Equal(t, "cleaned/b/b.parquet", key)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "a", list[1].ID)

	older.State = StateProcessing
	older.Progress = 40
	require.NoError(t, s.Put(ctx, older))
	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, got.State)
	assert.Equal(t, 40.0, got.Progress)

	assert.Error(t, s.Put(ctx, &Job{}))
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore(0))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	j := &Job{ID: "x", Artifacts: map[string]string{"s": "k"}}
	require.NoError(t, s.Put(ctx, j))

	j.Artifacts["s"] = "changed"
	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "k", got.Artifacts["s"])
}

func TestMemoryStoreEviction(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	old := now.Add(-2 * time.Hour)
	require.NoError(t, s.Put(ctx, &Job{ID: "done", State: StateCompleted, CompletedAt: &old}))
	require.NoError(t, s.Put(ctx, &Job{ID: "running", State: StateProcessing}))

	_, err := s.Get(ctx, "done")
	assert.True(t, errors.IsCode(err, errors.CodeJobNotFound))
	_, err = s.Get(ctx, "running")
	assert.NoError(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TABPREP_TEST_REDIS")
	if addr == "" {
		t.Skip("TABPREP_TEST_REDIS not set")
	}
	cfg := DefaultRedisConfig(addr)
	cfg.Prefix = "tabprep:test:" + time.Now().Format("150405.000000") + ":"
	cfg.TTL = time.Minute

	s, err := NewRedisStore(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	storeContract(t, s)
	require.NoError(t, s.Ping(context.Background()))
}

func TestRedisStoreUnreachable(t *testing.T) {
	cfg := DefaultRedisConfig("127.0.0.1:1")
	cfg.Timeout = 200 * time.Millisecond
	_, err := NewRedisStore(context.Background(), cfg)
	assert.True(t, errors.IsCode(err, errors.CodeJobStore))
}

func newRunner(t *testing.T, opts ...Option) (*Runner, *storage.Local) {
	t.Helper()
	artifacts, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	pre := preprocess.New(preprocess.WithLogger(logging.Discard()))
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return NewRunner(pre, NewMemoryStore(0), artifacts, opts...), artifacts
}

func TestRunnerCompletes(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)
	r, artifacts := newRunner(t, WithHook(func(j *Job) {
		mu.Lock()
		states = append(states, j.State)
		mu.Unlock()
	}))
	ctx := context.Background()

	h, err := r.Submit(ctx, Request{Path: writeCSV(t, "orders.csv", ordersCSV)})
	require.NoError(t, err)

	res, job, err := h.Wait(ctx)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, h.ID, res.ID())

	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, "orders.csv", job.Name)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, 3, job.Rows)
	assert.Greater(t, job.QualityScore, 0.0)
	assert.Equal(t, []string{"orders"}, job.Sheets)
	assert.Equal(t, storage.ReportKey(job.ID), job.ReportKey)

	stored, err := r.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stored.State)

	key, ok := stored.Artifact("")
	require.True(t, ok)
	rc, _, err := artifacts.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)

	tbl, err := writer.ReadParquet(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"order_id", "amount", "status"}, tbl.Names())
	assert.Equal(t, "10.5", tbl.Column("amount").Values[0].String())

	ok, err = artifacts.Exists(ctx, job.ReportKey)
	require.NoError(t, err)
	assert.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, StatePending, states[0])
	assert.Contains(t, states, StateProcessing)
	assert.Equal(t, StateCompleted, states[len(states)-1])
}

func TestRunnerFinancial(t *testing.T) {
	r, _ := newRunner(t)
	ctx := context.Background()

	path := writeCSV(t, "balance.csv", "Line,2023\nCash,\"$1,000\"\nTotal,\"$1,000\"\n")
	h, err := r.Submit(ctx, Request{Path: path, Financial: true, Name: "Balance sheet"})
	require.NoError(t, err)

	res, job, err := h.Wait(ctx)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Error)
	assert.True(t, job.Financial)
	assert.Equal(t, "Balance sheet", job.Name)
	assert.NotNil(t, res.Metadata.Financial)
	assert.Contains(t, job.Artifacts, "balance")
}

func TestRunnerIngestionFailure(t *testing.T) {
	r, _ := newRunner(t)
	ctx := context.Background()

	h, err := r.Submit(ctx, Request{Path: filepath.Join(t.TempDir(), "missing.csv")})
	require.NoError(t, err)

	res, job, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, StateFailed, job.State)
	assert.NotEmpty(t, job.Error)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.Artifacts)
	assert.NotEmpty(t, job.ReportKey)
}

func TestRunnerConcurrency(t *testing.T) {
	r, _ := newRunner(t, WithWorkers(2))
	ctx := context.Background()

	var handles []*Handle
	for i := 0; i < 5; i++ {
		h, err := r.Submit(ctx, Request{Path: writeCSV(t, "orders.csv", ordersCSV)})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	r.Wait()

	seen := map[string]bool{}
	for _, h := range handles {
		select {
		case <-h.Done():
		default:
			t.Fatalf("job %s not done after Wait", h.ID)
		}
		_, job, err := h.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, job.State)
		seen[job.ID] = true
	}
	assert.Len(t, seen, 5)

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 5)
}

func TestHandleWaitCanceled(t *testing.T) {
	h := &Handle{ID: "x", done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := h.Wait(ctx)
	assert.True(t, errors.IsCode(err, errors.CodeContextCanceled))
}

func TestRunnerBreakerRejects(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	breaker := resilience.New(resilience.WithMaxInFlight(1))
	r, _ := newRunner(t, WithBreaker(breaker), WithHook(func(j *Job) {
		if j.State == StateProcessing {
			once.Do(func() { close(started) })
			<-release
		}
	}))
	ctx := context.Background()

	first, err := r.Submit(ctx, Request{Path: writeCSV(t, "orders.csv", ordersCSV)})
	require.NoError(t, err)
	<-started

	_, err = r.Submit(ctx, Request{Path: writeCSV(t, "orders.csv", ordersCSV)})
	assert.True(t, errors.IsCode(err, errors.CodeOverloaded))
	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1, "rejected submissions create no job")

	close(release)
	_, job, err := first.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, job.State)
	r.Wait()
	assert.Equal(t, 0, breaker.InFlight())

	_, err = r.Submit(ctx, Request{Path: writeCSV(t, "orders.csv", ordersCSV)})
	assert.NoError(t, err)
	r.Wait()
}
