package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/tabprep/pkg/errors"
	"github.com/logflow/tabprep/pkg/ingest"
	"github.com/logflow/tabprep/pkg/jobs"
	"github.com/logflow/tabprep/pkg/logging"
	"github.com/logflow/tabprep/pkg/preprocess"
	"github.com/logflow/tabprep/pkg/storage"
	"github.com/logflow/tabprep/pkg/writer"
)

const ordersCSV = "order_id,amount,status\nA-1,$10.50,open\nA-2,$7.25,closed\nA-3,$3.00,open\n"

type fixture struct {
	srv    *Server
	runner *jobs.Runner
	broker *Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	artifacts, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	broker := NewBroker()
	runner := jobs.NewRunner(
		preprocess.New(preprocess.WithLogger(logging.Discard())),
		jobs.NewMemoryStore(0),
		artifacts,
		jobs.WithLogger(logging.Discard()),
		jobs.WithHook(broker.Publish),
	)
	srv, err := New(runner, broker, Config{
		UploadDir: t.TempDir(),
		Ingest:    ingest.Options{MaxFileSize: 1 << 20},
		Version:   "test",
	}, WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(runner.Wait)
	return &fixture{srv: srv, runner: runner, broker: broker}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, name, body string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (f *fixture) upload(t *testing.T, name, body string) string {
	t.Helper()
	w := f.do(t, uploadRequest(t, name, body, nil))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	return resp.JobID
}

func (f *fixture) waitDone(t *testing.T, id string) *jobs.Job {
	t.Helper()
	var job *jobs.Job
	require.Eventually(t, func() bool {
		j, err := f.runner.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.State.Terminal()
	}, 10*time.Second, 10*time.Millisecond)
	return job
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test", resp["version"])
	assert.NotEmpty(t, w.Header().Get("Content-Type"))
}

func TestUploadAndFetch(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "orders.csv", ordersCSV)
	job := f.waitDone(t, id)
	require.Equal(t, jobs.StateCompleted, job.State, job.Error)
	assert.Equal(t, "orders.csv", job.Name)
	assert.NotEmpty(t, job.InputKey)

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got jobs.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, 3, got.Rows)

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Jobs  []jobs.Job `json:"jobs"`
		Count int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs?state=failed", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Zero(t, list.Count)

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id+"/report", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var report map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "success", report["status"])
	assert.Contains(t, report, "quality")
	assert.Contains(t, report, "audit")

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id+"/download", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, writer.ContentTypeParquet, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "orders.parquet")
	tbl, err := writer.ReadParquet(context.Background(), bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.NumRows())

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id+"/download?format=csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Equal(t, "order_id,amount,status", lines[0])
	assert.Equal(t, "A-1,10.5,open", lines[1])

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id+"/download?format=xml", nil))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id+"/download?sheet=nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadRejected(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"unsupported type", uploadRequest(t, "data.json", "{}", nil), http.StatusUnsupportedMediaType, "E103"},
		{"legacy excel", uploadRequest(t, "data.xls", "x", nil), http.StatusUnsupportedMediaType, "E103"},
		{"too large", uploadRequest(t, "big.csv", strings.Repeat("a,b\n", 3<<17), nil), http.StatusRequestEntityTooLarge, "E102"},
		{"no file", func() *http.Request {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			mw.WriteField("financial", "true")
			mw.Close()
			req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			return req
		}(), http.StatusBadRequest, "E105"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.req)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.RequestID)
		})
	}

	list, err := f.runner.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFailedJobStillHasReport(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "empty.csv", "")
	job := f.waitDone(t, id)
	require.Equal(t, jobs.StateFailed, job.State)
	assert.NotEmpty(t, job.Error)

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id+"/report", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status": "failed"`)

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id+"/download", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFinancialUpload(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, uploadRequest(t, "balance.csv", "Line,2023\nCash,\"$1,000\"\nTotal,\"$1,000\"\n", map[string]string{"financial": "true"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	job := f.waitDone(t, resp.JobID)
	require.Equal(t, jobs.StateCompleted, job.State, job.Error)
	assert.True(t, job.Financial)
}

func TestUnknownJob(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/report", "/api/jobs/nope/download", "/api/jobs/nope/events"} {
		w := f.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestPendingJobConflict(t *testing.T) {
	f := newFixture(t)
	job := &jobs.Job{ID: "queued", State: jobs.StatePending, CreatedAt: time.Now()}
	store := jobs.NewMemoryStore(0)
	require.NoError(t, store.Put(context.Background(), job))

	runner := jobs.NewRunner(preprocess.New(), store, f.runner.Artifacts(), jobs.WithLogger(logging.Discard()))
	srv, err := New(runner, nil, Config{UploadDir: t.TempDir()}, WithLogger(logging.Discard()))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs/queued/report", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "orders.csv", ordersCSV)
	f.waitDone(t, id)

	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/jobs/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	assert.Equal(t, []string{EventInit}, events)
}

func TestBrokerPublish(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("j1")
	assert.Equal(t, 1, b.Subscribers("j1"))

	b.Publish(&jobs.Job{ID: "other", State: jobs.StateProcessing})
	for i := 0; i < 40; i++ {
		b.Publish(&jobs.Job{ID: "j1", State: jobs.StateProcessing, Progress: float64(i)})
	}
	b.Publish(&jobs.Job{ID: "j1", State: jobs.StateCompleted})

	var names []string
	for len(ch) > 0 {
		names = append(names, (<-ch).Name)
	}
	require.NotEmpty(t, names)
	assert.LessOrEqual(t, len(names), 16)
	assert.Equal(t, EventComplete, names[len(names)-1])

	b.Unsubscribe("j1", ch)
	b.Unsubscribe("j1", ch)
	assert.Zero(t, b.Subscribers("j1"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code errors.Code
		want int
	}{
		{errors.CodeJobNotFound, http.StatusNotFound},
		{errors.CodeFileTooLarge, http.StatusRequestEntityTooLarge},
		{errors.CodeUnsupportedType, http.StatusUnsupportedMediaType},
		{errors.CodeEmptyInput, http.StatusBadRequest},
		{errors.CodeOverloaded, http.StatusServiceUnavailable},
		{errors.CodeStorage, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(errors.New(tt.code, "x")))
		})
	}
}
