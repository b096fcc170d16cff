// Package server exposes the preprocessing pipeline over HTTP: uploads
// become background jobs whose status, report and cleaned data can be
// fetched or streamed.
package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/logflow/tabprep/internal/pool"
	"github.com/logflow/tabprep/pkg/errors"
	"github.com/logflow/tabprep/pkg/ingest"
	"github.com/logflow/tabprep/pkg/jobs"
	"github.com/logflow/tabprep/pkg/logging"
	"github.com/logflow/tabprep/pkg/storage"
	"github.com/logflow/tabprep/pkg/writer"
)

// Config holds HTTP server settings.
type Config struct {
	UploadDir      string
	Ingest         ingest.Options
	RequestTimeout time.Duration
	Version        string
}

// Server handles HTTP requests.
type Server struct {
	cfg    Config
	runner *jobs.Runner
	broker *Broker
	logger *slog.Logger
	router chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds the router. broker should be registered as a hook on runner
// for event streams to receive updates.
func New(runner *jobs.Runner, broker *Broker, cfg Config, opts ...Option) (*Server, error) {
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(os.TempDir(), "tabprep", "uploads")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "create upload directory").WithContext("dir", cfg.UploadDir)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if broker == nil {
		broker = NewBroker()
	}
	s := &Server{
		cfg:    cfg,
		runner: runner,
		broker: broker,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
			r.Post("/upload", s.handleUpload)
			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{id}", s.handleGetJob)
			r.Get("/jobs/{id}/report", s.handleReport)
			r.Get("/jobs/{id}/download", s.handleDownload)
		})
		// Streams outlive the request timeout.
		r.Get("/jobs/{id}/events", s.handleEvents)
	})
	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context(), s.logger).Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

type uploadResponse struct {
	JobID  string     `json:"job_id"`
	Name   string     `json:"name"`
	Size   int64      `json:"size"`
	State  jobs.State `json:"state"`
	Status string     `json:"status_url"`
}

// handleUpload accepts a multipart "file" field and an optional
// "financial" flag, and queues the file for processing.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	opts := s.cfg.Ingest
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = ingest.DefaultMaxFileSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, opts.MaxFileSize+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, errors.FileTooLarge("upload", tooLarge.Limit, opts.MaxFileSize))
			return
		}
		s.writeError(w, r, errors.Wrap(err, errors.CodeParseFailed, "parse multipart upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, errors.New(errors.CodeEmptyInput, "no file provided"))
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if err := ingest.CheckFile(name, header.Size, opts); err != nil {
		s.writeError(w, r, err)
		return
	}
	financial, _ := strconv.ParseBool(r.FormValue("financial"))

	uploadID := uuid.NewString()
	dir := filepath.Join(s.cfg.UploadDir, uploadID)
	local := filepath.Join(dir, name)
	if err := saveUpload(local, file); err != nil {
		os.RemoveAll(dir)
		s.writeError(w, r, err)
		return
	}

	var inputKey string
	if store := s.runner.Artifacts(); store != nil {
		f, err := os.Open(local)
		if err == nil {
			inputKey = storage.UploadKey(uploadID, name)
			err = store.Put(r.Context(), inputKey, f, ingest.ContentType(name))
			f.Close()
		}
		if err != nil {
			os.RemoveAll(dir)
			s.writeError(w, r, err)
			return
		}
	}

	h, err := s.runner.Submit(r.Context(), jobs.Request{
		Path:      local,
		Name:      name,
		InputKey:  inputKey,
		Financial: financial,
	})
	if err != nil {
		os.RemoveAll(dir)
		s.writeError(w, r, err)
		return
	}
	go func() {
		<-h.Done()
		os.RemoveAll(dir)
	}()

	logging.FromContext(r.Context(), s.logger).Info("upload queued",
		"job_id", h.ID,
		"file", name,
		"size", header.Size,
		"financial", financial,
	)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, uploadResponse{
		JobID:  h.ID,
		Name:   name,
		Size:   header.Size,
		State:  jobs.StatePending,
		Status: "/api/jobs/" + h.ID,
	})
}

func saveUpload(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "save upload")
	}
	out, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorage, "save upload")
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return errors.Wrap(err, errors.CodeStorage, "save upload")
	}
	if err := out.Close(); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "save upload")
	}
	return nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.runner.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := list[:0]
		for _, j := range list {
			if string(j.State) == state {
				filtered = append(filtered, j)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	render.JSON(w, r, map[string]any{"jobs": list, "count": len(list)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.runner.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

// finishedJob loads a job and rejects it until it has produced artifacts.
func (s *Server) finishedJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	job, err := s.runner.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	if !job.State.Terminal() {
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, errorBody{Error: "job is still " + string(job.State), Code: "E409"})
		return nil, false
	}
	if s.runner.Artifacts() == nil {
		s.writeError(w, r, errors.New(errors.CodeNotFound, "artifact storage is disabled"))
		return nil, false
	}
	return job, true
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.finishedJob(w, r)
	if !ok {
		return
	}
	if job.ReportKey == "" {
		s.writeError(w, r, errors.New(errors.CodeNotFound, "job has no report"))
		return
	}
	s.stream(w, r, job.ReportKey, writer.ContentTypeJSON, "")
}

// handleDownload serves a sheet's cleaned data as Parquet (default) or CSV.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := s.finishedJob(w, r)
	if !ok {
		return
	}
	sheet := r.URL.Query().Get("sheet")
	key, ok := job.Artifact(sheet)
	if !ok {
		s.writeError(w, r, errors.New(errors.CodeNotFound, "no cleaned data for sheet").WithContext("sheet", sheet))
		return
	}
	base := strings.TrimSuffix(filepath.Base(key), ".parquet")

	switch format := r.URL.Query().Get("format"); format {
	case "", "parquet":
		s.stream(w, r, key, writer.ContentTypeParquet, base+".parquet")
	case "csv":
		s.downloadCSV(w, r, key, base+".csv")
	default:
		s.writeError(w, r, errors.Newf(errors.CodeUnsupportedType, "unsupported download format %q", format))
	}
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, key, ctype, filename string) {
	rc, size, err := s.runner.Artifacts().Get(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", ctype)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("artifact stream interrupted", "key", key, "error", err)
	}
}

func (s *Server) downloadCSV(w http.ResponseWriter, r *http.Request, key, filename string) {
	rc, _, err := s.runner.Artifacts().Get(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		s.writeError(w, r, errors.Wrap(err, errors.CodeStorage, "read artifact"))
		return
	}
	tbl, err := writer.ReadParquet(r.Context(), bytes.NewReader(data))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := writer.WriteCSV(buf, tbl); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", writer.ContentTypeCSV)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(buf.Bytes())
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeJobNotFound, errors.CodeNotFound, errors.CodeFileNotFound:
		return http.StatusNotFound
	case errors.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case errors.CodeUnsupportedType:
		return http.StatusUnsupportedMediaType
	case errors.CodeEmptyInput, errors.CodeParseFailed, errors.CodeEncodingError:
		return http.StatusBadRequest
	case errors.CodeOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).Error("request failed", "path", r.URL.Path, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, errorBody{
		Error:     err.Error(),
		Code:      string(errors.GetCode(err)),
		RequestID: middleware.GetReqID(r.Context()),
	})
}
