// Package monitor records the execution of a processing run: the chain of
// pipeline nodes with timing and memory, plus an audit ledger of
// transformations, errors and warnings. Each node is traced as an
// OpenTelemetry span.
package monitor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/errors"
)

const tracerName = "github.com/logflow/tabprep/pkg/monitor"

// Monitor tracks one processing run. Node transitions come from a single
// writer; Status may be called concurrently from any goroutine.
type Monitor struct {
	mu sync.RWMutex

	rec             Record
	transformations []Transformation
	errs            []ErrorRecord
	warnings        []WarningRecord
	expectedNodes   int
	current         string
	report          *Report

	tracer   trace.Tracer
	rootSpan trace.Span
	hook     func(NodeStatus)
	logger   *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Monitor) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithNodeHook registers a callback invoked on every node transition.
// It runs synchronously and must not call back into the monitor.
func WithNodeHook(fn func(NodeStatus)) Option {
	return func(m *Monitor) { m.hook = fn }
}

// WithExpectedNodes sets the chain length used for progress reporting.
func WithExpectedNodes(n int) Option {
	return func(m *Monitor) { m.expectedNodes = n }
}

// WithID sets the processing ID instead of generating one.
func WithID(id string) Option {
	return func(m *Monitor) {
		if id != "" {
			m.rec.ID = id
		}
	}
}

// New creates a monitor for a run over the given file.
func New(meta model.FileMetadata, opts ...Option) *Monitor {
	m := &Monitor{
		rec: Record{
			ID:    uuid.NewString(),
			File:  meta,
			State: RunPending,
		},
		tracer: otel.Tracer(tracerName),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("processing_id", m.rec.ID)
	return m
}

// ID returns the processing ID.
func (m *Monitor) ID() string {
	return m.rec.ID
}

// Start marks the run as processing and opens the root span. The returned
// context carries the span for child nodes.
func (m *Monitor) Start(ctx context.Context) context.Context {
	ctx, span := m.tracer.Start(ctx, "tabprep.process",
		trace.WithAttributes(
			attribute.String("tabprep.processing_id", m.rec.ID),
			attribute.String("tabprep.file", m.rec.File.Name),
			attribute.Int64("tabprep.file_size", m.rec.File.Size),
		))

	m.mu.Lock()
	m.rootSpan = span
	m.rec.State = RunProcessing
	m.rec.StartedAt = time.Now()
	m.mu.Unlock()

	m.logger.Info("processing started", "file", m.rec.File.Name, "size", m.rec.File.Size)
	return ctx
}

// Node is the handle of a running node.
type Node struct {
	name  string
	index int
	ctx   context.Context
	span  trace.Span
}

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// Context returns a context carrying the node span.
func (n *Node) Context() context.Context { return n.ctx }

// StartNode appends a node to the chain in the started state.
func (m *Monitor) StartNode(ctx context.Context, name string) *Node {
	ctx, span := m.tracer.Start(ctx, name)
	status := NodeStatus{
		Name:        name,
		Status:      NodeStarted,
		StartedAt:   time.Now(),
		MemoryStart: ReadMemory(),
	}

	m.mu.Lock()
	m.rec.Chain = append(m.rec.Chain, status)
	idx := len(m.rec.Chain) - 1
	m.current = name
	m.mu.Unlock()

	m.logger.Debug("node started", "node", name)
	m.notify(status)
	return &Node{name: name, index: idx, ctx: ctx, span: span}
}

// CompleteNode closes a node. A non-nil err marks it failed and adds an
// error record; the run is expected to continue.
func (m *Monitor) CompleteNode(n *Node, err error) {
	now := time.Now()
	mem := ReadMemory()

	m.mu.Lock()
	status := &m.rec.Chain[n.index]
	status.CompletedAt = now
	status.Duration = now.Sub(status.StartedAt)
	status.MemoryEnd = mem
	status.Status = NodeCompleted
	if err != nil {
		status.Status = NodeFailed
		status.ErrorCount++
		status.Error = err.Error()
		m.errs = append(m.errs, errorRecord(n.name, err, now))
	}
	m.current = ""
	snapshot := *status
	m.mu.Unlock()

	if err != nil {
		n.span.RecordError(err)
		n.span.SetStatus(codes.Error, err.Error())
		m.logger.Error("node failed", "node", n.name, "error", err, "duration", snapshot.Duration)
	} else {
		n.span.SetStatus(codes.Ok, "")
		m.logger.Info("node completed", "node", n.name, "duration", snapshot.Duration)
	}
	n.span.SetAttributes(
		attribute.Int64("tabprep.duration_ms", snapshot.Duration.Milliseconds()),
		attribute.Int("tabprep.warnings", snapshot.WarningCount),
	)
	n.span.End()
	m.notify(snapshot)
}

func errorRecord(node string, err error, at time.Time) ErrorRecord {
	rec := ErrorRecord{
		Node:           node,
		Type:           fmt.Sprintf("%T", err),
		Message:        err.Error(),
		RecoveryAction: RecoveryContinue,
		Severity:       SeverityMedium,
		Timestamp:      at,
	}
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		rec.Type = string(code)
	}
	if errors.IsCode(err, errors.CodePanic) {
		rec.Severity = SeverityHigh
		var e *errors.Error
		if stderrors.As(err, &e) {
			rec.Stack = e.FormatStack()
		}
	}
	return rec
}

func (m *Monitor) notify(s NodeStatus) {
	if m.hook != nil {
		m.hook(s)
	}
}

// LogTransformation appends a transformation to the ledger.
func (m *Monitor) LogTransformation(t Transformation) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.transformations = append(m.transformations, t)
	m.mu.Unlock()
}

// LogWarning appends a warning and counts it on the most recent node of
// that name.
func (m *Monitor) LogWarning(node, message, suggestedAction string) {
	m.mu.Lock()
	m.warnings = append(m.warnings, WarningRecord{
		Node:            node,
		Message:         message,
		SuggestedAction: suggestedAction,
		Timestamp:       time.Now(),
	})
	for i := len(m.rec.Chain) - 1; i >= 0; i-- {
		if m.rec.Chain[i].Name == node {
			m.rec.Chain[i].WarningCount++
			break
		}
	}
	m.mu.Unlock()
}

// SetFile replaces the file metadata, for runs that learn it only after
// ingestion.
func (m *Monitor) SetFile(meta model.FileMetadata) {
	m.mu.Lock()
	m.rec.File = meta
	m.mu.Unlock()
}

// SetDatasetSize records the shape of the processed table.
func (m *Monitor) SetDatasetSize(rows, cols int) {
	m.mu.Lock()
	m.rec.Rows, m.rec.Columns = rows, cols
	m.mu.Unlock()
}

// Status returns a consistent snapshot of the run.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{
		ID:          m.rec.ID,
		State:       m.rec.State,
		CurrentNode: m.current,
		Chain:       slices.Clone(m.rec.Chain),
		Errors:      len(m.errs),
		Warnings:    len(m.warnings),
	}
	if !m.rec.StartedAt.IsZero() {
		s.Elapsed = time.Since(m.rec.StartedAt)
	}

	done := 0
	for _, n := range m.rec.Chain {
		if n.Status != NodeStarted {
			done++
		}
	}
	switch {
	case m.rec.State == RunCompleted:
		s.Progress = 100
	case m.expectedNodes > 0:
		s.Progress = min(100, float64(done)/float64(m.expectedNodes)*100)
	}
	return s
}

// Finalize closes the run as completed and returns its report. Only the
// first call to Finalize or Fail has any effect; later calls return the
// same report.
func (m *Monitor) Finalize(qualityScore float64) *Report {
	return m.finalize(RunCompleted, qualityScore, nil)
}

// Fail closes the run as failed with a zero quality score.
func (m *Monitor) Fail(err error) *Report {
	return m.finalize(RunFailed, 0, err)
}

func (m *Monitor) finalize(state RunState, qualityScore float64, cause error) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.report != nil {
		return m.report
	}

	now := time.Now()
	m.rec.State = state
	if cause != nil {
		m.rec.Error = cause.Error()
	}
	m.rec.CompletedAt = now
	if m.rec.StartedAt.IsZero() {
		m.rec.StartedAt = now
	}
	m.rec.TotalDuration = now.Sub(m.rec.StartedAt)
	m.rec.QualityScore = qualityScore

	failed := 0
	for _, n := range m.rec.Chain {
		if n.Status == NodeFailed {
			failed++
		}
	}

	rec := m.rec
	rec.Chain = slices.Clone(m.rec.Chain)
	m.report = &Report{
		Record: rec,
		Audit: Audit{
			Transformations: slices.Clone(m.transformations),
			Errors:          slices.Clone(m.errs),
			Warnings:        slices.Clone(m.warnings),
			Totals: AuditTotals{
				Transformations: len(m.transformations),
				Errors:          len(m.errs),
				Warnings:        len(m.warnings),
				Nodes:           len(m.rec.Chain),
				FailedNodes:     failed,
			},
		},
	}

	if m.rootSpan != nil {
		m.rootSpan.SetAttributes(
			attribute.Float64("tabprep.quality_score", qualityScore),
			attribute.Int("tabprep.errors", len(m.errs)),
		)
		if cause != nil {
			m.rootSpan.RecordError(cause)
			m.rootSpan.SetStatus(codes.Error, cause.Error())
		}
		m.rootSpan.End()
	}

	m.logger.Info("processing finalized",
		"state", string(state),
		"duration", m.rec.TotalDuration,
		"quality_score", qualityScore,
		"errors", len(m.errs),
		"warnings", len(m.warnings))
	return m.report
}
