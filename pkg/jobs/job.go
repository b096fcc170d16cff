// Package jobs tracks asynchronous preprocessing runs and persists their
// status so the HTTP API and the watcher can report on them.
package jobs

import (
	"context"
	"maps"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether the job will not change again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is the persisted view of one run.
type Job struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	State       State   `json:"state"`
	Financial   bool    `json:"financial,omitempty"`
	Progress    float64 `json:"progress"`
	CurrentNode string  `json:"current_node,omitempty"`

	QualityScore float64 `json:"quality_score,omitempty"`
	Rows         int     `json:"rows,omitempty"`
	Columns      int     `json:"columns,omitempty"`
	Warnings     int     `json:"warnings,omitempty"`

	// Storage keys of the uploaded input and the produced artifacts.
	InputKey  string            `json:"input_key,omitempty"`
	ReportKey string            `json:"report_key,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
	Sheets    []string          `json:"sheets,omitempty"`

	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	c := *j
	c.Artifacts = maps.Clone(j.Artifacts)
	c.Sheets = append([]string(nil), j.Sheets...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Artifact returns the storage key of a sheet's cleaned output. An empty
// sheet name selects the primary sheet.
func (j *Job) Artifact(sheet string) (string, bool) {
	if sheet == "" && len(j.Sheets) > 0 {
		sheet = j.Sheets[0]
	}
	k, ok := j.Artifacts[sheet]
	return k, ok
}

// Store persists jobs.
type Store interface {
	Put(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// List returns jobs newest first.
	List(ctx context.Context) ([]*Job, error)
	Close() error
}
