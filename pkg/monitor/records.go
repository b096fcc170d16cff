package monitor

import (
	"time"

	"github.com/logflow/tabprep/internal/model"
)

// NodeState is the lifecycle state of a pipeline node.
type NodeState string

const (
	NodeStarted   NodeState = "started"
	NodeCompleted NodeState = "completed"
	NodeFailed    NodeState = "failed"
)

// RunState is the lifecycle state of a whole run.
type RunState string

const (
	RunPending    RunState = "pending"
	RunProcessing RunState = "processing"
	RunCompleted  RunState = "completed"
	RunFailed     RunState = "failed"
)

// Recovery and severity values used in error records.
const (
	RecoveryContinue = "best_effort_continuation"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
)

// NodeStatus tracks one stage of the chain.
type NodeStatus struct {
	Name         string        `json:"name"`
	Status       NodeState     `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	MemoryStart  MemoryUsage   `json:"memory_start"`
	MemoryEnd    MemoryUsage   `json:"memory_end"`
	ErrorCount   int           `json:"error_count"`
	WarningCount int           `json:"warning_count"`
	Error        string        `json:"error,omitempty"`
}

// Transformation is one data change recorded in the ledger.
type Transformation struct {
	Node         string    `json:"node"`
	Operation    string    `json:"operation"`
	Column       string    `json:"column,omitempty"`
	Before       []string  `json:"before_sample,omitempty"`
	After        []string  `json:"after_sample,omitempty"`
	RowsAffected int       `json:"rows_affected"`
	Timestamp    time.Time `json:"timestamp"`
}

// ErrorRecord is a stage failure. The run continued past it.
type ErrorRecord struct {
	Node           string    `json:"node"`
	Type           string    `json:"error_type"`
	Message        string    `json:"message"`
	RecoveryAction string    `json:"recovery_action"`
	Severity       string    `json:"severity"`
	Stack          string    `json:"stack,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// WarningRecord is a non-fatal issue raised by a node.
type WarningRecord struct {
	Node            string    `json:"node"`
	Message         string    `json:"message"`
	SuggestedAction string    `json:"suggested_action,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Record is the per-run processing record.
type Record struct {
	ID            string             `json:"processing_id"`
	File          model.FileMetadata `json:"file"`
	State         RunState           `json:"state"`
	StartedAt     time.Time          `json:"started_at"`
	CompletedAt   time.Time          `json:"completed_at,omitempty"`
	TotalDuration time.Duration      `json:"total_duration_ns"`
	Chain         []NodeStatus       `json:"processing_chain"`
	QualityScore  float64            `json:"final_quality_score"`
	Error         string             `json:"error,omitempty"`
	Rows          int                `json:"rows"`
	Columns       int                `json:"columns"`
}

// Audit is the ledger of a run.
type Audit struct {
	Transformations []Transformation `json:"transformations"`
	Errors          []ErrorRecord    `json:"errors"`
	Warnings        []WarningRecord  `json:"warnings"`
	Totals          AuditTotals      `json:"totals"`
}

// AuditTotals counts ledger entries.
type AuditTotals struct {
	Transformations int `json:"transformations"`
	Errors          int `json:"errors"`
	Warnings        int `json:"warnings"`
	Nodes           int `json:"nodes"`
	FailedNodes     int `json:"failed_nodes"`
}

// Report is the finalized output of a monitor.
type Report struct {
	Record Record `json:"record"`
	Audit  Audit  `json:"audit"`
}

// Status is a point-in-time view for pollers.
type Status struct {
	ID          string        `json:"processing_id"`
	State       RunState      `json:"state"`
	CurrentNode string        `json:"current_node,omitempty"`
	Progress    float64       `json:"progress"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Chain       []NodeStatus  `json:"processing_chain"`
	Errors      int           `json:"errors"`
	Warnings    int           `json:"warnings"`
}
