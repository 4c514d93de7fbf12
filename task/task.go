package task

import (
	"errors"
	"time"

	"pdfextract/extract"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Error classification kinds stored on failed tasks.
const (
	KindInvalidDocument  = "invalid_document"
	KindExtractionFailed = "extraction_failed"
	KindTimeout          = "timeout"
)

// Error is the failure payload of a failed task.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

var (
	// ErrNotFound means the referenced task does not exist or has expired.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition means an attempt to mutate an already-terminal
	// task. The first terminal write always wins.
	ErrInvalidTransition = errors.New("task is already in a terminal state")
	// ErrQueueFull is returned at submission time when the queue has
	// reached its configured capacity.
	ErrQueueFull = errors.New("processing queue is full")
)

// Task is one unit of submitted work and its lifecycle record.
//
// Lifecycle: queued -> processing -> completed | failed. Progress is a
// monotonically non-decreasing percentage; 100 only on completion. Result
// and Error are mutually exclusive and absent until a terminal state.
type Task struct {
	ID       string          `json:"id"`
	Filename string          `json:"filename"`
	Size     int64           `json:"size"`
	Status   Status          `json:"status"`
	Progress int             `json:"progress"`
	Message  string          `json:"message"`
	Backend  string          `json:"backend_used,omitempty"`
	Result   *extract.Result `json:"result,omitempty"`
	Error    *Error          `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
