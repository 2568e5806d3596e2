// Package convert implements the CPU-bound decrypt/transcode queue. It is
// strictly single-concurrency and independent of the download pipeline, so a
// slow conversion never blocks concurrent transfers while conversions
// themselves serialize.
package convert

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by the conversion queue.
var (
	// ErrSubTaskUnknown is returned for operations on an unknown sub-task ID.
	ErrSubTaskUnknown = errors.New("conversion sub-task not found")

	// ErrQueueStopped is returned when work is submitted after Stop.
	ErrQueueStopped = errors.New("conversion queue is stopped")
)

// Status is the lifecycle state of one conversion sub-task.
type Status string

// Conversion sub-task statuses.
const (
	StatusQueued     Status = "queued"
	StatusConverting Status = "converting"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Spec describes one conversion to enqueue.
type Spec struct {
	ItemID     string
	Title      string
	InputPath  string
	OutputPath string

	// Key and IV are the decryption parameters obtained during license
	// negotiation, passed through to the external tool.
	Key string
	IV  string
}

// SubTask is the persisted record of one conversion.
type SubTask struct {
	ID         string
	ItemID     string
	Title      string
	InputPath  string
	OutputPath string
	Key        string
	IV         string
	Status     Status
	PositionMs int64
	DurationMs int64
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Progress reports how far the running conversion has decoded.
type Progress struct {
	CurrentTimeMs int64   `json:"current_time_ms"`
	DurationMs    int64   `json:"duration_ms"`
	SpeedRatio    float64 `json:"speed_ratio"`
}

// ProgressFunc receives coalesced progress updates for a sub-task, at most
// one per second.
type ProgressFunc func(subTaskID string, p Progress)

// Store persists conversion sub-tasks across process restarts.
type Store interface {
	// Save inserts a new sub-task.
	Save(ctx context.Context, st *SubTask) error

	// Update rewrites the mutable fields of a sub-task.
	Update(ctx context.Context, st *SubTask) error

	// Get returns one sub-task by ID.
	Get(ctx context.Context, id string) (*SubTask, error)

	// NextQueued returns the oldest queued sub-task, or store.ErrNotFound
	// when none is waiting.
	NextQueued(ctx context.Context) (*SubTask, error)

	// DemoteConverting resets any sub-task left in StatusConverting back to
	// StatusQueued. A converting row can only exist after process death;
	// the work did not survive it.
	DemoteConverting(ctx context.Context) (int64, error)

	// List returns all sub-tasks, oldest first.
	List(ctx context.Context) ([]*SubTask, error)
}

// Converter invokes the external decrypt/transcode tool. The call blocks
// until the tool exits; cancellation of ctx kills the tool. The progress
// callback may fire at the tool's native frequency; the queue coalesces it
// before it reaches observers.
type Converter interface {
	Convert(ctx context.Context, st *SubTask, progress func(Progress)) error
}
