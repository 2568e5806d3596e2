package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/audiarr/audiarr/internal/domain"
)

// EventType identifies a task state transition or progress notification.
type EventType string

// Event types emitted by the coordinator and its workers.
const (
	TaskStarted   EventType = "task_started"
	TaskCompleted EventType = "task_completed"
	TaskFailed    EventType = "task_failed"
	TaskCancelled EventType = "task_cancelled"
	TaskPaused    EventType = "task_paused"
	TaskResumed   EventType = "task_resumed"

	// DownloadProgress carries byte counts and a percentage for an
	// acquisition in its transfer stage.
	DownloadProgress EventType = "download_progress"

	// ConversionProgress carries decode position and speed for the
	// conversion currently running.
	ConversionProgress EventType = "conversion_progress"

	// CatalogRefreshed is emitted after a catalog sync finishes; the policy
	// worker reacts to it.
	CatalogRefreshed EventType = "catalog_refreshed"

	// PolicyScanComplete is always emitted when a policy scan ran, with the
	// matched count (possibly zero), so observers can distinguish "ran and
	// found nothing" from "did not run".
	PolicyScanComplete EventType = "policy_scan_complete"
)

// Terminal reports whether t ends a task's lifecycle.
func (t EventType) Terminal() bool {
	switch t {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// TaskEvent is one entry in the event stream downstream consumers observe.
// It carries enough state for a consumer to render status without querying
// back into the coordinator. Events for a given task ID are delivered in the
// order the task's state actually transitioned; no ordering is guaranteed
// across different task IDs.
type TaskEvent struct {
	// ID is a unique identifier for this event.
	ID uuid.UUID `json:"id"`

	// Type indicates what happened.
	Type EventType `json:"type"`

	// TaskID is the subject task, empty for events not tied to one task
	// (e.g. CatalogRefreshed).
	TaskID string `json:"task_id,omitempty"`

	// Task is a snapshot of the subject task at emission time.
	Task *domain.Task `json:"task,omitempty"`

	// Progress is set on DownloadProgress and ConversionProgress events.
	Progress *Progress `json:"progress,omitempty"`

	// Err carries the failure message on TaskFailed.
	Err string `json:"error,omitempty"`

	// OccurredAt is the emission timestamp.
	OccurredAt time.Time `json:"occurred_at"`
}

// Progress describes how far along a long-running stage is.
type Progress struct {
	BytesDone  int64   `json:"bytes_done,omitempty"`
	BytesTotal int64   `json:"bytes_total,omitempty"`
	Percentage float64 `json:"percentage"`

	// Conversion-only fields.
	CurrentTimeMs int64   `json:"current_time_ms,omitempty"`
	DurationMs    int64   `json:"duration_ms,omitempty"`
	SpeedRatio    float64 `json:"speed_ratio,omitempty"`
}

// New creates a TaskEvent of the given type for a task snapshot.
func New(eventType EventType, task *domain.Task) TaskEvent {
	ev := TaskEvent{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
	if task != nil {
		snapshot := task.Clone()
		ev.TaskID = snapshot.ID
		ev.Task = &snapshot
		ev.Err = snapshot.Error
	}
	return ev
}
