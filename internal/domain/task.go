package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task-specific validation errors
var (
	// ErrTaskIDEmpty is returned when a task ID is empty.
	ErrTaskIDEmpty = errors.New("task ID cannot be empty")

	// ErrTaskClassInvalid is returned when a task class is not one of the
	// known classes.
	ErrTaskClassInvalid = errors.New("task class is not valid")

	// ErrTaskTerminal is returned when a transition is attempted out of a
	// terminal status.
	ErrTaskTerminal = errors.New("task is in a terminal status")

	// ErrTaskTransitionInvalid is returned when a status transition does not
	// follow the task state machine.
	ErrTaskTransitionInvalid = errors.New("invalid task status transition")
)

// TaskClass identifies which worker handles a task and which admission rule
// applies to it.
type TaskClass string

// Known task classes.
const (
	ClassAcquisition       TaskClass = "acquisition"
	ClassCredentialRefresh TaskClass = "credential_refresh"
	ClassCatalogSync       TaskClass = "catalog_sync"
	ClassPolicyScan        TaskClass = "policy_scan"
)

// Valid reports whether c is a known task class.
func (c TaskClass) Valid() bool {
	switch c {
	case ClassAcquisition, ClassCredentialRefresh, ClassCatalogSync, ClassPolicyScan:
		return true
	}
	return false
}

// TaskStatus represents the current state of a task.
type TaskStatus string

// Possible task status values.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether s is a terminal status. Tasks never transition out
// of a terminal status; a retry is a new task sharing the business key.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// validTransitions encodes the task state machine. A task may cycle between
// running and paused any number of times before exactly one terminal
// transition.
var validTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning: {
		TaskStatusPaused,
		TaskStatusCompleted,
		TaskStatusFailed,
		TaskStatusCancelled,
	},
	TaskStatusPaused: {TaskStatusRunning, TaskStatusCompleted, TaskStatusCancelled},
}

// CanTransition reports whether a task may move from s to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Default priorities per class. Lower value is served first; a user-initiated
// acquisition always ranks above recurring work.
const (
	PriorityUserAcquisition   = 10
	PriorityPolicyAcquisition = 50
	PriorityRecurring         = 100
)

// Task is one schedulable unit of orchestrated work. The identity fields are
// immutable after construction; status, metadata, and the timestamps mutate as
// the owning worker drives the task through its pipeline. Access to a live
// task is mediated by the coordinator, which hands observers defensive copies.
type Task struct {
	ID        string     `json:"id"`
	Class     TaskClass  `json:"class"`
	Priority  int        `json:"priority"`
	Status    TaskStatus `json:"status"`
	Meta      Metadata   `json:"meta,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
	Error     string     `json:"error,omitempty"`
}

// NewTaskID derives a task identity from the class and business key plus a
// unique suffix. Deduplication of live work happens at the coordinator by
// class and business key; the suffix keeps retired attempts for the same
// item distinct in history, since a retry is a new task, not a resurrection
// of the old ID.
func NewTaskID(class TaskClass, businessKey string) string {
	return fmt.Sprintf("%s:%s:%s", class, businessKey, uuid.NewString()[:8])
}

// NewTask creates a pending Task for the given class and business key.
// Returns an error if validation fails.
func NewTask(class TaskClass, businessKey string, priority int, meta Metadata) (*Task, error) {
	t := &Task{
		ID:        NewTaskID(class, businessKey),
		Class:     class,
		Priority:  priority,
		Status:    TaskStatusPending,
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks the task's identity fields.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrTaskIDEmpty
	}
	if !t.Class.Valid() {
		return ErrTaskClassInvalid
	}
	return nil
}

// Transition moves the task to next, recording timestamps on entry to running
// and on the terminal transition. It rejects moves that do not follow the
// state machine.
func (t *Task) Transition(next TaskStatus) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTaskTerminal, t.Status)
	}
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrTaskTransitionInvalid, t.Status, next)
	}

	now := time.Now().UTC()
	if next == TaskStatusRunning && t.StartedAt.IsZero() {
		t.StartedAt = now
	}
	if next.Terminal() {
		t.EndedAt = now
	}
	t.Status = next
	return nil
}

// Fail marks the task failed with the given cause. The first recorded cause
// wins; later calls do not overwrite it.
func (t *Task) Fail(err error) {
	if t.Error == "" && err != nil {
		t.Error = err.Error()
	}
	// Ignore the transition error here: Fail is only called by the owning
	// worker while the task is non-terminal.
	_ = t.Transition(TaskStatusFailed)
}

// Clone returns a defensive copy safe to hand to observers.
func (t *Task) Clone() Task {
	out := *t
	if t.Meta != nil {
		out.Meta = t.Meta.clone()
	}
	return out
}

// BusinessKey returns the class-specific business identity of the task, or ""
// when the task carries no metadata.
func (t *Task) BusinessKey() string {
	if t.Meta == nil {
		return ""
	}
	return t.Meta.BusinessKey()
}
